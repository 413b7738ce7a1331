package config

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/maybewear/shop_backend/utils"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// LogError emits a structured error record tagged with the failing call site
// and, when the context carries one, the request's correlation id.
func LogError(ctx context.Context, logger *logrus.Logger, moduleName string, funcName string, contextName string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  contextName,
	}
	if data != nil {
		fields["data"] = data
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlationId"] = cid
	}
	logger.WithFields(fields).Error(err.Error())
}
