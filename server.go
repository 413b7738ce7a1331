package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/maybewear/shop_backend/chainsync"
	"github.com/maybewear/shop_backend/config"
	"github.com/maybewear/shop_backend/models"
	"github.com/maybewear/shop_backend/utils"
)

const defaultPort = "8787"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// SIGTERM/SIGINT drain the server and stop the reconciler.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	store := chainsync.NewMemoryOrderStore()
	handlers := &api{store: store, logger: logger}

	r := gin.New()

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate everything else on database readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; allow all elsewhere.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type")
	corsConfig.AddExposeHeaders("Content-Length")
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	registerRoutes(r, handlers)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server: " + err.Error())
		}
	}()
	logger.Info("listening on :" + port)

	// Dependencies connect after the listener is up; the readiness gate
	// returns 503 until they are.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	seedPath := os.Getenv("INVENTORY_SEED")
	if seedPath == "" {
		seedPath = "./inventory.json"
	}
	if err := models.SeedInventoryFromFile(config.GetDB(), seedPath); err != nil {
		logger.Fatal("seed inventory: " + err.Error())
	}

	secretsPath := os.Getenv("SECRETS_PATH")
	if secretsPath == "" {
		secretsPath = "./secrets.json"
	}
	secrets, err := chainsync.LoadSecrets(secretsPath)
	if err != nil {
		logger.Fatal("load commitment secrets: " + err.Error())
	}

	chainCfg, err := config.ChainConfigFromEnv()
	if err != nil {
		logger.Fatal("chain config: " + err.Error())
	}
	ledger, err := chainsync.NewEthLedger(chainCfg)
	if err != nil {
		logger.Fatal("ledger client: " + err.Error())
	}

	worker := chainsync.NewWorker(ledger, store, secrets, logger)
	if raw := strings.TrimSpace(os.Getenv("SYNC_INTERVAL_SECONDS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			worker.Interval = time.Duration(n) * time.Second
		}
	}

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(sigCtx)
	}()

	select {
	case err := <-workerDone:
		// Only fatal conditions end the worker; the service must not keep
		// accepting confirmations it can never reconcile.
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("reconciler stopped: " + err.Error())
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown: " + err.Error())
	}
	logger.Info("server stopped")
}

func registerRoutes(r *gin.Engine, handlers *api) {
	r.GET("/orders", handlers.listOrders)
	r.GET("/inventory", handlers.getInventory)
	r.POST("/hash", handlers.computeHash)
	r.POST("/confirm", handlers.confirmOrder)
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
