package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/maybewear/shop_backend/chainsync"
	"github.com/maybewear/shop_backend/config"
	"github.com/maybewear/shop_backend/models"
)

const (
	ordersPageSize    = 100
	inventoryCacheKey = "inventory:snapshot"
	inventoryCacheTTL = 5 * time.Second
)

var tracer = otel.Tracer("shop-backend")

// Display vocabulary for the storefront: internal item identities are keyed
// by category/color/size, the client keys by product id and hex swatch.
// Both maps are total over the enums; an identity they cannot translate is a
// configuration error surfaced as a 500, never silently dropped.
var (
	displayProduct = map[models.ItemCategory]string{
		models.ItemCategoryHoodie:  "1",
		models.ItemCategoryShirt:   "2",
		models.ItemCategoryJoggers: "3",
		models.ItemCategoryBeanie:  "4",
	}
	displayColor = map[models.Color]string{
		models.ColorStone: "#1c1917",
		models.ColorIce:   "#e7e5e4",
	}
	displaySize = map[models.Size]bool{
		models.SizeS: true, models.SizeM: true, models.SizeL: true, models.SizeXL: true,
	}
)

type api struct {
	store  chainsync.OrderStore
	logger *logrus.Logger
}

// orderResponse serializes the big integers as decimal strings; the client
// parses them back into bigints without precision loss.
type orderResponse struct {
	ID           uint64 `json:"id"`
	Value        string `json:"value"`
	Price        string `json:"price"`
	Timestamp    string `json:"timestamp"`
	Buyer        string `json:"buyer"`
	Status       string `json:"status"`
	MetadataHash string `json:"metadataHash"`
}

func (a *api) listOrders(c *gin.Context) {
	page := 0
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = n
	}

	orders := a.store.List()
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Timestamp != orders[j].Timestamp {
			return orders[i].Timestamp > orders[j].Timestamp
		}
		return orders[i].ID > orders[j].ID
	})

	// Pages beyond the end are empty. Checking before the multiplication
	// also keeps huge page indexes from overflowing into negative bounds.
	if page > len(orders)/ordersPageSize {
		c.JSON(http.StatusOK, []orderResponse{})
		return
	}
	start := page * ordersPageSize
	if start > len(orders) {
		start = len(orders)
	}
	end := start + ordersPageSize
	if end > len(orders) {
		end = len(orders)
	}

	out := make([]orderResponse, 0, end-start)
	for _, o := range orders[start:end] {
		out = append(out, orderResponse{
			ID:           o.ID,
			Value:        o.Value.String(),
			Price:        o.Price.String(),
			Timestamp:    strconv.FormatInt(o.Timestamp, 10),
			Buyer:        o.Buyer,
			Status:       string(o.Status),
			MetadataHash: o.MetadataHash,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) getInventory(c *gin.Context) {
	if cached, ok, err := config.GetRedisValue(inventoryCacheKey); err == nil && ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}

	stock, err := models.GetStock(config.GetDB())
	if err != nil {
		config.LogError(c.Request.Context(), a.logger, "handlers.go", "getInventory", "models.GetStock", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	display := make(map[string]int64, len(stock))
	for id, remaining := range stock {
		displayID, err := displayIdentity(id)
		if err != nil {
			config.LogError(c.Request.Context(), a.logger, "handlers.go", "getInventory", "displayIdentity", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		display[displayID] = remaining
	}

	if raw, err := json.Marshal(display); err == nil {
		_ = config.SetRedisValue(inventoryCacheKey, string(raw), inventoryCacheTTL)
	}
	c.JSON(http.StatusOK, display)
}

// displayIdentity translates "category-color-size" to the storefront's
// "productId-hexColor-size" vocabulary.
func displayIdentity(itemID string) (string, error) {
	parts := strings.SplitN(itemID, "-", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed item identity %q", itemID)
	}
	product, ok := displayProduct[models.ItemCategory(parts[0])]
	if !ok {
		return "", fmt.Errorf("no display mapping for category %q", parts[0])
	}
	color, ok := displayColor[models.Color(parts[1])]
	if !ok {
		return "", fmt.Errorf("no display mapping for color %q", parts[1])
	}
	if !displaySize[models.Size(parts[2])] {
		return "", fmt.Errorf("no display mapping for size %q", parts[2])
	}
	return fmt.Sprintf("%s-%s-%s", product, color, parts[2]), nil
}

func (a *api) computeHash(c *gin.Context) {
	var input models.OrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := models.ValidateOrderInput(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	digest, err := models.HashOrder(&input)
	if err != nil {
		config.LogError(c.Request.Context(), a.logger, "handlers.go", "computeHash", "models.HashOrder", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.String(http.StatusOK, digest)
}

func (a *api) confirmOrder(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "confirmOrder")
	defer span.End()

	var input models.OrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := models.ValidateOrderInput(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, ok := a.store.Get(input.OrderID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown order %d", input.OrderID)})
		return
	}
	if order.Status == chainsync.OrderStatusPending {
		// No settled outcome yet; the caller can retry after the
		// reconciler resolves the order.
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("order %d is still pending", input.OrderID)})
		return
	}

	digest, err := models.HashOrder(&input)
	if err != nil {
		config.LogError(ctx, a.logger, "handlers.go", "confirmOrder", "models.HashOrder", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if digest != order.MetadataHash {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order hash mismatch"})
		return
	}

	if err := models.ConfirmOrder(config.GetDB().WithContext(ctx), &input); err != nil {
		var dup models.ErrDuplicateOrder
		var oos models.ErrOutOfStock
		switch {
		case errors.As(err, &dup):
			c.JSON(http.StatusConflict, gin.H{"error": dup.Error()})
		case errors.As(err, &oos):
			c.JSON(http.StatusConflict, gin.H{"error": oos.Error()})
		default:
			config.LogError(ctx, a.logger, "handlers.go", "confirmOrder", "models.ConfirmOrder", input.OrderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	// Stock changed; next /inventory read must rebuild the snapshot.
	_ = config.RemoveRedisKey(inventoryCacheKey)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
