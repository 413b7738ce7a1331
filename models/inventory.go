package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/maybewear/shop_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryItem is one stock row. ID is the collapsed item identity
// ("category-color-size"); Stock never goes negative.
type InventoryItem struct {
	ID    string `gorm:"primaryKey;size:64" json:"id"`
	Stock int64  `gorm:"not null" json:"stock"`
}

// ConfirmedOrder is the durable record of a successfully confirmed order.
// One row per ledger order id, written exactly once.
type ConfirmedOrder struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderID     uint64 `gorm:"uniqueIndex;not null" json:"orderId"`
	Email       string `gorm:"size:255;not null" json:"email"`
	AddressJSON []byte `gorm:"type:json" json:"-"`
	ItemsJSON   []byte `gorm:"type:json" json:"-"`
}

// ErrOutOfStock names the first item identity that could not be fulfilled.
type ErrOutOfStock struct {
	ItemID string
}

func (e ErrOutOfStock) Error() string {
	return fmt.Sprintf("out of stock: %s", e.ItemID)
}

// ErrDuplicateOrder signals a repeated confirmation for an already
// settled order id. Safe for the caller to treat as "never retry as-is".
type ErrDuplicateOrder struct {
	OrderID uint64
}

func (e ErrDuplicateOrder) Error() string {
	return fmt.Sprintf("order %d already exists", e.OrderID)
}

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&InventoryItem{},
		&ConfirmedOrder{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

// ConfirmOrder consumes inventory for input and records the confirmed order,
// all inside one transaction. Either every decrement and the order row land,
// or nothing does. The duplicate check runs before any stock is touched so a
// retried confirmation can never double-count inventory.
func ConfirmOrder(db *gorm.DB, input *OrderInput) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var existing ConfirmedOrder
		err := tx.Where("order_id = ?", input.OrderID).Take(&existing).Error
		if err == nil {
			return ErrDuplicateOrder{OrderID: input.OrderID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		required := countByIdentity(input.Items)

		// Deterministic identity order keeps lock acquisition consistent
		// across concurrent confirmations.
		ids := make([]string, 0, len(required))
		for id := range required {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, itemID := range ids {
			qty := required[itemID]
			var row InventoryItem
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", itemID).Take(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOutOfStock{ItemID: itemID}
			}
			if err != nil {
				return err
			}
			if row.Stock < qty {
				return ErrOutOfStock{ItemID: itemID}
			}
		}

		for _, itemID := range ids {
			if err := tx.Model(&InventoryItem{}).
				Where("id = ?", itemID).
				UpdateColumn("stock", gorm.Expr("stock - ?", required[itemID])).Error; err != nil {
				return err
			}
		}

		addressJSON, err := json.Marshal(input.Address)
		if err != nil {
			return err
		}
		itemsJSON, err := json.Marshal(input.Items)
		if err != nil {
			return err
		}
		return tx.Create(&ConfirmedOrder{
			OrderID:     input.OrderID,
			Email:       input.Email,
			AddressJSON: addressJSON,
			ItemsJSON:   itemsJSON,
		}).Error
	})
}

func countByIdentity(items []Item) map[string]int64 {
	counts := make(map[string]int64, len(items))
	for _, item := range items {
		counts[item.ItemID()]++
	}
	return counts
}

// GetStock returns a point-in-time snapshot of identity → remaining stock.
func GetStock(db *gorm.DB) (map[string]int64, error) {
	var rows []InventoryItem
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	stock := make(map[string]int64, len(rows))
	for _, row := range rows {
		stock[row.ID] = row.Stock
	}
	return stock, nil
}

// SeedInventoryFromFile loads the initial stock levels from a JSON file of
// identity → stock. It is a no-op when the table already has rows or the
// file does not exist, so repeated startups never reset live stock.
func SeedInventoryFromFile(db *gorm.DB, path string) error {
	var count int64
	if err := db.Model(&InventoryItem{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var seed map[string]int64
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse inventory seed %s: %w", path, err)
	}

	rows := make([]InventoryItem, 0, len(seed))
	for id, stock := range seed {
		rows = append(rows, InventoryItem{ID: id, Stock: stock})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}
