package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ItemCategory string

const (
	ItemCategoryHoodie  ItemCategory = "hoodie"
	ItemCategoryShirt   ItemCategory = "shirt"
	ItemCategoryJoggers ItemCategory = "joggers"
	ItemCategoryBeanie  ItemCategory = "beanie"
)

type Color string

const (
	ColorStone Color = "stone"
	ColorIce   Color = "ice"
)

type Size string

const (
	SizeS  Size = "S"
	SizeM  Size = "M"
	SizeL  Size = "L"
	SizeXL Size = "XL"
)

// Item is one physical unit of an order. Two items with equal fields are the
// same inventory identity; quantity is expressed by repetition in the list.
type Item struct {
	Category ItemCategory `json:"category" validate:"required,oneof=hoodie shirt joggers beanie"`
	Color    Color        `json:"color" validate:"required,oneof=stone ice"`
	Size     Size         `json:"size" validate:"required,oneof=S M L XL"`
}

// ItemID collapses an item to its inventory identity.
func (i Item) ItemID() string {
	return fmt.Sprintf("%s-%s-%s", i.Category, i.Color, i.Size)
}

type AddressInfo struct {
	FullName   string `json:"fullName" validate:"required,min=1"`
	Address1   string `json:"address1" validate:"required,min=1"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city" validate:"required,min=1"`
	State      string `json:"state" validate:"required,min=1"`
	PostalCode string `json:"postalCode" validate:"required,min=2"`
	Country    string `json:"country" validate:"required,min=2"`
}

// OrderInput is the human-readable order detail a client submits for
// confirmation. It is bound to an on-ledger order by hash equality with that
// order's metadata hash; it is not the cached ledger order itself.
type OrderInput struct {
	OrderID uint64      `json:"orderId" validate:"gte=0"`
	Email   string      `json:"email" validate:"required,email"`
	Address AddressInfo `json:"address" validate:"required"`
	Items   []Item      `json:"items" validate:"required,min=1,dive"`
}

var validate = validator.New()

// ValidateOrderInput rejects structurally invalid payloads before any of the
// settlement checks run. Returns the first validation failure.
func ValidateOrderInput(input *OrderInput) error {
	if err := validate.Struct(input); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("invalid field %s", e.Namespace())
		}
		return err
	}
	return nil
}
