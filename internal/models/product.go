package models

import "github.com/shopspring/decimal"

// Product is a catalog entry. Order items snapshot its price at purchase
// time, so later price edits never rewrite order history.
type Product struct {
	BaseModel
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2)" json:"price"`
	ImageURL    string          `json:"image_url"`
}
