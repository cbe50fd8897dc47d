package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type Coffee struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Price       decimal.Decimal `db:"price"`
	ImageURL    string          `db:"image_url"`
	ImageSHA    string          `db:"image_sha"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	Tags        []Tag           `db:"-"`
}

type Tag struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type CoffeeCreate struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
	Tags        []string
}

// CoffeeUpdate carries optional scalar updates; nil fields are left untouched.
// A non-nil Tags pointer replaces the full tag set, even when empty.
type CoffeeUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	ImageURL    *string
	ImageSHA    *string
	Tags        *[]string
}
