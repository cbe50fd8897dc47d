// Package catalog owns the coffee-catalog orchestration: uniqueness and
// existence checks, tag normalization on the way in, and response shaping on
// the way out. Persistence is behind the Store interface so the hosting
// process decides the handle's lifecycle.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arawak/cortado/internal/store"
)

type Store interface {
	CreateCoffee(ctx context.Context, in store.CoffeeCreate) (*store.Coffee, error)
	GetCoffee(ctx context.Context, id string) (*store.Coffee, error)
	GetCoffeeByName(ctx context.Context, name string) (*store.Coffee, error)
	ListCoffees(ctx context.Context) ([]store.Coffee, error)
	UpdateCoffee(ctx context.Context, id string, upd store.CoffeeUpdate) (*store.Coffee, error)
	DeleteCoffee(ctx context.Context, id string) error
	SearchCoffees(ctx context.Context, f store.Filter, limit, offset int) ([]store.Coffee, int, error)
}

type Service struct {
	store Store
}

func NewService(st Store) *Service {
	return &Service{store: st}
}

type CreateInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
	Tags        []string
}

type UpdateInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	ImageURL    *string
	Tags        *[]string
}

type SearchInput struct {
	StartDate *time.Time
	EndDate   *time.Time
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Name      string
	Tags      []string
	Limit     int
	Offset    int
}

type TagView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CoffeeView is the mutation/search shape: tags flattened to their names.
type CoffeeView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	ImageURL    string      `json:"imageUrl"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Tags        []string    `json:"tags"`
}

// CoffeeDetail is the read shape: tags as {id,name} objects. The asymmetry
// with CoffeeView is deliberate wire compatibility; see DESIGN.md.
type CoffeeDetail struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	ImageURL    string      `json:"imageUrl"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Tags        []TagView   `json:"tags"`
}

type MutationResult struct {
	CoffeeView
	Message string `json:"message"`
}

type RemoveResult struct {
	Coffee  CoffeeDetail `json:"coffee"`
	Message string       `json:"message"`
}

type Pagination struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	TotalCount int  `json:"totalCount"`
	HasMore    bool `json:"hasMore"`
}

type SearchResult struct {
	Data       []CoffeeView `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Create adds a coffee with its (normalized) tags. The name must not already
// exist; the check here gives a clean error and the unique index on the name
// column backs it up under races.
func (s *Service) Create(ctx context.Context, in CreateInput) (*MutationResult, error) {
	if _, err := s.store.GetCoffeeByName(ctx, in.Name); err == nil {
		return nil, store.ErrDuplicateName
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	coffee, err := s.store.CreateCoffee(ctx, store.CoffeeCreate{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		ImageURL:    in.ImageURL,
		Tags:        store.NormalizeTags(in.Tags),
	})
	if err != nil {
		return nil, err
	}
	return &MutationResult{CoffeeView: toView(coffee), Message: "coffee created successfully"}, nil
}

func (s *Service) FindAll(ctx context.Context) ([]CoffeeDetail, error) {
	coffees, err := s.store.ListCoffees(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CoffeeDetail, len(coffees))
	for i := range coffees {
		out[i] = toDetail(&coffees[i])
	}
	return out, nil
}

func (s *Service) FindOne(ctx context.Context, id string) (*CoffeeDetail, error) {
	coffee, err := s.store.GetCoffee(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := toDetail(coffee)
	return &detail, nil
}

// Update replaces the tag set when Tags is present in the input and patches
// whichever scalar fields were sent. The store runs both under one
// transaction, links first.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*MutationResult, error) {
	if _, err := s.store.GetCoffee(ctx, id); err != nil {
		return nil, err
	}

	upd := store.CoffeeUpdate{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		ImageURL:    in.ImageURL,
	}
	if in.Tags != nil {
		normalized := store.NormalizeTags(*in.Tags)
		upd.Tags = &normalized
	}

	coffee, err := s.store.UpdateCoffee(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	return &MutationResult{CoffeeView: toView(coffee), Message: "coffee updated successfully"}, nil
}

// Remove deletes the coffee and returns the pre-delete snapshot. Tag links go
// with it; tag rows stay.
func (s *Service) Remove(ctx context.Context, id string) (*RemoveResult, error) {
	coffee, err := s.store.GetCoffee(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCoffee(ctx, id); err != nil {
		return nil, err
	}
	return &RemoveResult{Coffee: toDetail(coffee), Message: "coffee deleted successfully"}, nil
}

func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	f := store.Filter{
		CreatedFrom:  in.StartDate,
		CreatedTo:    in.EndDate,
		MinPrice:     in.MinPrice,
		MaxPrice:     in.MaxPrice,
		NameContains: in.Name,
		Tags:         store.NormalizeTags(in.Tags),
	}

	coffees, total, err := s.store.SearchCoffees(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}

	data := make([]CoffeeView, len(coffees))
	for i := range coffees {
		data[i] = toView(&coffees[i])
	}
	return &SearchResult{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			Offset:     offset,
			TotalCount: total,
			HasMore:    offset+len(data) < total,
		},
	}, nil
}

func toView(c *store.Coffee) CoffeeView {
	names := make([]string, len(c.Tags))
	for i, t := range c.Tags {
		names[i] = t.Name
	}
	return CoffeeView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Price:       json.Number(c.Price.String()),
		ImageURL:    c.ImageURL,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Tags:        names,
	}
}

func toDetail(c *store.Coffee) CoffeeDetail {
	tags := make([]TagView, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = TagView{ID: t.ID, Name: t.Name}
	}
	return CoffeeDetail{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Price:       json.Number(c.Price.String()),
		ImageURL:    c.ImageURL,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Tags:        tags,
	}
}
