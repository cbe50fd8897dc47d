package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Filter is the composed search predicate. Every field is optional; absent
// fields contribute no clause, so the zero Filter matches every coffee.
// Clauses combine with AND; the tag clause matches coffees carrying at least
// one of the listed canonical tag names (OR within the set).
type Filter struct {
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	NameContains string
	Tags         []string
}

// whereClause renders the filter as a WHERE fragment over table alias "c"
// plus its bind arguments. Clause order carries no meaning.
func (f Filter) whereClause() (string, []any) {
	where := []string{"1=1"}
	args := []any{}

	if f.CreatedFrom != nil {
		where = append(where, "c.created_at >= ?")
		args = append(args, *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		where = append(where, "c.created_at <= ?")
		args = append(args, *f.CreatedTo)
	}
	if f.MinPrice != nil {
		where = append(where, "c.price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		where = append(where, "c.price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.NameContains != "" {
		// The coffee table collates binary for exact-name uniqueness, so
		// case-insensitivity has to be explicit here.
		where = append(where, "LOWER(c.name) LIKE LOWER(?)")
		args = append(args, "%"+escapeLike(f.NameContains)+"%")
	}
	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")
		where = append(where, "EXISTS (SELECT 1 FROM coffee_tag ct JOIN tag t ON t.id = ct.tag_id WHERE ct.coffee_id = c.id AND t.name IN ("+placeholders+"))")
		for _, t := range f.Tags {
			args = append(args, t)
		}
	}

	return strings.Join(where, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
