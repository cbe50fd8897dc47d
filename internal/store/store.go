package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("coffee not found")
var ErrDuplicateName = errors.New("coffee name already exists")

const DefaultSearchLimit = 10

const coffeeColumns = "c.id, c.name, c.description, c.price, c.image_url, c.image_sha, c.created_at, c.updated_at"

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateCoffee inserts the coffee row and its tag links in one transaction.
// Tag names must already be canonical; each is created on first use.
func (s *Store) CreateCoffee(ctx context.Context, in CoffeeCreate) (*Coffee, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	query := `INSERT INTO coffee (id, name, description, price, image_url) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, id, in.Name, in.Description, in.Price, in.ImageURL); err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	if err := s.replaceTagsTx(ctx, tx, id, in.Tags); err != nil {
		return nil, err
	}

	coffee, err := s.fetchCoffee(ctx, tx, "c.id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return coffee, nil
}

func (s *Store) GetCoffee(ctx context.Context, id string) (*Coffee, error) {
	return s.fetchCoffee(ctx, nil, "c.id = ?", id)
}

// GetCoffeeByName matches exactly; the name column collates binary, so
// lookups are case-sensitive as stored.
func (s *Store) GetCoffeeByName(ctx context.Context, name string) (*Coffee, error) {
	return s.fetchCoffee(ctx, nil, "c.name = ?", name)
}

func (s *Store) fetchCoffee(ctx context.Context, tx *sqlx.Tx, where string, arg any) (*Coffee, error) {
	query := "SELECT " + coffeeColumns + " FROM coffee c WHERE " + where
	var c Coffee
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &c, query, arg)
	} else {
		err = s.db.GetContext(ctx, &c, query, arg)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, tx, []*Coffee{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCoffees(ctx context.Context) ([]Coffee, error) {
	query := "SELECT " + coffeeColumns + " FROM coffee c ORDER BY c.created_at DESC, c.id"
	var rows []Coffee
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, nil, coffeePtrs(rows)); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateCoffee applies scalar updates and, when upd.Tags is set, replaces the
// full tag set. Link replacement happens before the scalar UPDATE, and both
// run in one transaction so an interrupted update never leaves a half-replaced
// tag set behind. Existence is decided by the reload, not by affected rows:
// MySQL reports zero affected rows for an UPDATE that re-sends identical
// values, which must not read as not-found.
func (s *Store) UpdateCoffee(ctx context.Context, id string, upd CoffeeUpdate) (*Coffee, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if upd.Tags != nil {
		if err := s.replaceTagsTx(ctx, tx, id, *upd.Tags); err != nil {
			return nil, err
		}
	}

	setParts := []string{}
	args := []any{}
	if upd.Name != nil {
		setParts = append(setParts, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		setParts = append(setParts, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Price != nil {
		setParts = append(setParts, "price = ?")
		args = append(args, *upd.Price)
	}
	if upd.ImageURL != nil {
		setParts = append(setParts, "image_url = ?")
		args = append(args, *upd.ImageURL)
	}
	if upd.ImageSHA != nil {
		setParts = append(setParts, "image_sha = ?")
		args = append(args, *upd.ImageSHA)
	}

	if len(setParts) > 0 {
		setParts = append(setParts, "updated_at = NOW()")
		query := "UPDATE coffee SET " + strings.Join(setParts, ", ") + " WHERE id = ?"
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isDuplicate(err) {
				return nil, ErrDuplicateName
			}
			return nil, err
		}
	}

	coffee, err := s.fetchCoffee(ctx, tx, "c.id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return coffee, nil
}

// DeleteCoffee removes the row; coffee_tag links cascade. Tag rows stay
// behind even when orphaned.
func (s *Store) DeleteCoffee(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM coffee WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) replaceTagsTx(ctx context.Context, tx *sqlx.Tx, coffeeID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM coffee_tag WHERE coffee_id = ?", coffeeID); err != nil {
		return err
	}

	for _, t := range tags {
		// Find-or-create: the unique index on tag.name makes this a no-op
		// returning the existing id when the tag already exists, which also
		// absorbs duplicate names within one call and concurrent creates.
		res, err := tx.ExecContext(ctx, "INSERT INTO tag (name) VALUES (?) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)", t)
		if err != nil {
			return err
		}
		tagID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO coffee_tag (coffee_id, tag_id) VALUES (?, ?)", coffeeID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// SearchCoffees returns one page of matches plus the total match count for
// the same predicate, independent of the page window.
func (s *Store) SearchCoffees(ctx context.Context, f Filter, limit, offset int) ([]Coffee, int, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	whereSQL, args := f.whereClause()

	var total int
	countQuery := "SELECT COUNT(*) FROM coffee c WHERE " + whereSQL
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT " + coffeeColumns + " FROM coffee c WHERE " + whereSQL + " ORDER BY c.created_at DESC, c.id LIMIT ? OFFSET ?"
	listArgs := append(append([]any{}, args...), limit, offset)
	var rows []Coffee
	if err := s.db.SelectContext(ctx, &rows, selectQuery, listArgs...); err != nil {
		return nil, 0, err
	}

	if err := s.attachTags(ctx, nil, coffeePtrs(rows)); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *Store) attachTags(ctx context.Context, tx *sqlx.Tx, coffees []*Coffee) error {
	if len(coffees) == 0 {
		return nil
	}
	ids := make([]string, len(coffees))
	index := make(map[string]*Coffee)
	for i, c := range coffees {
		ids[i] = c.ID
		index[c.ID] = c
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := "SELECT ct.coffee_id, t.id, t.name FROM coffee_tag ct JOIN tag t ON t.id = ct.tag_id WHERE ct.coffee_id IN (" + placeholders + ") ORDER BY t.name"
	rows, err := (func() (*sqlx.Rows, error) {
		if tx != nil {
			return tx.QueryxContext(ctx, query, toAny(ids)...)
		}
		return s.db.QueryxContext(ctx, query, toAny(ids)...)
	})()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var coffeeID string
		var tag Tag
		if err := rows.Scan(&coffeeID, &tag.ID, &tag.Name); err != nil {
			return err
		}
		index[coffeeID].Tags = append(index[coffeeID].Tags, tag)
	}
	return rows.Err()
}

// ListTags pages through known tags, optionally by name prefix.
func (s *Store) ListTags(ctx context.Context, prefix string, page, pageSize int) ([]Tag, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	where := ""
	args := []any{}
	if prefix != "" {
		where = "WHERE name LIKE ?"
		args = append(args, escapeLike(NormalizeTag(prefix))+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tag "+where, args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, name FROM tag " + where + " ORDER BY name LIMIT ? OFFSET ?"
	argsWithPaging := append(append([]any{}, args...), pageSize, offset)
	var tags []Tag
	if err := s.db.SelectContext(ctx, &tags, query, argsWithPaging...); err != nil {
		return nil, 0, err
	}
	return tags, total, nil
}

func coffeePtrs(rows []Coffee) []*Coffee {
	ptrs := make([]*Coffee, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	return ptrs
}

func toAny[T comparable](vals []T) []any {
	res := make([]any, len(vals))
	for i, v := range vals {
		res[i] = v
	}
	return res
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
