package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arawak/cortado/internal/catalog"
)

// parseSearchInput maps search query parameters onto the service input.
// Absent parameters stay nil/zero so they impose no filter clause.
func parseSearchInput(q url.Values) (*catalog.SearchInput, error) {
	in := &catalog.SearchInput{
		Name: q.Get("name"),
		Tags: q["tags"],
	}

	var err error
	if in.StartDate, err = parseTimeParam(q.Get("startDate"), "startDate"); err != nil {
		return nil, err
	}
	if in.EndDate, err = parseTimeParam(q.Get("endDate"), "endDate"); err != nil {
		return nil, err
	}
	if in.MinPrice, err = parseDecimalParam(q.Get("minPrice"), "minPrice"); err != nil {
		return nil, err
	}
	if in.MaxPrice, err = parseDecimalParam(q.Get("maxPrice"), "maxPrice"); err != nil {
		return nil, err
	}
	if in.Limit, err = parseIntParam(q.Get("limit"), "limit"); err != nil {
		return nil, err
	}
	if in.Offset, err = parseIntParam(q.Get("offset"), "offset"); err != nil {
		return nil, err
	}
	return in, nil
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", name)
}

func parseDecimalParam(v, name string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a decimal number", name)
	}
	return &d, nil
}

func parseIntParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return i, nil
}
