package args

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
)

// Where is a filter clause over records.
//
// Keys are either plain field names (equality) or suffixed with
// "_contains" (case-sensitive substring) or "_in" (set membership).
// Multiple keys combine with implicit AND. Unknown fields are ignored
// so that old servers tolerate filters of newer clients.
type Where map[string]any

type Ordering string

const (
	Asc  Ordering = "asc"
	Desc Ordering = "desc"
)

type OrderBy struct {
	Field string   `json:"field"`
	Order Ordering `json:"order"`
}

// Pagination carries relay-style cursor arguments.
//
// Forward (First/After) and backward (Last/Before) paging are mutually
// exclusive per call.
type Pagination struct {
	First  *int    `json:"first,omitempty"`
	After  *string `json:"after,omitempty"`
	Last   *int    `json:"last,omitempty"`
	Before *string `json:"before,omitempty"`
}

// ResourceArgs is the common argument shape of every resolver operation:
// {where, orderBy, data} plus pagination.
type ResourceArgs struct {
	Where   Where          `json:"where,omitempty"`
	OrderBy *OrderBy       `json:"orderBy,omitempty"`
	First   *int           `json:"first,omitempty"`
	After   *string        `json:"after,omitempty"`
	Last    *int           `json:"last,omitempty"`
	Before  *string        `json:"before,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Pagination validates and extracts the cursor arguments.
//
// Supplying both a forward and a backward argument is a caller error;
// the message names the first argument found invalid.
func (a ResourceArgs) Pagination() (Pagination, error) {
	p := Pagination{First: a.First, After: a.After, Last: a.Last, Before: a.Before}

	if p.First != nil || p.After != nil {
		if p.Last != nil {
			return Pagination{}, apierr.New(
				apierr.MalformedAttribute,
				`pagination argument "last" may not be combined with "first"/"after"`,
			)
		}
		if p.Before != nil {
			return Pagination{}, apierr.New(
				apierr.MalformedAttribute,
				`pagination argument "before" may not be combined with "first"/"after"`,
			)
		}
	}
	return p, nil
}

// FromQuery reads ResourceArgs out of URL query parameters.
//
// "where" is a JSON object; "orderBy" is "<field>:<asc|desc>";
// first/after/last/before are given as-is.
func FromQuery(q url.Values) (ResourceArgs, error) {
	a := ResourceArgs{}

	if w := q.Get("where"); w != "" {
		if err := json.Unmarshal([]byte(w), &a.Where); err != nil {
			return a, apierr.Wrap(apierr.MalformedAttribute, `query argument "where" is not a JSON object`, err)
		}
	}
	if o := q.Get("orderBy"); o != "" {
		field, order, _ := strings.Cut(o, ":")
		ob := OrderBy{Field: field, Order: Asc}
		if order == string(Desc) {
			ob.Order = Desc
		}
		a.OrderBy = &ob
	}

	if v := q.Get("first"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return a, apierr.Wrap(apierr.MalformedAttribute, `query argument "first" is not an integer`, err)
		}
		a.First = &n
	}
	if v := q.Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return a, apierr.Wrap(apierr.MalformedAttribute, `query argument "last" is not an integer`, err)
		}
		a.Last = &n
	}
	if v := q.Get("after"); v != "" {
		a.After = &v
	}
	if v := q.Get("before"); v != "" {
		a.Before = &v
	}

	return a, nil
}
