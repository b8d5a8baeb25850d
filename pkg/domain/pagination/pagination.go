// Package pagination slices materialized record lists into relay-style
// connections, and filters/sorts them in memory.
//
// Cursors are opaque base64 strings encoding the index of an item in the
// ordered list; they are only valid against the snapshot the request
// materialized. Concurrent writers can make rows skip or repeat between
// page fetches; that is the backing stores' native consistency model and
// is not compensated for here.
package pagination

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/api/types/relay"
	"github.com/opst/adminhub/pkg/domain"
)

const cursorPrefix = "cursor:"

func EncodeCursor(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(index)))
}

func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apierr.Wrap(apierr.MalformedAttribute, fmt.Sprintf("cursor %q is not decodable", cursor), err)
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, apierr.New(apierr.MalformedAttribute, fmt.Sprintf("cursor %q is not a cursor", cursor))
	}
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, apierr.Wrap(apierr.MalformedAttribute, fmt.Sprintf("cursor %q is not a cursor", cursor), err)
	}
	return index, nil
}

// Filter keeps the rows matching every clause in where (implicit AND).
//
// Supported clauses: field equality, "<field>_contains" (case-sensitive
// substring) and "<field>_in" (set membership). A clause over a field a
// row does not carry is ignored for that row, keeping filters
// forward-compatible with newer clients.
func Filter(rows []domain.Record, where args.Where) []domain.Record {
	if len(where) == 0 {
		return rows
	}

	out := []domain.Record{}
	for _, row := range rows {
		if matches(row, where) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row domain.Record, where args.Where) bool {
	for key, cond := range where {
		switch {
		case strings.HasSuffix(key, "_contains"):
			field := strings.TrimSuffix(key, "_contains")
			v, ok := row[field]
			if !ok {
				continue
			}
			s, sok := v.(string)
			c, cok := cond.(string)
			if !sok || !cok || !strings.Contains(s, c) {
				return false
			}
		case strings.HasSuffix(key, "_in"):
			field := strings.TrimSuffix(key, "_in")
			v, ok := row[field]
			if !ok {
				continue
			}
			set, sok := cond.([]any)
			if !sok {
				return false
			}
			found := false
			for _, e := range set {
				if equalValues(v, e) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			v, ok := row[key]
			if !ok {
				continue
			}
			if !equalValues(v, cond) {
				return false
			}
		}
	}
	return true
}

// Sort orders rows by the orderBy field, stable, nulls first in ascending
// order. The nulls-first rule keeps null quotas (rendered as the unlimited
// mark) at the head of ascending listings, which the console relies on.
func Sort(rows []domain.Record, orderBy *args.OrderBy) []domain.Record {
	if orderBy == nil || orderBy.Field == "" {
		return rows
	}

	out := make([]domain.Record, len(rows))
	copy(out, rows)

	field := orderBy.Field
	desc := orderBy.Order == args.Desc
	sort.SliceStable(out, func(i, j int) bool {
		less := lessValues(out[i][field], out[j][field])
		if desc {
			return lessValues(out[j][field], out[i][field])
		}
		return less
	})
	return out
}

// Paged is a window over a snapshot list.
type Paged struct {
	Items           []domain.Record
	HasNextPage     bool
	HasPreviousPage bool

	// index of Items[0] in the snapshot; edge cursors are derived from it.
	offset int
}

// Paginate slices rows according to p.
//
// Forward (First/After) and backward (Last/Before) are mutually exclusive;
// args.ResourceArgs.Pagination enforces that before this point. With no
// pagination arguments the whole list is returned.
func Paginate(rows []domain.Record, p args.Pagination) (Paged, error) {
	start, end := 0, len(rows)

	if p.After != nil {
		index, err := DecodeCursor(*p.After)
		if err != nil {
			return Paged{}, err
		}
		if index+1 > start {
			start = index + 1
		}
	}
	if p.Before != nil {
		index, err := DecodeCursor(*p.Before)
		if err != nil {
			return Paged{}, err
		}
		if index < end {
			end = index
		}
	}
	if start > end {
		start = end
	}

	if p.First != nil && start+*p.First < end {
		end = start + *p.First
	}
	if p.Last != nil && end-*p.Last > start {
		start = end - *p.Last
	}

	return Paged{
		Items:           rows[start:end],
		HasNextPage:     end < len(rows),
		HasPreviousPage: start > 0,
		offset:          start,
	}, nil
}

// ToRelay slices rows and shapes the window as a relay connection.
func ToRelay(rows []domain.Record, p args.Pagination) (relay.Connection[domain.Record], error) {
	paged, err := Paginate(rows, p)
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}

	edges := make([]relay.Edge[domain.Record], len(paged.Items))
	for nth, item := range paged.Items {
		edges[nth] = relay.Edge[domain.Record]{
			Cursor: EncodeCursor(paged.offset + nth),
			Node:   item,
		}
	}

	pageInfo := relay.PageInfo{
		HasNextPage:     paged.HasNextPage,
		HasPreviousPage: paged.HasPreviousPage,
	}
	if len(edges) != 0 {
		pageInfo.StartCursor = &edges[0].Cursor
		pageInfo.EndCursor = &edges[len(edges)-1].Cursor
	}

	return relay.Connection[domain.Record]{Edges: edges, PageInfo: pageInfo}, nil
}

func equalValues(a any, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, aok := asNumber(a); aok {
		nb, bok := asNumber(b)
		return bok && na == nb
	}
	return a == b
}

// lessValues orders nil before everything, then numbers, then bools
// (false < true), then strings.
func lessValues(a any, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	if na, aok := asNumber(a); aok {
		if nb, bok := asNumber(b); bok {
			return na < nb
		}
	}
	if ba, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return !ba && bb
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
