// Package relation applies one-shot connect/disconnect diffs between an
// entity and a related collection.
package relation

import (
	"context"
	"encoding/json"
)

// Ref points at one related entity. Extra carries any further keys the
// caller put beside "id" (e.g. a membership flag); they are handed to the
// callbacks untouched.
type Ref struct {
	ID    string
	Extra map[string]any
}

func (r *Ref) UnmarshalJSON(raw []byte) error {
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if id, ok := fields["id"].(string); ok {
		r.ID = id
	}
	delete(fields, "id")
	if len(fields) != 0 {
		r.Extra = fields
	}
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	fields := map[string]any{"id": r.ID}
	for k, v := range r.Extra {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// Diff describes the links to add and remove. It is an input-only value
// built per request, never persisted.
type Diff struct {
	Connect    []Ref `json:"connect,omitempty"`
	Disconnect []Ref `json:"disconnect,omitempty"`
}

// Callback performs the side effect for one link.
type Callback func(ctx context.Context, ref Ref) error

// Mutate invokes connect for each entry in diff.Connect, then disconnect
// for each entry in diff.Disconnect, one at a time in order. Sequencing
// keeps side effects deterministic against the external store and bounds
// its request rate.
//
// The first failing callback aborts the remaining entries and its error is
// returned; links already applied are NOT rolled back. Callers own that
// consistency gap (see the resolver engine's side-effect policy).
//
// A nil diff is a no-op. A nil callback skips its half of the diff.
func Mutate(ctx context.Context, diff *Diff, connect Callback, disconnect Callback) error {
	if diff == nil {
		return nil
	}

	if connect != nil {
		for _, ref := range diff.Connect {
			if err := connect(ctx, ref); err != nil {
				return err
			}
		}
	}
	if disconnect != nil {
		for _, ref := range diff.Disconnect {
			if err := disconnect(ctx, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiffOf reads a relation diff out of a mutation payload value
// ({connect: [...], disconnect: [...]}), as found under e.g. data["groups"].
//
// Returns nil (a no-op diff) when value is absent or not shaped as a diff.
func DiffOf(value any) *Diff {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	diff := Diff{}
	if err := json.Unmarshal(raw, &diff); err != nil {
		return nil
	}
	if len(diff.Connect) == 0 && len(diff.Disconnect) == 0 {
		return nil
	}
	return &diff
}
