// Package attrs converts typed domain fields to and from the flat
// attribute bags the identity store persists (attribute name -> array of
// strings).
//
// A Schema declares, per field, how to serialize and deserialize its value.
// Keys a schema does not know about are carried through untouched, so a
// partial update never clobbers attributes owned by somebody else.
package attrs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
)

// Bag is the identity store's native attribute representation.
type Bag map[string][]string

// First is the first stored value of the attribute, or "" when absent.
func (b Bag) First(key string) string {
	values := b[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Codec converts one field between its typed value and its bag entry.
//
// Deserialize receives nil when the attribute is absent and must return
// the field's default in that case, not an error. A malformed stored
// value must be reported as an error (callers wrap it as
// MALFORMED_ATTRIBUTE), never silently defaulted.
type Codec interface {
	Serialize(value any) ([]string, error)
	Deserialize(raw []string) (any, error)
}

type Schema map[string]Codec

// Attributes is a typed view over a bag, scoped by a schema.
type Attributes struct {
	schema Schema
	values map[string]any
	extra  Bag
}

func New(schema Schema) *Attributes {
	return &Attributes{schema: schema, values: map[string]any{}, extra: Bag{}}
}

// FromBag deserializes the schema fields out of an existing bag.
//
// Non-schema keys are preserved and reappear on ToBag.
//
// When a stored value is malformed, the returned error names the field
// and carries MALFORMED_ATTRIBUTE; the returned Attributes is still
// usable, with that field left at its default, so read paths can degrade
// instead of failing the whole record.
func FromBag(schema Schema, bag Bag) (*Attributes, error) {
	a := New(schema)
	var firstErr error

	for key, raw := range bag {
		codec, known := schema[key]
		if !known {
			a.extra[key] = raw
			continue
		}
		v, err := codec.Deserialize(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = apierr.Wrap(
					apierr.MalformedAttribute,
					fmt.Sprintf("attribute %q holds a malformed value", key),
					err,
				)
			}
			continue
		}
		if v != nil {
			a.values[key] = v
		}
	}
	return a, firstErr
}

// MergeWithData merges new field values into the attributes.
//
// Only keys present in values are touched; a nil value clears the field
// (the attribute is dropped from the bag, falling back to its default).
// Keys outside the schema are ignored.
func (a *Attributes) MergeWithData(values map[string]any) {
	for key, v := range values {
		if _, known := a.schema[key]; !known {
			continue
		}
		if v == nil {
			delete(a.values, key)
			continue
		}
		a.values[key] = v
	}
}

// Get returns the typed value of field, or the codec's default when unset.
func (a *Attributes) Get(field string) any {
	if v, ok := a.values[field]; ok {
		return v
	}
	codec, known := a.schema[field]
	if !known {
		return nil
	}
	def, _ := codec.Deserialize(nil)
	return def
}

// ToBag serializes the schema fields and merges the preserved unknown keys
// back in.
func (a *Attributes) ToBag() (Bag, error) {
	out := Bag{}
	for key, raw := range a.extra {
		out[key] = raw
	}
	for key, v := range a.values {
		raw, err := a.schema[key].Serialize(v)
		if err != nil {
			return nil, apierr.Wrap(
				apierr.MalformedAttribute,
				fmt.Sprintf("attribute %q cannot be serialized", key),
				err,
			)
		}
		if raw != nil {
			out[key] = raw
		}
	}
	return out, nil
}

// DiskQuota stores a gigabyte quota as a single "<integer>G" string.
//
// Absence means "use the system default" and deserializes to nil
// (the frontend renders that as the unlimited mark).
type DiskQuota struct{}

func (DiskQuota) Serialize(value any) ([]string, error) {
	n, err := asInt(value)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("disk quota %d is negative", n)
	}
	return []string{fmt.Sprintf("%dG", n)}, nil
}

func (DiskQuota) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 || raw[0] == "" {
		return nil, nil
	}
	s, ok := strings.CutSuffix(raw[0], "G")
	if !ok {
		return nil, fmt.Errorf("disk quota %q is not of the form <integer>G", raw[0])
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("disk quota %q is not of the form <integer>G", raw[0])
	}
	return n, nil
}

// Timestamp stores a time as a RFC3339 string. Defaults to nil when absent.
type Timestamp struct{}

func (Timestamp) Serialize(value any) ([]string, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%v (%T) is not a time", value, value)
	}
	return []string{t.UTC().Format(time.RFC3339)}, nil
}

func (Timestamp) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 || raw[0] == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw[0])
	if err != nil {
		return nil, fmt.Errorf("timestamp %q is not RFC3339", raw[0])
	}
	return t.UTC(), nil
}

// Bool stores a flag as "true"/"false". Defaults to false when absent.
type Bool struct{}

func (Bool) Serialize(value any) ([]string, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("%v (%T) is not a bool", value, value)
	}
	return []string{strconv.FormatBool(b)}, nil
}

func (Bool) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 || raw[0] == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw[0])
	if err != nil {
		return nil, fmt.Errorf("%q is not a bool", raw[0])
	}
	return b, nil
}

// Int stores an integer count. Defaults to nil when absent.
type Int struct{}

func (Int) Serialize(value any) ([]string, error) {
	n, err := asInt(value)
	if err != nil {
		return nil, err
	}
	return []string{strconv.Itoa(n)}, nil
}

func (Int) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 || raw[0] == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw[0])
	if err != nil {
		return nil, fmt.Errorf("%q is not an integer", raw[0])
	}
	return n, nil
}

// Float stores a decimal number (cpu quotas and such). Defaults to nil.
type Float struct{}

func (Float) Serialize(value any) ([]string, error) {
	switch v := value.(type) {
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case int:
		return []string{strconv.Itoa(v)}, nil
	default:
		return nil, fmt.Errorf("%v (%T) is not a number", value, value)
	}
}

func (Float) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 || raw[0] == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw[0])
	}
	return f, nil
}

// String stores a plain string. Defaults to nil when absent.
type String struct{}

func (String) Serialize(value any) ([]string, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%v (%T) is not a string", value, value)
	}
	return []string{s}, nil
}

func (String) Deserialize(raw []string) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return raw[0], nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%v (%T) is not an integer", value, value)
	}
}
