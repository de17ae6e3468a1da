// Package identity canonicalizes participant and product references.
//
// Callers hand the normalizer whatever arrived on the wire (numbers, numeric
// strings, reference objects, store reference ids, free-form business ids) and
// get back an Identifier that compares equal for equal real-world entities.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind tags the variant held by an Identifier.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindInt
	KindRef
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindRef:
		return "ref"
	case KindString:
		return "string"
	default:
		return "empty"
	}
}

// Referencer is implemented by object-shaped inputs that carry a reference field.
type Referencer interface {
	Reference() any
}

// referenceFields are probed, in order, on map-shaped inputs.
var referenceFields = []string{"_id", "id", "$oid"}

// maxDepth bounds how many nested reference objects are unwrapped.
const maxDepth = 4

// Identifier is a normalized participant or product reference.
// The zero value is the empty identifier.
type Identifier struct {
	kind Kind
	num  int64
	ref  uuid.UUID
	str  string
}

// Empty returns the distinguished empty identifier.
func Empty() Identifier { return Identifier{} }

// Int returns an integer identifier.
func Int(n int64) Identifier { return Identifier{kind: KindInt, num: n} }

// Ref returns a reference-token identifier. uuid.Nil yields the empty identifier.
func Ref(u uuid.UUID) Identifier {
	if u == uuid.Nil {
		return Identifier{}
	}
	return Identifier{kind: KindRef, ref: u}
}

// Normalize canonicalizes raw into an Identifier. It never fails: shapes it
// does not recognize pass through as opaque strings.
func Normalize(raw any) Identifier {
	return normalize(raw, 0)
}

func normalize(raw any, depth int) Identifier {
	switch v := raw.(type) {
	case nil:
		return Identifier{}
	case Identifier:
		if v.kind == KindString {
			return normalizeString(v.str)
		}
		return v
	case *Identifier:
		if v == nil {
			return Identifier{}
		}
		return normalize(*v, depth)
	case string:
		return normalizeString(v)
	case *string:
		if v == nil {
			return Identifier{}
		}
		return normalizeString(*v)
	case []byte:
		return normalizeString(string(v))
	case uuid.UUID:
		return Ref(v)
	case json.Number:
		return normalizeNumber(v)
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return normalizeUnsigned(uint64(v))
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		return normalizeUnsigned(v)
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case Referencer:
		if depth >= maxDepth {
			return opaque(v)
		}
		return normalize(v.Reference(), depth+1)
	case map[string]any:
		if depth >= maxDepth {
			return opaque(v)
		}
		for _, field := range referenceFields {
			if inner, ok := v[field]; ok {
				return normalize(inner, depth+1)
			}
		}
		return opaque(v)
	case fmt.Stringer:
		return normalizeString(v.String())
	default:
		return opaque(v)
	}
}

func normalizeString(s string) Identifier {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}
	}
	if isDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(n)
		}
	}
	if u, err := uuid.Parse(s); err == nil {
		return Ref(u)
	}
	return Identifier{kind: KindString, str: s}
}

func normalizeNumber(n json.Number) Identifier {
	if i, err := n.Int64(); err == nil {
		return Int(i)
	}
	if f, err := n.Float64(); err == nil {
		return normalizeFloat(f)
	}
	return normalizeString(n.String())
}

func normalizeUnsigned(u uint64) Identifier {
	if u > math.MaxInt64 {
		return Identifier{kind: KindString, str: strconv.FormatUint(u, 10)}
	}
	return Int(int64(u))
}

func normalizeFloat(f float64) Identifier {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return Int(int64(f))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Identifier{}
	}
	return Identifier{kind: KindString, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

func opaque(v any) Identifier {
	return normalizeString(fmt.Sprint(v))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Kind reports which variant the identifier holds.
func (id Identifier) Kind() Kind { return id.kind }

// IsEmpty reports whether id is the empty identifier.
func (id Identifier) IsEmpty() bool { return id.kind == KindEmpty }

// Int64 returns the integer value for KindInt identifiers.
func (id Identifier) Int64() (int64, bool) { return id.num, id.kind == KindInt }

// UUID returns the reference token for KindRef identifiers.
func (id Identifier) UUID() (uuid.UUID, bool) { return id.ref, id.kind == KindRef }

// Equal reports whether both identifiers denote the same entity.
// The empty identifier is never equal to anything, itself included.
func (id Identifier) Equal(other Identifier) bool {
	if id.kind == KindEmpty || other.kind == KindEmpty {
		return false
	}
	return id == other
}

// String renders the identifier value without its kind tag.
func (id Identifier) String() string {
	switch id.kind {
	case KindInt:
		return strconv.FormatInt(id.num, 10)
	case KindRef:
		return id.ref.String()
	case KindString:
		return id.str
	default:
		return ""
	}
}

// Key is a kind-tagged, comparable encoding used for storage columns and map keys.
func (id Identifier) Key() string {
	switch id.kind {
	case KindInt:
		return "i:" + strconv.FormatInt(id.num, 10)
	case KindRef:
		return "r:" + id.ref.String()
	case KindString:
		return "s:" + id.str
	default:
		return ""
	}
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Identifier, error) {
	if key == "" {
		return Identifier{}, nil
	}
	tag, value, ok := strings.Cut(key, ":")
	if !ok {
		return Identifier{}, fmt.Errorf("identity: malformed key %q", key)
	}
	switch tag {
	case "i":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Identifier{}, fmt.Errorf("identity: malformed int key %q: %w", key, err)
		}
		return Int(n), nil
	case "r":
		u, err := uuid.Parse(value)
		if err != nil {
			return Identifier{}, fmt.Errorf("identity: malformed ref key %q: %w", key, err)
		}
		return Ref(u), nil
	case "s":
		if value == "" {
			return Identifier{}, fmt.Errorf("identity: malformed string key %q", key)
		}
		return Identifier{kind: KindString, str: value}, nil
	default:
		return Identifier{}, fmt.Errorf("identity: unknown key tag %q", tag)
	}
}

// Compare orders identifiers by kind, then by value. Integers compare numerically.
func Compare(a, b Identifier) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindInt:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case KindRef:
		return bytes.Compare(a.ref[:], b.ref[:])
	case KindString:
		return strings.Compare(a.str, b.str)
	default:
		return 0
	}
}

// Pair returns a and b in canonical order, smallest first.
func Pair(a, b Identifier) (lo, hi Identifier) {
	if Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// MarshalJSON encodes integers as JSON numbers, references and strings as
// JSON strings and the empty identifier as null.
func (id Identifier) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case KindInt:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case KindRef, KindString:
		return json.Marshal(id.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any JSON value and normalizes it.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("identity: decode: %w", err)
	}
	*id = Normalize(raw)
	return nil
}
