package identity

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type productRef struct {
	id any
}

func (p productRef) Reference() any { return p.id }

func TestNormalize(t *testing.T) {
	ref := uuid.MustParse("6f1c2a4e-8b0d-4c55-9a37-2f6a1e9b0c11")

	tests := []struct {
		name string
		raw  any
		want Identifier
	}{
		{"nil", nil, Empty()},
		{"empty string", "", Empty()},
		{"blank string", "   ", Empty()},
		{"int", 42, Int(42)},
		{"int64", int64(7002), Int(7002)},
		{"uint8", uint8(9), Int(9)},
		{"whole float", float64(101), Int(101)},
		{"fractional float", 1.5, Identifier{kind: KindString, str: "1.5"}},
		{"json number", json.Number("42"), Int(42)},
		{"numeric string", "42", Int(42)},
		{"numeric string with padding", " 42 ", Int(42)},
		{"leading zeros", "007", Int(7)},
		{"negative numeric string stays opaque", "-5", Identifier{kind: KindString, str: "-5"}},
		{"uuid string", ref.String(), Ref(ref)},
		{"uppercase uuid string", "6F1C2A4E-8B0D-4C55-9A37-2F6A1E9B0C11", Ref(ref)},
		{"uuid value", ref, Ref(ref)},
		{"nil uuid", uuid.Nil, Empty()},
		{"opaque string", "sku-abc", Identifier{kind: KindString, str: "sku-abc"}},
		{"overflowing digits", "99999999999999999999", Identifier{kind: KindString, str: "99999999999999999999"}},
		{"map with _id", map[string]any{"_id": ref.String()}, Ref(ref)},
		{"map with id", map[string]any{"id": "42"}, Int(42)},
		{"map with $oid", map[string]any{"$oid": "seller-9"}, Identifier{kind: KindString, str: "seller-9"}},
		{"nested map", map[string]any{"_id": map[string]any{"$oid": ref.String()}}, Ref(ref)},
		{"referencer", productRef{id: "101"}, Int(101)},
		{"referencer holding nil", productRef{id: nil}, Empty()},
		{"identifier", Int(5), Int(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []any{
		nil,
		42,
		"42",
		map[string]any{"_id": "6f1c2a4e-8b0d-4c55-9a37-2f6a1e9b0c11"},
		"opaque-seller",
		productRef{id: 7},
		1.25,
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %#v", in)
	}
}

func TestNormalize_EquivalentWireShapes(t *testing.T) {
	require.True(t, Normalize("42").Equal(Normalize(42)))
	require.True(t, Normalize(map[string]any{"_id": "42"}).Equal(Normalize("42")))
	require.True(t, Normalize(json.Number("7002")).Equal(Normalize(float64(7002))))
	require.False(t, Normalize("42").Equal(Normalize("43")))
}

func TestEqual_EmptyNeverMatches(t *testing.T) {
	assert.False(t, Empty().Equal(Empty()))
	assert.False(t, Empty().Equal(Int(0)))
	assert.False(t, Int(0).Equal(Empty()))
	assert.True(t, Int(0).Equal(Int(0)))
}

func TestKey_RoundTrip(t *testing.T) {
	ids := []Identifier{
		Empty(),
		Int(-3),
		Int(42),
		Ref(uuid.New()),
		Normalize("buyer@example"),
	}
	for _, id := range ids {
		parsed, err := ParseKey(id.Key())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParseKey_Malformed(t *testing.T) {
	for _, key := range []string{"nokind", "i:abc", "r:not-a-uuid", "s:", "x:1"} {
		_, err := ParseKey(key)
		assert.Error(t, err, key)
	}
}

func TestPair_CanonicalOrder(t *testing.T) {
	lo, hi := Pair(Int(7002), Int(7))
	assert.Equal(t, Int(7), lo)
	assert.Equal(t, Int(7002), hi)

	lo2, hi2 := Pair(Int(7), Int(7002))
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)

	// integers order before references and strings
	lo, hi = Pair(Normalize("alice"), Int(9))
	assert.Equal(t, Int(9), lo)
	assert.Equal(t, Normalize("alice"), hi)
}

func TestJSON_RoundTrip(t *testing.T) {
	type envelope struct {
		Sender Identifier `json:"sender"`
	}
	ids := []Identifier{Empty(), Int(7), Ref(uuid.New()), Normalize("sku-1")}
	for _, id := range ids {
		data, err := json.Marshal(envelope{Sender: id})
		require.NoError(t, err)

		var decoded envelope
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, id, decoded.Sender, string(data))
	}
}

func TestJSON_DecodesHeterogeneousInput(t *testing.T) {
	var ids []Identifier
	require.NoError(t, json.Unmarshal([]byte(`[7, "7", {"_id": "7"}, null, "seller-x"]`), &ids))
	require.Len(t, ids, 5)
	assert.Equal(t, Int(7), ids[0])
	assert.Equal(t, Int(7), ids[1])
	assert.Equal(t, Int(7), ids[2])
	assert.True(t, ids[3].IsEmpty())
	assert.Equal(t, KindString, ids[4].Kind())

	data, err := json.Marshal(Int(7))
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))
}
