package attr

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(t *testing.T, s string) Value {
	t.Helper()
	v, err := NumberFromString(s)
	require.NoError(t, err)
	return v
}

func TestWireCodecRoundTrip(t *testing.T) {
	item := Item{
		"orderId": String("o1"),
		"qty":     NumberFromInt(5),
		"price":   num(t, "19.99"),
		"active":  Bool(true),
		"note":    Null(),
		"blob":    Binary([]byte{0x01, 0x02}),
		"tags":    StringSet("a", "b"),
		"scores":  NumberSet(decimal.NewFromInt(1), decimal.NewFromInt(2)),
		"nested": Map(map[string]Value{
			"inner": List(String("x"), NumberFromInt(1)),
		}),
	}

	data, err := MarshalItem(item)
	require.NoError(t, err)

	decoded, err := UnmarshalItem(data)
	require.NoError(t, err)
	assert.True(t, item.Equal(decoded), "item must survive the wire round trip")
}

func TestWireShapes(t *testing.T) {
	tests := []struct {
		value Value
		wire  string
	}{
		{String("text"), `{"S":"text"}`},
		{NumberFromInt(42), `{"N":"42"}`},
		{Bool(true), `{"BOOL":true}`},
		{Null(), `{"NULL":true}`},
		{StringSet("a"), `{"SS":["a"]}`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.value)
		require.NoError(t, err)
		assert.JSONEq(t, tt.wire, string(data))
	}
}

func TestUnmarshalRejectsBadValues(t *testing.T) {
	for _, doc := range []string{
		`{}`,
		`{"S":"a","N":"1"}`,
		`{"X":"a"}`,
		`{"N":"not-a-number"}`,
		`{"NS":["1","nope"]}`,
	} {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(doc), &v), "doc %s", doc)
	}
}

func TestCompare(t *testing.T) {
	lt := func(a, b Value) {
		t.Helper()
		cmp, ok := Compare(a, b)
		require.True(t, ok)
		assert.Equal(t, -1, cmp)
	}

	lt(String("a"), String("b"))
	lt(num(t, "2"), num(t, "10"))
	lt(Binary([]byte{0x01}), Binary([]byte{0x02}))

	// numeric against its stringified form coerces
	cmp, ok := Compare(String("28"), num(t, "30"))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	// everything else is incomparable, not an error
	_, ok = Compare(String("abc"), num(t, "1"))
	assert.False(t, ok)
	_, ok = Compare(Bool(true), Bool(false))
	assert.False(t, ok)
	_, ok = Compare(List(), List())
	assert.False(t, ok)
}

func TestEqualSetsIgnoreOrder(t *testing.T) {
	assert.True(t, StringSet("a", "b").Equal(StringSet("b", "a")))
	assert.True(t, NumberSet(decimal.NewFromInt(1), decimal.NewFromInt(2)).
		Equal(NumberSet(decimal.NewFromInt(2), decimal.NewFromInt(1))))
	assert.False(t, StringSet("a").Equal(StringSet("b")))
}

func TestContains(t *testing.T) {
	assert.True(t, String("hello world").Contains(String("lo wo")))
	assert.False(t, String("hello").Contains(String("z")))
	assert.True(t, List(String("a"), NumberFromInt(1)).Contains(NumberFromInt(1)))
	assert.True(t, StringSet("a", "b").Contains(String("b")))
	assert.False(t, NumberFromInt(5).Contains(NumberFromInt(5)), "contains on a scalar number is false")
}

func TestSize(t *testing.T) {
	assert.Equal(t, 5, String("hello").Size())
	assert.Equal(t, 5, String("héllo").Size(), "strings size in characters, not bytes")
	assert.Equal(t, 3, String("日本語").Size())
	assert.Equal(t, 2, List(Null(), Null()).Size())
	assert.Equal(t, 3, StringSet("a", "b", "c").Size())
	assert.Equal(t, 0, NumberFromInt(9).Size())
	assert.Equal(t, 0, Value{}.Size(), "missing attribute sizes to 0")
}

func TestSetUnionAndDifference(t *testing.T) {
	union, ok := SetUnion(StringSet("a", "b"), StringSet("b", "c"))
	require.True(t, ok)
	assert.True(t, union.Equal(StringSet("a", "b", "c")))

	diff, ok := SetDifference(StringSet("a", "b", "c"), StringSet("b"))
	require.True(t, ok)
	assert.True(t, diff.Equal(StringSet("a", "c")))

	_, ok = SetUnion(StringSet("a"), NumberSet(decimal.NewFromInt(1)))
	assert.False(t, ok, "mixed set types never merge")
	_, ok = SetDifference(String("a"), StringSet("a"))
	assert.False(t, ok)
}

func TestCloneIsolation(t *testing.T) {
	orig := Item{"m": Map(map[string]Value{"k": List(String("x"))})}
	clone := orig.Clone()

	m, _ := clone["m"].AsMap()
	m["k"] = String("mutated")

	inner, _ := orig["m"].AsMap()
	assert.True(t, inner["k"].Equal(List(String("x"))), "clone mutation must not leak")
}
