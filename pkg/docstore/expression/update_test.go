package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/attr"
)

func applyUpdate(t *testing.T, src string, item attr.Item, b Bindings) attr.Item {
	t.Helper()
	upd, err := ParseUpdate(src)
	require.NoError(t, err, "parse %q", src)
	out, err := ApplyUpdate(item, upd, b)
	require.NoError(t, err, "apply %q", src)
	return out
}

func TestUpdateSetArithmetic(t *testing.T) {
	item := attr.Item{"pk": attr.String("1"), "count": mustNumber(t, "10")}
	b := Bindings{Values: map[string]attr.Value{":v": mustNumber(t, "5")}}

	out := applyUpdate(t, "SET count = count + :v", item, b)
	assert.True(t, out["count"].Equal(mustNumber(t, "15")))
	assert.True(t, item["count"].Equal(mustNumber(t, "10")), "input item must stay untouched")

	out = applyUpdate(t, "SET count = count - :v", item, b)
	assert.True(t, out["count"].Equal(mustNumber(t, "5")))
}

func TestUpdateSetNestedCreatesMaps(t *testing.T) {
	item := attr.Item{"pk": attr.String("1")}
	b := Bindings{Values: map[string]attr.Value{":v": attr.String("deep")}}

	out := applyUpdate(t, "SET a.b.c = :v", item, b)

	a, _ := out["a"].AsMap()
	bm, _ := a["b"].AsMap()
	assert.True(t, bm["c"].Equal(attr.String("deep")))
}

func TestUpdateIfNotExists(t *testing.T) {
	item := attr.Item{"pk": attr.String("1"), "status": attr.String("open")}
	b := Bindings{Values: map[string]attr.Value{":d": attr.String("fresh")}}

	out := applyUpdate(t, "SET status = if_not_exists(status, :d), origin = if_not_exists(origin, :d)", item, b)
	assert.True(t, out["status"].Equal(attr.String("open")), "present value wins")
	assert.True(t, out["origin"].Equal(attr.String("fresh")), "default fills the gap")
}

func TestUpdateListAppend(t *testing.T) {
	item := attr.Item{"log": attr.List(attr.String("a"))}
	b := Bindings{Values: map[string]attr.Value{
		":more": attr.List(attr.String("b"), attr.String("c")),
		":one":  attr.String("solo"),
		":nul":  attr.Null(),
	}}

	out := applyUpdate(t, "SET log = list_append(log, :more)", item, b)
	assert.True(t, out["log"].Equal(attr.List(attr.String("a"), attr.String("b"), attr.String("c"))))

	// scalars wrap; nulls become empty lists
	out = applyUpdate(t, "SET log = list_append(:one, :nul)", item, b)
	assert.True(t, out["log"].Equal(attr.List(attr.String("solo"))))
}

func TestUpdateRemove(t *testing.T) {
	item := attr.Item{
		"keep": attr.String("y"),
		"drop": attr.String("n"),
		"m":    attr.Map(map[string]attr.Value{"inner": attr.Bool(true)}),
	}

	out := applyUpdate(t, "REMOVE drop, m.inner, ghost", item, Bindings{})
	_, hasDrop := out["drop"]
	assert.False(t, hasDrop)
	m, _ := out["m"].AsMap()
	assert.Empty(t, m)
	assert.Contains(t, out, "keep")
}

func TestUpdateAdd(t *testing.T) {
	item := attr.Item{
		"count": mustNumber(t, "10"),
		"tags":  attr.StringSet("a"),
	}
	b := Bindings{Values: map[string]attr.Value{
		":n":   mustNumber(t, "3"),
		":set": attr.StringSet("b", "a"),
	}}

	out := applyUpdate(t, "ADD count :n, tags :set, fresh :n", item, b)
	assert.True(t, out["count"].Equal(mustNumber(t, "13")))
	assert.True(t, out["tags"].Equal(attr.StringSet("a", "b")))
	assert.True(t, out["fresh"].Equal(mustNumber(t, "3")), "absent number created with the operand")
}

func TestUpdateDelete(t *testing.T) {
	item := attr.Item{"tags": attr.StringSet("a", "b", "c")}
	b := Bindings{Values: map[string]attr.Value{
		":del": attr.StringSet("b"),
		":all": attr.StringSet("a", "c"),
	}}

	out := applyUpdate(t, "DELETE tags :del", item, b)
	assert.True(t, out["tags"].Equal(attr.StringSet("a", "c")))

	// deleting every member removes the attribute
	out = applyUpdate(t, "DELETE tags :all", out, b)
	assert.NotContains(t, out, "tags")

	// missing or non-set target is a no-op
	out = applyUpdate(t, "DELETE ghost :del", item, b)
	assert.True(t, out.Equal(item))
}

func TestUpdateClauseOrder(t *testing.T) {
	// SET runs before REMOVE: the removed attribute can feed a SET first
	item := attr.Item{"src": mustNumber(t, "7")}
	b := Bindings{}

	out := applyUpdate(t, "SET dst = src REMOVE src", item, b)
	assert.True(t, out["dst"].Equal(mustNumber(t, "7")))
	assert.NotContains(t, out, "src")
}

func TestUpdateDisjointSetActionsCommute(t *testing.T) {
	item := attr.Item{"pk": attr.String("1")}
	b := Bindings{Values: map[string]attr.Value{
		":a": attr.String("A"),
		":b": attr.String("B"),
	}}

	ab := applyUpdate(t, "SET x = :a, y = :b", item, b)
	ba := applyUpdate(t, "SET y = :b, x = :a", item, b)
	assert.True(t, ab.Equal(ba))
}

func TestUpdateErrors(t *testing.T) {
	item := attr.Item{"name": attr.String("x"), "count": mustNumber(t, "1")}
	b := Bindings{Values: map[string]attr.Value{
		":s": attr.String("str"),
		":n": mustNumber(t, "1"),
	}}

	tests := []struct {
		name string
		src  string
	}{
		{name: "empty expression", src: ""},
		{name: "arith on strings", src: "SET name = name + :n"},
		{name: "set from missing path", src: "SET a = ghost"},
		{name: "add string operand", src: "ADD count :s"},
		{name: "add number to string attr", src: "ADD name :n"},
		{name: "unknown clause", src: "UPSERT a = :n"},
		{name: "unknown update function", src: "SET a = pick_first(:n, :s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := ParseUpdate(tt.src)
			if err != nil {
				return
			}
			_, err = ApplyUpdate(item, upd, b)
			assert.Error(t, err)
		})
	}
}
