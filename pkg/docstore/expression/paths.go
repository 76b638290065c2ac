package expression

import (
	"github.com/burrowdev/burrow/pkg/attr"
)

// Bindings carries the caller-supplied substitution maps: expression
// attribute names ("#n" → real name) and values (":v" → typed value).
type Bindings struct {
	Names  map[string]string
	Values map[string]attr.Value
}

// resolve maps a path's name references through the bindings.
func (b Bindings) resolve(path Path) ([]PathSegment, error) {
	out := make([]PathSegment, len(path.Segments))
	for i, seg := range path.Segments {
		if seg.NameRef != "" {
			name, ok := b.Names[seg.NameRef]
			if !ok {
				return nil, syntaxErrorf(path.Pos, "unresolved name reference %s", seg.NameRef)
			}
			out[i] = PathSegment{Name: name}
			continue
		}
		out[i] = seg
	}
	return out, nil
}

// value looks up a value reference.
func (b Bindings) value(ref *ValueRefOperand) (attr.Value, error) {
	v, ok := b.Values[ref.Name]
	if !ok {
		return attr.Value{}, syntaxErrorf(ref.Pos, "unresolved value reference %s", ref.Name)
	}
	return v, nil
}

// getPath walks an item along resolved segments. The second return is
// false when any step is missing or mistyped.
func getPath(item attr.Item, segs []PathSegment) (attr.Value, bool) {
	if len(segs) == 0 || segs[0].IsIndex {
		return attr.Value{}, false
	}
	current, ok := item[segs[0].Name]
	if !ok {
		return attr.Value{}, false
	}

	for _, seg := range segs[1:] {
		if seg.IsIndex {
			list, ok := current.AsList()
			if !ok || seg.Index < 0 || seg.Index >= len(list) {
				return attr.Value{}, false
			}
			current = list[seg.Index]
			continue
		}
		m, ok := current.AsMap()
		if !ok {
			return attr.Value{}, false
		}
		current, ok = m[seg.Name]
		if !ok {
			return attr.Value{}, false
		}
	}
	return current, true
}

// setPath writes a value at the resolved path, creating missing
// intermediate maps. Index segments only assign into existing lists.
func setPath(item attr.Item, segs []PathSegment, value attr.Value) error {
	if len(segs) == 0 || segs[0].IsIndex {
		return syntaxErrorf(0, "update path must start with an attribute name")
	}
	if len(segs) == 1 {
		item[segs[0].Name] = value
		return nil
	}

	current, ok := item[segs[0].Name]
	if !ok {
		current = attr.Map(map[string]attr.Value{})
		item[segs[0].Name] = current
	}
	return setNested(item, segs[0].Name, current, segs[1:], value)
}

func setNested(parent interface{}, key interface{}, current attr.Value, segs []PathSegment, value attr.Value) error {
	seg := segs[0]

	if seg.IsIndex {
		list, ok := current.AsList()
		if !ok || seg.Index < 0 || seg.Index >= len(list) {
			return syntaxErrorf(0, "list index %d out of range", seg.Index)
		}
		if len(segs) == 1 {
			list[seg.Index] = value
			return nil
		}
		return setNested(list, seg.Index, list[seg.Index], segs[1:], value)
	}

	m, ok := current.AsMap()
	if !ok {
		// replace a non-map intermediate with a fresh map
		m = map[string]attr.Value{}
		replaceChild(parent, key, attr.Map(m))
	}
	if len(segs) == 1 {
		m[seg.Name] = value
		return nil
	}
	child, ok := m[seg.Name]
	if !ok {
		child = attr.Map(map[string]attr.Value{})
		m[seg.Name] = child
	}
	return setNested(m, seg.Name, child, segs[1:], value)
}

func replaceChild(parent interface{}, key interface{}, value attr.Value) {
	switch p := parent.(type) {
	case attr.Item:
		p[key.(string)] = value
	case map[string]attr.Value:
		p[key.(string)] = value
	case []attr.Value:
		p[key.(int)] = value
	}
}

// removePath deletes the leaf at the resolved path. Missing paths are a
// no-op.
func removePath(item attr.Item, segs []PathSegment) {
	if len(segs) == 0 || segs[0].IsIndex {
		return
	}
	if len(segs) == 1 {
		delete(item, segs[0].Name)
		return
	}

	parentSegs := segs[:len(segs)-1]
	leaf := segs[len(segs)-1]

	parent, ok := getPath(item, parentSegs)
	if !ok {
		return
	}

	if leaf.IsIndex {
		list, ok := parent.AsList()
		if !ok || leaf.Index < 0 || leaf.Index >= len(list) {
			return
		}
		trimmed := append(append([]attr.Value(nil), list[:leaf.Index]...), list[leaf.Index+1:]...)
		// write the shortened list back at the parent path
		if err := setPath(item, parentSegs, attr.List(trimmed...)); err != nil {
			return
		}
		return
	}

	if m, ok := parent.AsMap(); ok {
		delete(m, leaf.Name)
	}
}
