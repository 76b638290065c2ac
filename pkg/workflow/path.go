package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path is an optional JSONPath field that distinguishes absent,
// explicitly null, and set. ASL gives each form a meaning: absent means
// the default, null means "none" (empty input, discarded result).
type Path struct {
	set  bool
	null bool
	val  string
}

// UnmarshalJSON records presence and nullness alongside the value.
func (p *Path) UnmarshalJSON(b []byte) error {
	p.set = true
	if string(b) == "null" {
		p.null = true
		return nil
	}
	return json.Unmarshal(b, &p.val)
}

// pathSegment is one step of the supported path subset: $, $.key,
// $.a.b, $.arr[0]. No wildcards, filters, or slices.
type pathSegment struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string) ([]pathSegment, error) {
	if path == "$" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "$.") {
		return nil, fmt.Errorf("invalid path %q", path)
	}
	var segs []pathSegment
	for _, part := range strings.Split(path[2:], ".") {
		if part == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
		key := part
		var indexes []int
		for strings.HasSuffix(key, "]") {
			open := strings.LastIndex(key, "[")
			if open < 0 {
				return nil, fmt.Errorf("invalid path %q", path)
			}
			idx, err := strconv.Atoi(key[open+1 : len(key)-1])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid array index in path %q", path)
			}
			indexes = append([]int{idx}, indexes...)
			key = key[:open]
		}
		if key == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
		segs = append(segs, pathSegment{key: key})
		for _, idx := range indexes {
			segs = append(segs, pathSegment{index: idx, isIdx: true})
		}
	}
	return segs, nil
}

// resolvePath selects the subtree a path names. Missing keys are an
// error.
func resolvePath(data any, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	cur := data
	for _, seg := range segs {
		if seg.isIdx {
			arr, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("path %q indexes a non-array", path)
			}
			if seg.index >= len(arr) {
				return nil, fmt.Errorf("path %q index %d out of range", path, seg.index)
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q traverses a non-object", path)
		}
		v, ok := m[seg.key]
		if !ok {
			return nil, fmt.Errorf("path %q: key %q not found", path, seg.key)
		}
		cur = v
	}
	return cur, nil
}

// applyInputPath shapes the raw input entering a state. Null selects an
// empty object.
func applyInputPath(data any, p Path) (any, error) {
	if !p.set {
		return data, nil
	}
	if p.null {
		return map[string]any{}, nil
	}
	return resolvePath(data, p.val)
}

// applyOutputPath shapes the value leaving a state.
func applyOutputPath(data any, p Path) (any, error) {
	return applyInputPath(data, p)
}

// applyResultPath places a state's result into its input. Absent means
// "$" (result replaces input); null discards the result and passes the
// input through.
func applyResultPath(input, result any, p Path) (any, error) {
	if p.set && p.null {
		return input, nil
	}
	path := "$"
	if p.set {
		path = p.val
	}
	if path == "$" {
		return result, nil
	}

	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	root, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("result path %q needs an object input", path)
	}
	out := shallowCopy(root)

	cur := out
	for i, seg := range segs {
		if seg.isIdx {
			return nil, fmt.Errorf("result path %q cannot index arrays", path)
		}
		if i == len(segs)-1 {
			cur[seg.key] = result
			break
		}
		next, ok := cur[seg.key].(map[string]any)
		if !ok {
			next = map[string]any{}
		} else {
			next = shallowCopy(next)
		}
		cur[seg.key] = next
		cur = next
	}
	return out, nil
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// applyParameters walks a template: keys ending in .$ are replaced by
// the value their string path selects in data; everything else is
// literal. String paths starting with $$. resolve against ctx.
func applyParameters(template, data any, ctx map[string]any) (any, error) {
	switch t := template.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if strings.HasSuffix(k, ".$") {
				pathStr, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("parameter %q must be a string path", k)
				}
				var resolved any
				var err error
				if strings.HasPrefix(pathStr, "$$.") {
					if ctx == nil {
						return nil, fmt.Errorf("parameter %q references the context object, none available", k)
					}
					resolved, err = resolvePath(ctx, pathStr[1:])
				} else {
					resolved, err = resolvePath(data, pathStr)
				}
				if err != nil {
					return nil, err
				}
				out[strings.TrimSuffix(k, ".$")] = resolved
				continue
			}
			nested, err := applyParameters(v, data, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = nested
		}
		return out, nil

	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			nested, err := applyParameters(v, data, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = nested
		}
		return out, nil

	default:
		return template, nil
	}
}
