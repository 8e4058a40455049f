package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize round-trips v through JSON so that values compare consistently
// with decoded documents (numbers become float64, structs become maps).
//
// Postcondition: Returns the decoded JSON form of v, or an error if v is
// not JSON-serializable.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalizing value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalizing value: %w", err)
	}
	return out, nil
}

// SetPath writes value at the dot-path inside doc, creating intermediate
// objects as needed. A nil value writes JSON null.
//
// Precondition: path must be non-empty; every intermediate segment that
// already exists must be an object.
func SetPath(doc map[string]any, path string, value any) error {
	segments := strings.Split(path, ".")
	cur := doc
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("empty segment in path %q", path)
		}
		if i == len(segments)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg]
		if !ok || next == nil {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q: segment %q is not an object", path, seg)
		}
		cur = child
	}
	return nil
}

// GetPath reads the value at the dot-path inside doc.
//
// Postcondition: Returns (value, true) when every segment resolves, or
// (nil, false) when any segment is missing or a non-object intermediate
// is encountered.
func GetPath(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches evaluates a single condition against a decoded document.
func Matches(doc map[string]any, c Cond) (bool, error) {
	got, exists := GetPath(doc, c.Path)
	switch c.Op {
	case OpExists:
		return exists && got != nil, nil
	case OpEq, OpNeq:
		want, err := Normalize(c.Value)
		if err != nil {
			return false, err
		}
		eq := exists && equalJSON(got, want)
		if c.Op == OpEq {
			return eq, nil
		}
		return exists && !eq, nil
	}
	return false, fmt.Errorf("unknown query op %q", c.Op)
}

// equalJSON compares two decoded JSON values structurally.
func equalJSON(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}
