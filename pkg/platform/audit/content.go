package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content kinds stored in Entry.Content.
const (
	ContentSnapshot = "snapshot"
	ContentDiff     = "diff"
)

type snapshotContent struct {
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state"`
}

// FieldChange is one entry of a diff content document.
type FieldChange struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
}

type diffContent struct {
	Kind    string                 `json:"kind"`
	Changes map[string]FieldChange `json:"changes"`
}

// BuildContent derives the schema-less content document of an entry.
//
// A field-level diff is produced only when both states are present and both
// are JSON objects. Otherwise the content is a snapshot of whichever state
// exists, after taking precedence.
func BuildContent(action Action, before, after json.RawMessage) (json.RawMessage, error) {
	if action == ActionUpdate && before != nil && after != nil {
		changes, ok, err := diffObjects(before, after)
		if err != nil {
			return nil, err
		}
		if ok {
			return json.Marshal(diffContent{Kind: ContentDiff, Changes: changes})
		}
	}

	state := after
	if state == nil {
		state = before
	}
	if state == nil {
		state = json.RawMessage("null")
	}
	return json.Marshal(snapshotContent{Kind: ContentSnapshot, State: state})
}

// diffObjects compares top-level fields. ok is false when either side is not
// a JSON object.
func diffObjects(before, after json.RawMessage) (map[string]FieldChange, bool, error) {
	var b, a map[string]json.RawMessage
	if err := json.Unmarshal(before, &b); err != nil || b == nil {
		return nil, false, nil
	}
	if err := json.Unmarshal(after, &a); err != nil || a == nil {
		return nil, false, nil
	}

	changes := make(map[string]FieldChange)
	for k, bv := range b {
		av, present := a[k]
		if !present {
			changes[k] = FieldChange{Before: bv, After: json.RawMessage("null")}
			continue
		}
		equal, err := jsonEqual(bv, av)
		if err != nil {
			return nil, false, fmt.Errorf("compare field %q: %w", k, err)
		}
		if !equal {
			changes[k] = FieldChange{Before: bv, After: av}
		}
	}
	for k, av := range a {
		if _, present := b[k]; !present {
			changes[k] = FieldChange{Before: json.RawMessage("null"), After: av}
		}
	}
	return changes, true, nil
}

// jsonEqual compares two JSON values ignoring formatting differences.
func jsonEqual(x, y json.RawMessage) (bool, error) {
	if bytes.Equal(x, y) {
		return true, nil
	}
	var xv, yv any
	if err := json.Unmarshal(x, &xv); err != nil {
		return false, err
	}
	if err := json.Unmarshal(y, &yv); err != nil {
		return false, err
	}
	xs, err := json.Marshal(xv)
	if err != nil {
		return false, err
	}
	ys, err := json.Marshal(yv)
	if err != nil {
		return false, err
	}
	return bytes.Equal(xs, ys), nil
}

// Snapshot encodes an entity state. A nil entity yields a nil snapshot.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot %T: %w", v, err)
	}
	return b, nil
}
