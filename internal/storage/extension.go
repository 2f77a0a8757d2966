package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ExtensionState is a free-form bag of JSON values. Entities use it for
// their state variables and timer payloads.
type ExtensionState map[string]json.RawMessage

// Set stores v under key after marshalling it to JSON.
func (e *ExtensionState) Set(k string, v any) error {
	if *e == nil {
		*e = ExtensionState{}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal extension %q: %w", k, err)
	}

	(*e)[k] = json.RawMessage(b)
	return nil
}

// Get unmarshals the extension value at key into out.
// Returns (found=false, nil) if not present.
func (e ExtensionState) Get(key string, out any) (bool, error) {
	if e == nil {
		return false, nil
	}

	raw, ok := e[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal extension %q: %w", key, err)
	}
	return true, nil
}

// Delete removes the extension key, if present.
func (e ExtensionState) Delete(key string) {
	if e == nil {
		return
	}
	delete(e, key)
}

// Clone returns a copy that shares no backing storage with e.
func (e ExtensionState) Clone() ExtensionState {
	if e == nil {
		return nil
	}
	out := make(ExtensionState, len(e))
	for k, v := range e {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// FromMap builds an ExtensionState from plain values, as handed over by
// content generation.
func FromMap(m map[string]any) (ExtensionState, error) {
	var e ExtensionState
	for k, v := range m {
		if err := e.Set(k, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Value encodes the state as a JSON object column. A nil state is stored as "{}".
func (e ExtensionState) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes a JSON object column.
func (e *ExtensionState) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported extension column type %T", src)
	}
	if len(raw) == 0 {
		*e = nil
		return nil
	}

	var out ExtensionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decoding extension column: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*e = out
	return nil
}
