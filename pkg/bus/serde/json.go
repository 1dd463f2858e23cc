// Package serde provides Serializer implementations for the payload codec
// collaborator (§6 "Serializer").
package serde

import (
	"encoding/json"
	"reflect"
)

// JSON implements bus.Serializer with encoding/json. It is the default:
// every declared message type in this corpus is a plain struct with
// exported fields and no domain-specific wire format, so there is nothing
// for a third-party codec to buy here over the standard library.
type JSON struct{}

// Serialize marshals v. t is accepted for interface symmetry with
// Deserialize but unused; json.Marshal already dispatches on v's dynamic
// type.
func (JSON) Serialize(t reflect.Type, v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize allocates a new *t and unmarshals data into it, returning the
// pointed-to value (not the pointer) so callers get back the same shape
// they published.
func (JSON) Deserialize(t reflect.Type, data []byte) (any, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
