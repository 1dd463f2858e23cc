package serde

import (
	"reflect"
	"sync"

	"github.com/hamba/avro/v2"
)

// Avro implements bus.Serializer with hamba/avro/v2, deriving each message
// type's schema reflectively on first use and caching it (§10 DOMAIN
// STACK: binary, schema-carrying codec for transports where payload size
// or cross-language interop matters more than JSON's self-description).
type Avro struct {
	mu      sync.RWMutex
	schemas map[reflect.Type]avro.Schema
}

// NewAvro creates an empty schema cache.
func NewAvro() *Avro {
	return &Avro{schemas: make(map[reflect.Type]avro.Schema)}
}

func (a *Avro) schemaFor(t reflect.Type) (avro.Schema, error) {
	a.mu.RLock()
	s, ok := a.schemas[t]
	a.mu.RUnlock()
	if ok {
		return s, nil
	}

	zero := reflect.New(t).Elem().Interface()
	s, err := avro.SchemaOf(zero)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.schemas[t] = s
	a.mu.Unlock()
	return s, nil
}

// Serialize encodes v against t's derived schema.
func (a *Avro) Serialize(t reflect.Type, v any) ([]byte, error) {
	schema, err := a.schemaFor(t)
	if err != nil {
		return nil, err
	}
	return avro.Marshal(schema, v)
}

// Deserialize decodes data into a new *t against its derived schema,
// returning the pointed-to value.
func (a *Avro) Deserialize(t reflect.Type, data []byte) (any, error) {
	schema, err := a.schemaFor(t)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if err := avro.Unmarshal(schema, data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
