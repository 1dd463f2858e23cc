package bus

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type baseEvent struct{ ID string }
type derivedEvent struct{ baseEvent }

func TestTypeRegistryMatchesAssignableTypes(t *testing.T) {
	r := newTypeRegistry()

	same := reflect.TypeOf(baseEvent{})
	require.True(t, r.matches(same, same))

	derived := reflect.TypeOf(derivedEvent{})
	other := reflect.TypeOf(struct{ X int }{})
	require.False(t, r.matches(derived, other))
}

func TestTypeRegistryCachesResult(t *testing.T) {
	r := newTypeRegistry()
	a := reflect.TypeOf(baseEvent{})
	b := reflect.TypeOf(baseEvent{})

	require.True(t, r.matches(a, b))
	r.mu.RLock()
	_, cached := r.cache[typePairKey{resolved: a, declared: b}]
	r.mu.RUnlock()
	require.True(t, cached)
}

func TestTypeRegistryNilTypesNeverMatch(t *testing.T) {
	r := newTypeRegistry()
	require.False(t, r.matches(nil, reflect.TypeOf(baseEvent{})))
	require.False(t, r.matches(reflect.TypeOf(baseEvent{}), nil))
}
