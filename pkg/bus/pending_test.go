package bus

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/slimbus-go/slimbus/pkg/bus/serde"
	"github.com/stretchr/testify/require"
)

type pong struct{ Text string }

func TestPendingRequestStoreRegisterRejectsDuplicateID(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	_, err := store.Register("req-1", reflect.TypeOf(pong{}), time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = store.Register("req-1", reflect.TypeOf(pong{}), time.Now().Add(time.Minute))
	require.Error(t, err)
}

func TestPendingRequestStoreResolveDeliversResponse(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	awaiter, err := store.Register("req-1", reflect.TypeOf(pong{}), time.Now().Add(time.Minute))
	require.NoError(t, err)

	store.Resolve("req-1", []byte(`{"Text":"hi"}`), "")

	resp, err := awaiter.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, pong{Text: "hi"}, resp)
	require.Equal(t, 0, store.Len())
}

func TestPendingRequestStoreResolveWithRemoteError(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	awaiter, err := store.Register("req-1", reflect.TypeOf(pong{}), time.Now().Add(time.Minute))
	require.NoError(t, err)

	store.Resolve("req-1", nil, "boom")

	_, err = awaiter.Wait(context.Background())
	require.ErrorContains(t, err, "boom")
}

func TestPendingRequestStoreResolveUnknownIDIsNoop(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	require.NotPanics(t, func() { store.Resolve("ghost", nil, "") })
}

func TestPendingRequestStoreCancel(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	awaiter, err := store.Register("req-1", reflect.TypeOf(pong{}), time.Now().Add(time.Minute))
	require.NoError(t, err)

	store.Cancel("req-1")

	_, err = awaiter.Wait(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, store.Len())
}

func TestPendingRequestStoreReapExpired(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	now := time.Now()
	awaiter, err := store.Register("req-1", reflect.TypeOf(pong{}), now.Add(-time.Second))
	require.NoError(t, err)

	store.ReapExpired(now)

	_, err = awaiter.Wait(context.Background())
	require.ErrorContains(t, err, "req-1")
	require.Equal(t, 0, store.Len())
}

func TestAwaiterWaitRespectsContextCancellation(t *testing.T) {
	awaiter := &Awaiter{ch: make(chan pendingResult, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := awaiter.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReaperSweepsOnInterval(t *testing.T) {
	store := NewPendingRequestStore(serde.JSON{})
	now := time.Now()
	awaiter, err := store.Register("req-1", reflect.TypeOf(pong{}), now.Add(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Reaper(ctx, store, systemClock{}, time.Millisecond)

	_, err = awaiter.Wait(context.Background())
	require.ErrorContains(t, err, "req-1")
}
