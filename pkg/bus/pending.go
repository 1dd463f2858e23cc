package bus

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// pendingResult is what completes an Awaiter: either a deserialized response
// or an error (remote fault, cancellation, or timeout).
type pendingResult struct {
	response any
	err      error
}

// Awaiter is returned by Register and completed exactly once by Resolve,
// Cancel, or the reaper.
type Awaiter struct {
	ch chan pendingResult
}

// Wait blocks until the awaiter completes or ctx is cancelled, whichever
// comes first (§4.3 "Send flow" step 4).
func (a *Awaiter) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-a.ch:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingEntry struct {
	responseType reflect.Type
	awaiter      *Awaiter
	expiresAt    time.Time
}

// PendingRequestStore issues request ids, correlates responses, and times
// out (§4.3, §2 "Pending Request Store"). All operations are safe under
// concurrent calls; one store is process-wide within a Bus Facade.
type PendingRequestStore struct {
	serializer Serializer

	mu      sync.Mutex
	entries map[string]*pendingEntry
}

// NewPendingRequestStore creates an empty store. serializer deserializes
// response bytes using each entry's stored response type on Resolve.
func NewPendingRequestStore(serializer Serializer) *PendingRequestStore {
	return &PendingRequestStore{
		serializer: serializer,
		entries:    make(map[string]*pendingEntry),
	}
}

// Register inserts a new entry, failing if the id already exists (invariant
// 2: a request id is unique within one Bus Facade lifetime).
func (s *PendingRequestStore) Register(requestID string, responseType reflect.Type, expiresAt time.Time) (*Awaiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[requestID]; exists {
		return nil, ErrConfigInvalid("duplicate request id: "+requestID, nil)
	}

	awaiter := &Awaiter{ch: make(chan pendingResult, 1)}
	s.entries[requestID] = &pendingEntry{
		responseType: responseType,
		awaiter:      awaiter,
		expiresAt:    expiresAt,
	}
	return awaiter, nil
}

// Resolve completes the awaiter for requestID with either a deserialized
// response (errText == "") or a remote error; removes the entry. A no-op if
// the id is unknown — a late response for an already-reaped or
// already-resolved request.
func (s *PendingRequestStore) Resolve(requestID string, responseBytes []byte, errText string) {
	entry := s.remove(requestID)
	if entry == nil {
		return
	}

	if errText != "" {
		entry.awaiter.ch <- pendingResult{err: ErrRemoteFault(errText)}
		return
	}

	if s.serializer == nil || entry.responseType == nil {
		entry.awaiter.ch <- pendingResult{response: responseBytes}
		return
	}

	resp, err := s.serializer.Deserialize(entry.responseType, responseBytes)
	if err != nil {
		entry.awaiter.ch <- pendingResult{err: ErrSerialization(err)}
		return
	}
	entry.awaiter.ch <- pendingResult{response: resp}
}

// Cancel completes the awaiter with a cancellation error and removes the
// entry (§4.3).
func (s *PendingRequestStore) Cancel(requestID string) {
	entry := s.remove(requestID)
	if entry == nil {
		return
	}
	entry.awaiter.ch <- pendingResult{err: ErrCancelled(requestID)}
}

// ReapExpired removes and faults every entry whose expiresAt <= now with a
// timeout error (§4.3 "Reaper").
func (s *PendingRequestStore) ReapExpired(now time.Time) {
	type expiredEntry struct {
		id string
		e  *pendingEntry
	}

	s.mu.Lock()
	var expired []expiredEntry
	for id, e := range s.entries {
		if !e.expiresAt.After(now) {
			expired = append(expired, expiredEntry{id: id, e: e})
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, x := range expired {
		x.e.awaiter.ch <- pendingResult{err: ErrTimeout(x.id)}
	}
}

func (s *PendingRequestStore) remove(requestID string) *pendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if !ok {
		return nil
	}
	delete(s.entries, requestID)
	return e
}

// Len reports the number of pending entries; used by tests and diagnostics.
func (s *PendingRequestStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reaper runs ReapExpired on a fixed interval until ctx is cancelled (§4.3
// "Reaper": a single background timer ticking at a bounded interval, never
// firing Cancel from inside a transport callback).
func Reaper(ctx context.Context, store *PendingRequestStore, clock TimeSource, interval time.Duration) {
	if clock == nil {
		clock = systemClock{}
	}
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.ReapExpired(clock.Now())
		}
	}
}
