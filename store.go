package rcu9

import (
	"context"
	"sync"
)

// storeKey addresses either a raw parameter index (Bitfield == "") or a
// composite (index, bitfield_name) key.
type storeKey struct {
	Index    byte
	Bitfield string
}

// Snapshot is a coherent copy of a Store's contents, safe to read without
// holding any lock. Partial is set by run_once when the snapshot was
// returned because a deadline elapsed rather than because the
// collection-complete predicate held.
type Snapshot struct {
	Values   map[byte]DecodedValue
	Fields   map[byte]map[string]DecodedValue
	Warnings map[byte]UnknownParameterWarning
	Partial  bool
}

// Get looks up a plain parameter value from the snapshot.
func (s Snapshot) Get(idx byte) (DecodedValue, bool) {
	v, ok := s.Values[idx]
	return v, ok
}

// GetBitfield looks up a projected bitfield value from the snapshot.
func (s Snapshot) GetBitfield(idx byte, name string) (DecodedValue, bool) {
	fields, ok := s.Fields[idx]
	if !ok {
		return DecodedValue{}, false
	}
	v, ok := fields[name]
	return v, ok
}

// Store is the thread-safe value store backing a Session. Writes originate
// from the codec by way of the Session; reads originate from the Facade.
// Last write wins; deletion is not supported. A Store is created empty per
// Session and is never shared across concurrent sessions.
//
// The "new value" signal is a broadcast: instead of a persistent list of
// callbacks, waiters block on a channel that is closed (and replaced) on
// every write, so any number of concurrent waiters observe the broadcast
// exactly once each.
type Store struct {
	mu       sync.Mutex
	values   map[storeKey]DecodedValue
	observed map[byte]bool
	warnings map[byte]UnknownParameterWarning
	signal   chan struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		values:   make(map[storeKey]DecodedValue),
		observed: make(map[byte]bool),
		warnings: make(map[byte]UnknownParameterWarning),
		signal:   make(chan struct{}),
	}
}

// Set records the plain (non-bitfield) value for idx and marks idx as
// observed.
func (s *Store) Set(idx byte, v DecodedValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[storeKey{Index: idx}] = v
	s.observed[idx] = true
	s.broadcast()
}

// SetField records one projected bitfield value under the composite
// (idx, name) key and marks idx as observed.
func (s *Store) SetField(idx byte, name string, v DecodedValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[storeKey{Index: idx, Bitfield: name}] = v
	s.observed[idx] = true
	s.broadcast()
}

// SetWarning attaches an UnknownParameter annotation to idx's raw entry.
func (s *Store) SetWarning(idx byte, w UnknownParameterWarning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings[idx] = w
}

// must be called with s.mu held.
func (s *Store) broadcast() {
	close(s.signal)
	s.signal = make(chan struct{})
}

// Get returns the last-observed plain value for idx.
func (s *Store) Get(idx byte) (DecodedValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[storeKey{Index: idx}]
	return v, ok
}

// GetBitfield returns the last-observed projected value for (idx, name).
func (s *Store) GetBitfield(idx byte, name string) (DecodedValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[storeKey{Index: idx, Bitfield: name}]
	return v, ok
}

// Observed reports whether idx's full value has been seen at least once,
// used by the collection-complete predicate run_once waits on.
func (s *Store) Observed(idx byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[idx]
}

// ObservedAll reports whether every index in want has been observed.
func (s *Store) ObservedAll(want []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range want {
		if !s.observed[idx] {
			return false
		}
	}
	return true
}

// Wait blocks until the next write or ctx is done, whichever comes first.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.signal
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a coherent copy of the Store's contents. No torn reads of
// multi-byte values are possible since the copy is made while holding the
// lock a single write also holds.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Values:   make(map[byte]DecodedValue),
		Fields:   make(map[byte]map[string]DecodedValue),
		Warnings: make(map[byte]UnknownParameterWarning, len(s.warnings)),
	}
	for k, v := range s.values {
		if k.Bitfield == "" {
			snap.Values[k.Index] = v
			continue
		}
		if snap.Fields[k.Index] == nil {
			snap.Fields[k.Index] = make(map[string]DecodedValue)
		}
		snap.Fields[k.Index][k.Bitfield] = v
	}
	for idx, w := range s.warnings {
		snap.Warnings[idx] = w
	}
	return snap
}
