// Package config provides a thread-safe in-memory registry of
// pkg/kroxy.VirtualCluster descriptors, the non-proto replacement for the
// teacher's gRPC/protobuf-backed VirtualClusterStore: an outer layer uses
// it to look clusters up by name or by
// the advertised host a client connected to, without any admin-plane
// transport baked into the core itself (§1: the core consumes, never
// owns, this configuration).
package config

import (
	"fmt"
	"sync"

	"github.com/kroxylicious/kroxycore/pkg/kroxy"
)

// Entry pairs a VirtualCluster descriptor with the advertised host clients
// use to reach it (see GetByAdvertisedHost).
type Entry struct {
	Cluster        kroxy.VirtualCluster
	AdvertisedHost string
}

// Store is a thread-safe in-memory registry of virtual cluster configs.
type Store struct {
	mu               sync.RWMutex
	byName           map[string]Entry
	byAdvertisedHost map[string]Entry
}

// NewStore creates a new empty store.
func NewStore() *Store {
	return &Store{
		byName:           make(map[string]Entry),
		byAdvertisedHost: make(map[string]Entry),
	}
}

// Upsert adds or updates a virtual cluster entry.
func (s *Store) Upsert(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byName[e.Cluster.Name]; ok {
		delete(s.byAdvertisedHost, old.AdvertisedHost)
	}

	s.byName[e.Cluster.Name] = e
	if e.AdvertisedHost != "" {
		s.byAdvertisedHost[e.AdvertisedHost] = e
	}
}

// Get retrieves a virtual cluster entry by name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byName[name]
	return e, ok
}

// GetByAdvertisedHost retrieves a virtual cluster entry by the hostname a
// client used to reach it.
func (s *Store) GetByAdvertisedHost(host string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAdvertisedHost[host]
	return e, ok
}

// Delete removes a virtual cluster entry by name.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byName[name]; ok {
		delete(s.byAdvertisedHost, old.AdvertisedHost)
	}
	delete(s.byName, name)
}

// List returns every registered entry, in no particular order.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e)
	}
	return out
}

// Count returns the number of registered entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}

// MustGet retrieves a virtual cluster entry by name, panicking if absent.
// Intended for startup-time wiring where a missing entry is a config bug.
func (s *Store) MustGet(name string) Entry {
	e, ok := s.Get(name)
	if !ok {
		panic(fmt.Sprintf("kroxy/config: no virtual cluster named %q", name))
	}
	return e
}
