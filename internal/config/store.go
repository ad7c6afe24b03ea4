package config

import (
	"fmt"
	"sync"

	"github.com/inthespace/tunneller/internal/router"
)

// RoutesChangedListener is invoked synchronously after every rule-list
// mutation, before the mutating call returns. A single slot exists: the
// control-channel client uses it to rebuild its sorted table so the next
// CONNECT sees the new rules.
type RoutesChangedListener func()

// Store is the live configuration. Reads take a read lock; mutations publish
// immediately and then fire the listener. Listener invocations are serialized
// with each other, but another mutation may update the state while one runs.
type Store struct {
	mu sync.RWMutex
	c  Config

	// publishMu serializes listener invocations so concurrent edits cannot
	// interleave their notifications.
	publishMu       sync.Mutex
	onRoutesChanged RoutesChangedListener
}

// notify runs the listener outside the state lock (the listener reads the
// store) but under publishMu.
func (s *Store) notify(fn RoutesChangedListener) {
	if fn == nil {
		return
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	fn()
}

func NewStore(c Config) *Store {
	return &Store{c: c.Clone()}
}

// SetRoutesChangedListener installs the single listener slot.
func (s *Store) SetRoutesChangedListener(fn RoutesChangedListener) {
	s.mu.Lock()
	s.onRoutesChanged = fn
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Clone()
}

func (s *Store) FullDomain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.FullDomain()
}

func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Mode
}

func (s *Store) SignalAddr() (host string, signalPort, dataPort int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.SignalHost, s.c.SignalPort, s.c.DataPort
}

func (s *Store) RawTarget() (host string, port int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.RawTargetHost, s.c.RawTargetPort
}

func (s *Store) AutoReconnect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.AutoReconnect
}

func (s *Store) ForceConnectionClose() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.ForceConnectionClose
}

func (s *Store) MonitoringEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.MonitoringEnabled
}

func (s *Store) BufferSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.BufferSize
}

// Rules returns a copy of the rule list in insertion order.
func (s *Store) Rules() []router.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]router.Rule(nil), s.c.Routes...)
}

// AddRule validates, appends and publishes a rule.
func (s *Store) AddRule(r router.Rule) error {
	r = r.Normalized()
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.c.Routes = append(s.c.Routes, r)
	fn := s.onRoutesChanged
	s.mu.Unlock()

	s.notify(fn)
	return nil
}

// UpdateRule replaces the rule at index.
func (s *Store) UpdateRule(index int, r router.Rule) error {
	r = r.Normalized()
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if index < 0 || index >= len(s.c.Routes) {
		s.mu.Unlock()
		return fmt.Errorf("route index out of range: %d", index)
	}
	s.c.Routes[index] = r
	fn := s.onRoutesChanged
	s.mu.Unlock()

	s.notify(fn)
	return nil
}

// RemoveRule deletes the rule at index.
func (s *Store) RemoveRule(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.c.Routes) {
		s.mu.Unlock()
		return fmt.Errorf("route index out of range: %d", index)
	}
	s.c.Routes = append(s.c.Routes[:index], s.c.Routes[index+1:]...)
	fn := s.onRoutesChanged
	s.mu.Unlock()

	s.notify(fn)
	return nil
}

// ReplaceRules swaps the whole rule list (config hot-reload).
func (s *Store) ReplaceRules(rules []router.Rule) error {
	normalized := make([]router.Rule, 0, len(rules))
	for _, r := range rules {
		r = r.Normalized()
		if err := r.Validate(); err != nil {
			return err
		}
		normalized = append(normalized, r)
	}

	s.mu.Lock()
	s.c.Routes = normalized
	fn := s.onRoutesChanged
	s.mu.Unlock()

	s.notify(fn)
	return nil
}

func (s *Store) SetDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	s.mu.Lock()
	s.c.Domain = domain
	s.mu.Unlock()
	return nil
}

func (s *Store) SetMode(m Mode) {
	s.mu.Lock()
	s.c.Mode = m
	s.mu.Unlock()
}

func (s *Store) SetSignal(host string, signalPort, dataPort int) error {
	for _, p := range []int{signalPort, dataPort} {
		if p != 0 && (p < 1 || p > 65535) {
			return fmt.Errorf("port out of range: %d", p)
		}
	}
	s.mu.Lock()
	if host != "" {
		s.c.SignalHost = host
	}
	if signalPort != 0 {
		s.c.SignalPort = signalPort
	}
	if dataPort != 0 {
		s.c.DataPort = dataPort
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) SetRawTarget(host string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	s.mu.Lock()
	if host != "" {
		s.c.RawTargetHost = host
	}
	s.c.RawTargetPort = port
	s.mu.Unlock()
	return nil
}
