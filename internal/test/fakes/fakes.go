// Package fakes provides in-memory test doubles (fakes) for the service's
// dependencies. These are used in the local entrypoint and in tests.
package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// --- Alert store ---

type AlertStore struct {
	mu     sync.Mutex
	alerts map[string]*emergency.Alert
	logger zerolog.Logger
}

func NewAlertStore(logger zerolog.Logger) *AlertStore {
	return &AlertStore{
		alerts: make(map[string]*emergency.Alert),
		logger: logger.With().Str("component", "FakeAlertStore").Logger(),
	}
}

func (s *AlertStore) Create(_ context.Context, alert *emergency.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *AlertStore) Deactivate(_ context.Context, id string) (*emergency.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	alert.IsActive = false
	copied := *alert
	return &copied, nil
}

func (s *AlertStore) Delete(_ context.Context, id string) (*emergency.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	delete(s.alerts, id)
	return alert, nil
}

func (s *AlertStore) ListActiveByRegion(_ context.Context, region string) ([]*emergency.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*emergency.Alert
	for _, alert := range s.alerts {
		if alert.IsActive && emergency.RegionMatches(alert.TargetRegions, region) {
			copied := *alert
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Shelter store ---

type ShelterStore struct {
	mu       sync.Mutex
	shelters map[string]*emergency.Shelter
}

func NewShelterStore() *ShelterStore {
	return &ShelterStore{shelters: make(map[string]*emergency.Shelter)}
}

func (s *ShelterStore) Upsert(_ context.Context, shelter *emergency.Shelter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *shelter
	s.shelters[shelter.ID] = &copied
	return nil
}

func (s *ShelterStore) Delete(_ context.Context, id string) (*emergency.Shelter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shelter, ok := s.shelters[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	delete(s.shelters, id)
	return shelter, nil
}

func (s *ShelterStore) ListByRegion(_ context.Context, region string) ([]*emergency.Shelter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := emergency.NormalizeRegion(region)
	var out []*emergency.Shelter
	for _, shelter := range s.shelters {
		if shelter.Region == want {
			copied := *shelter
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Contact store ---

type ContactStore struct {
	mu       sync.Mutex
	contacts map[string]*emergency.EmergencyContact
}

func NewContactStore() *ContactStore {
	return &ContactStore{contacts: make(map[string]*emergency.EmergencyContact)}
}

func (s *ContactStore) Upsert(_ context.Context, contact *emergency.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *contact
	s.contacts[contact.ID] = &copied
	return nil
}

func (s *ContactStore) Delete(_ context.Context, id string) (*emergency.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	delete(s.contacts, id)
	return contact, nil
}

func (s *ContactStore) ListByRegion(_ context.Context, region string) ([]*emergency.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*emergency.EmergencyContact
	for _, contact := range s.contacts {
		if emergency.RegionMatches(contact.Regions, region) {
			copied := *contact
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- Presence cache ---

type PresenceCache struct {
	mu      sync.Mutex
	entries map[string]emergency.ConnectionInfo
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{entries: make(map[string]emergency.ConnectionInfo)}
}

func (c *PresenceCache) Set(_ context.Context, connectionID string, info emergency.ConnectionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[connectionID] = info
	return nil
}

func (c *PresenceCache) Delete(_ context.Context, connectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, connectionID)
	return nil
}

func (c *PresenceCache) Fetch(_ context.Context, connectionID string) (emergency.ConnectionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[connectionID]
	if !ok {
		return emergency.ConnectionInfo{}, emergency.ErrNotFound
	}
	return info, nil
}

func (c *PresenceCache) Close() error { return nil }

// Len reports the number of live presence entries.
func (c *PresenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// --- Event publisher recorder ---

// Publisher records every published event so tests can assert on the fanout
// triggered by a mutation.
type Publisher struct {
	mu     sync.Mutex
	events []emergency.Event
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(_ context.Context, event emergency.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a copy of the recorded events in publish order.
func (p *Publisher) Events() []emergency.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]emergency.Event(nil), p.events...)
}

// --- SMS notifier recorder ---

type SMSNotifier struct {
	mu   sync.Mutex
	sent [][]string
}

func NewSMSNotifier() *SMSNotifier { return &SMSNotifier{} }

func (n *SMSNotifier) NotifyAlert(_ context.Context, phoneNumbers []string, _ *emergency.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, phoneNumbers)
	return nil
}

func (n *SMSNotifier) Sent() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]string(nil), n.sent...)
}
