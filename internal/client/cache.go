// Package client implements the client-side half of the fanout protocol: the
// subscription manager state machine and the cached record lists it
// reconciles as events arrive.
package client

import (
	"sync"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// Record is anything a cached list can hold, keyed by a stable identity.
type Record interface {
	RecordID() string
}

// CachedList is an ordered collection of records keyed by identity, as
// displayed by a client. After any sequence of create/update/delete events it
// holds at most one entry per identity and no entry for a record whose
// lifecycle reached a terminal deleted or deactivated state.
type CachedList[T Record] struct {
	mu    sync.Mutex
	items []T
}

// NewCachedList creates an empty list.
func NewCachedList[T Record]() *CachedList[T] {
	return &CachedList[T]{}
}

// Upsert replaces the existing entry with the same identity in place, or
// prepends the record if none exists. Newest records surface first.
func (l *CachedList[T]) Upsert(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := item.RecordID()
	for i, existing := range l.items {
		if existing.RecordID() == id {
			l.items[i] = item
			return
		}
	}
	l.items = append([]T{item}, l.items...)
}

// Remove deletes the entry with the given identity, if present.
func (l *CachedList[T]) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.items {
		if existing.RecordID() == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the entire contents, used by a resync fetch after reconnect.
func (l *CachedList[T]) Replace(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]T(nil), items...)
}

// Snapshot returns a copy of the current contents in display order.
func (l *CachedList[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]T(nil), l.items...)
}

// Len reports the number of cached entries.
func (l *CachedList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// AlertFeed reconciles a cached alert list against room-targeted alert
// events for one user. Irrelevant events (no overlap with the user's region
// or the global audience) are discarded without mutating state.
type AlertFeed struct {
	userRegion string
	list       *CachedList[*emergency.Alert]
}

// NewAlertFeed creates a feed for the given (case-insensitive) user region.
func NewAlertFeed(userRegion string) *AlertFeed {
	return &AlertFeed{
		userRegion: userRegion,
		list:       NewCachedList[*emergency.Alert](),
	}
}

// ApplyCreated handles a new_alert_in_region payload.
func (f *AlertFeed) ApplyCreated(alert *emergency.Alert) {
	if !emergency.RegionMatches(alert.TargetRegions, f.userRegion) {
		return
	}
	if !alert.IsActive {
		// Terminal lifecycle state; never surface it.
		f.list.Remove(alert.ID)
		return
	}
	f.list.Upsert(alert)
}

// ApplyDeactivated handles an alert_deactivated_in_region payload. A
// deactivated alert is filtered out of the displayed list.
func (f *AlertFeed) ApplyDeactivated(ref emergency.Ref) {
	f.list.Remove(ref.ID)
}

// ApplyDeleted handles an alert_deleted_in_region payload.
func (f *AlertFeed) ApplyDeleted(ref emergency.Ref) {
	f.list.Remove(ref.ID)
}

// Resync replaces the feed with authoritative state fetched from
// persistence, the only recovery path for events missed while disconnected.
func (f *AlertFeed) Resync(alerts []*emergency.Alert) {
	f.list.Replace(alerts)
}

// Alerts returns the currently displayed alerts, newest first.
func (f *AlertFeed) Alerts() []*emergency.Alert {
	return f.list.Snapshot()
}
