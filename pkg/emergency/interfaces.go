package emergency

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// EventPublisher is the entry point domain mutations use to announce state
// changes. Publishing is a best-effort side channel: implementations must
// never fail the mutation that triggered the publish.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// RoomEmitter delivers frames to connected clients. EmitToRoom targets every
// connection joined to the (normalized) room key; a room with zero members is
// a silent no-op. BroadcastAll reaches every live connection regardless of
// room membership.
type RoomEmitter interface {
	EmitToRoom(roomKey string, event string, payload any)
	BroadcastAll(event string, payload any)
}

// AlertStore is the persistence collaborator for alerts. Each successful
// mutation is the trigger that hands an Event to the EventPublisher; the
// fanout core does not validate or store records itself.
type AlertStore interface {
	Create(ctx context.Context, alert *Alert) error
	// Deactivate flips the alert inactive and returns the updated record.
	Deactivate(ctx context.Context, id string) (*Alert, error)
	// Delete removes the alert and returns the record as it was, so the
	// caller can still address its target regions.
	Delete(ctx context.Context, id string) (*Alert, error)
	// ListActiveByRegion returns active alerts targeting the region or the
	// global audience, newest first.
	ListActiveByRegion(ctx context.Context, region string) ([]*Alert, error)
}

// ShelterStore is the persistence collaborator for shelters.
type ShelterStore interface {
	Upsert(ctx context.Context, shelter *Shelter) error
	Delete(ctx context.Context, id string) (*Shelter, error)
	ListByRegion(ctx context.Context, region string) ([]*Shelter, error)
}

// ContactStore is the persistence collaborator for emergency contacts.
type ContactStore interface {
	Upsert(ctx context.Context, contact *EmergencyContact) error
	Delete(ctx context.Context, id string) (*EmergencyContact, error)
	// ListByRegion returns contacts published to the region or to the
	// global audience.
	ListByRegion(ctx context.Context, region string) ([]*EmergencyContact, error)
}

// PresenceCache records which connections are live on which server instance.
type PresenceCache interface {
	Set(ctx context.Context, connectionID string, info ConnectionInfo) error
	Delete(ctx context.Context, connectionID string) error
	Fetch(ctx context.Context, connectionID string) (ConnectionInfo, error)
	Close() error
}

// SMSNotifier escalates critical alerts over SMS. Best-effort: failures are
// logged by callers, never surfaced to the mutation path.
type SMSNotifier interface {
	NotifyAlert(ctx context.Context, phoneNumbers []string, alert *Alert) error
}

// Dependencies bundles the collaborators the service wrapper wires together.
type Dependencies struct {
	Alerts    AlertStore
	Shelters  ShelterStore
	Contacts  ContactStore
	Presence  PresenceCache
	Publisher EventPublisher
	SMS       SMSNotifier
}
