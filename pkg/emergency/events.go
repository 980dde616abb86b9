package emergency

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates the domain mutations announced through the fanout
// layer. Events are transient; a client that missed one recovers by
// re-fetching current state, never by replay.
type EventKind string

const (
	EventAlertCreated     EventKind = "alert.created"
	EventAlertDeactivated EventKind = "alert.deactivated"
	EventAlertDeleted     EventKind = "alert.deleted"
	EventShelterUpserted  EventKind = "shelter.created_or_updated"
	EventShelterDeleted   EventKind = "shelter.deleted"
	EventContactUpserted  EventKind = "contact.created_or_updated"
	EventContactDeleted   EventKind = "contact.deleted"
)

// Client -> server message names.
const (
	MsgJoinRoom = "joinRoom"
)

// Server -> client, room-targeted message names. Payload is the full record
// for create/update kinds and a Ref for delete/deactivate kinds.
const (
	MsgNewAlertInRegion         = "new_alert_in_region"
	MsgAlertDeactivatedInRegion = "alert_deactivated_in_region"
	MsgAlertDeletedInRegion     = "alert_deleted_in_region"
	MsgShelterUpdatedInRegion   = "shelter_updated_in_region"
	MsgShelterDeletedInRegion   = "shelter_deleted_in_region"
	MsgContactUpdatedInRegion   = "emergency_contact_updated_in_region"
	MsgContactDeletedInRegion   = "emergency_contact_deleted_in_region"
)

// Server -> client, broadcast feed message names. Payload is a FeedUpdate.
const (
	MsgAlertFeedUpdate   = "global_alert_feed_update"
	MsgShelterFeedUpdate = "global_shelter_feed_update"
	MsgContactFeedUpdate = "global_emergency_contact_feed_update"
)

// Ref is the minimal reference carried by delete/deactivate events: by the
// time the event is handled the record may already be gone from persistence.
type Ref struct {
	ID     string `json:"id"`
	Region string `json:"region,omitempty"`
}

// Event is the descriptor a successful domain mutation hands to the event
// publisher. Regions is the target-region list; an empty list means only the
// global feed channel is notified. Payload carries the full affected record
// for create/update kinds and is nil for delete/deactivate kinds, where Ref
// alone identifies the record.
type Event struct {
	Kind    EventKind
	Regions []string
	Payload any
	Ref     Ref
}

// FeedUpdate is the lightweight broadcast signal sent alongside every
// room-targeted emit. It tells any connected client that something changed
// without carrying full payload detail for rooms it is not part of.
type FeedUpdate struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	Region string `json:"region,omitempty"`
}

// Frame is the wire envelope for every message on the bidirectional
// transport: a named event plus a JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFrame marshals payload into a Frame ready for transmission.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %q payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// RoomMessage maps an event kind to its room-targeted wire message name.
func (k EventKind) RoomMessage() (string, bool) {
	switch k {
	case EventAlertCreated:
		return MsgNewAlertInRegion, true
	case EventAlertDeactivated:
		return MsgAlertDeactivatedInRegion, true
	case EventAlertDeleted:
		return MsgAlertDeletedInRegion, true
	case EventShelterUpserted:
		return MsgShelterUpdatedInRegion, true
	case EventShelterDeleted:
		return MsgShelterDeletedInRegion, true
	case EventContactUpserted:
		return MsgContactUpdatedInRegion, true
	case EventContactDeleted:
		return MsgContactDeletedInRegion, true
	}
	return "", false
}

// FeedMessage maps an event kind to its broadcast feed message name.
func (k EventKind) FeedMessage() (string, bool) {
	switch k {
	case EventAlertCreated, EventAlertDeactivated, EventAlertDeleted:
		return MsgAlertFeedUpdate, true
	case EventShelterUpserted, EventShelterDeleted:
		return MsgShelterFeedUpdate, true
	case EventContactUpserted, EventContactDeleted:
		return MsgContactFeedUpdate, true
	}
	return "", false
}

// FeedAction maps an event kind to the action string carried by its
// FeedUpdate broadcast.
func (k EventKind) FeedAction() string {
	switch k {
	case EventAlertCreated:
		return "created"
	case EventAlertDeactivated:
		return "deactivated"
	case EventAlertDeleted, EventShelterDeleted, EventContactDeleted:
		return "deleted"
	case EventShelterUpserted, EventContactUpserted:
		return "updated"
	}
	return ""
}

// RegionMatches reports whether a normalized user region is addressed by an
// event's target-region list: either the region itself appears (compared
// case-insensitively) or the list contains the global audience.
func RegionMatches(targetRegions []string, userRegion string) bool {
	user := NormalizeRegion(userRegion)
	if user == "" {
		return false
	}
	for _, r := range targetRegions {
		switch NormalizeRegion(r) {
		case user, RoomGlobal:
			return true
		}
	}
	return false
}
