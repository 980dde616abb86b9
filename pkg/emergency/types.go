// Package emergency contains the public domain models, event definitions, and
// interfaces for the GuardianGrid fanout service. It defines the contract for
// interacting with the service.
package emergency

import (
	"strings"
	"time"
)

// RoomGlobal is the reserved room key for the cross-region broadcast audience.
const RoomGlobal = "global"

// RoleOperator marks users entitled to the global room in addition to their
// home region (the operator dashboard audience).
const RoleOperator = "operator"

// Alert severities. Critical alerts additionally trigger SMS escalation.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// NormalizeRegion canonicalizes a free-text region label into a room key.
// Join and event routing must both go through this so that differently-cased
// spellings of the same region resolve to the same room. An empty result
// means the input was unusable and must be dropped by the caller.
func NormalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// Identity is the per-connection output of the identity collaborator: who the
// user is, where they live, and whether they hold an elevated role. The
// fanout core treats this as opaque input and performs no authentication.
type Identity struct {
	UserID string `json:"userId"`
	Region string `json:"region"`
	Role   string `json:"role"`
}

// RequiredRooms deterministically derives the room set this identity is
// entitled to. Recomputed from scratch on every reconnect; the server never
// persists prior memberships.
func (id Identity) RequiredRooms() []string {
	rooms := make([]string, 0, 2)
	if region := NormalizeRegion(id.Region); region != "" {
		rooms = append(rooms, region)
	}
	if id.Role == RoleOperator {
		rooms = append(rooms, RoomGlobal)
	}
	return rooms
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" firestore:"latitude"`
	Longitude float64 `json:"longitude" firestore:"longitude"`
}

// Alert is an emergency notice targeted at one or more regions.
type Alert struct {
	ID            string    `json:"id" firestore:"id"`
	Title         string    `json:"title" firestore:"title"`
	Message       string    `json:"message" firestore:"message"`
	Type          string    `json:"type" firestore:"type"`
	Severity      string    `json:"severity" firestore:"severity"`
	TargetRegions []string  `json:"targetRegions" firestore:"target_regions"`
	Location      *GeoPoint `json:"location,omitempty" firestore:"location,omitempty"`
	IsActive      bool      `json:"isActive" firestore:"is_active"`
	CreatedBy     string    `json:"createdBy" firestore:"created_by"`
	CreatedAt     time.Time `json:"createdAt" firestore:"created_at"`
}

// RecordID satisfies the client cache's identity contract.
func (a *Alert) RecordID() string { return a.ID }

// Shelter is a physical refuge location in a single region.
type Shelter struct {
	ID          string    `json:"id" firestore:"id"`
	Name        string    `json:"name" firestore:"name"`
	Description string    `json:"description,omitempty" firestore:"description,omitempty"`
	Capacity    int       `json:"capacity" firestore:"capacity"`
	Region      string    `json:"region" firestore:"region"`
	Location    GeoPoint  `json:"location" firestore:"location"`
	IsActive    bool      `json:"isActive" firestore:"is_active"`
	CreatedAt   time.Time `json:"createdAt" firestore:"created_at"`
}

func (s *Shelter) RecordID() string { return s.ID }

// EmergencyContact is an organization reachable during an emergency,
// published to one or more regions.
type EmergencyContact struct {
	ID           string    `json:"id" firestore:"id"`
	Organization string    `json:"organization" firestore:"organization"`
	PhoneNumber  string    `json:"phoneNumber" firestore:"phone_number"`
	Category     string    `json:"category" firestore:"category"`
	Regions      []string  `json:"regions" firestore:"regions"`
	CreatedAt    time.Time `json:"createdAt" firestore:"created_at"`
}

func (c *EmergencyContact) RecordID() string { return c.ID }

// ConnectionInfo holds details about a live real-time connection, recorded in
// the presence cache for the lifetime of the connection.
type ConnectionInfo struct {
	ConnectionID     string `json:"connectionId"`
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}
