// Package persistence contains the Firestore-backed record stores.
package persistence

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// Collections holds the Firestore collection names for the three record
// kinds.
type Collections struct {
	Alerts   string
	Shelters string
	Contacts string
}

// NewFirestoreStores builds the three record stores over a single Firestore
// client.
func NewFirestoreStores(client *firestore.Client, collections Collections, logger zerolog.Logger) (emergency.AlertStore, emergency.ShelterStore, emergency.ContactStore, error) {
	if client == nil {
		return nil, nil, nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collections.Alerts == "" || collections.Shelters == "" || collections.Contacts == "" {
		return nil, nil, nil, fmt.Errorf("all collection names must be configured")
	}
	alerts := &FirestoreAlertStore{
		client:     client,
		collection: collections.Alerts,
		logger:     logger.With().Str("component", "FirestoreAlertStore").Logger(),
	}
	shelters := &FirestoreShelterStore{
		client:     client,
		collection: collections.Shelters,
		logger:     logger.With().Str("component", "FirestoreShelterStore").Logger(),
	}
	contacts := &FirestoreContactStore{
		client:     client,
		collection: collections.Contacts,
		logger:     logger.With().Str("component", "FirestoreContactStore").Logger(),
	}
	return alerts, shelters, contacts, nil
}

// FirestoreAlertStore implements emergency.AlertStore on Firestore.
type FirestoreAlertStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// Create stores a new alert document keyed by its id.
func (s *FirestoreAlertStore) Create(ctx context.Context, alert *emergency.Alert) error {
	if _, err := s.client.Collection(s.collection).Doc(alert.ID).Create(ctx, alert); err != nil {
		return fmt.Errorf("failed to create alert %s: %w", alert.ID, err)
	}
	return nil
}

// Deactivate flips the alert inactive in a transaction and returns the
// updated record.
func (s *FirestoreAlertStore) Deactivate(ctx context.Context, id string) (*emergency.Alert, error) {
	docRef := s.client.Collection(s.collection).Doc(id)

	var alert emergency.Alert
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		if err := snap.DataTo(&alert); err != nil {
			return err
		}
		alert.IsActive = false
		return tx.Set(docRef, &alert)
	})
	if err != nil {
		return nil, wrapNotFound(err, "failed to deactivate alert")
	}
	return &alert, nil
}

// Delete removes the alert and returns the record as it was, so the caller
// can still address its target regions.
func (s *FirestoreAlertStore) Delete(ctx context.Context, id string) (*emergency.Alert, error) {
	docRef := s.client.Collection(s.collection).Doc(id)

	snap, err := docRef.Get(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "failed to fetch alert for deletion")
	}
	var alert emergency.Alert
	if err := snap.DataTo(&alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert %s: %w", id, err)
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	return &alert, nil
}

// ListActiveByRegion returns active alerts targeting the region or the
// global audience, newest first.
func (s *FirestoreAlertStore) ListActiveByRegion(ctx context.Context, region string) ([]*emergency.Alert, error) {
	audience := []string{emergency.NormalizeRegion(region), emergency.RoomGlobal}
	query := s.client.Collection(s.collection).
		Where("is_active", "==", true).
		Where("target_regions", "array-contains-any", audience).
		OrderBy("created_at", firestore.Desc)

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for region %s: %w", region, err)
	}

	alerts := make([]*emergency.Alert, 0, len(snaps))
	for _, snap := range snaps {
		var alert emergency.Alert
		if err := snap.DataTo(&alert); err != nil {
			s.logger.Error().Err(err).Str("doc_id", snap.Ref.ID).Msg("Failed to unmarshal alert, skipping.")
			continue
		}
		alerts = append(alerts, &alert)
	}
	return alerts, nil
}

// FirestoreShelterStore implements emergency.ShelterStore on Firestore.
type FirestoreShelterStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// Upsert writes the shelter document keyed by its id.
func (s *FirestoreShelterStore) Upsert(ctx context.Context, shelter *emergency.Shelter) error {
	if _, err := s.client.Collection(s.collection).Doc(shelter.ID).Set(ctx, shelter); err != nil {
		return fmt.Errorf("failed to upsert shelter %s: %w", shelter.ID, err)
	}
	return nil
}

// Delete removes the shelter and returns the record as it was.
func (s *FirestoreShelterStore) Delete(ctx context.Context, id string) (*emergency.Shelter, error) {
	docRef := s.client.Collection(s.collection).Doc(id)

	snap, err := docRef.Get(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "failed to fetch shelter for deletion")
	}
	var shelter emergency.Shelter
	if err := snap.DataTo(&shelter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shelter %s: %w", id, err)
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete shelter %s: %w", id, err)
	}
	return &shelter, nil
}

// ListByRegion returns the shelters in a region, newest first.
func (s *FirestoreShelterStore) ListByRegion(ctx context.Context, region string) ([]*emergency.Shelter, error) {
	query := s.client.Collection(s.collection).
		Where("region", "==", emergency.NormalizeRegion(region)).
		OrderBy("created_at", firestore.Desc)

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list shelters for region %s: %w", region, err)
	}

	shelters := make([]*emergency.Shelter, 0, len(snaps))
	for _, snap := range snaps {
		var shelter emergency.Shelter
		if err := snap.DataTo(&shelter); err != nil {
			s.logger.Error().Err(err).Str("doc_id", snap.Ref.ID).Msg("Failed to unmarshal shelter, skipping.")
			continue
		}
		shelters = append(shelters, &shelter)
	}
	return shelters, nil
}

// FirestoreContactStore implements emergency.ContactStore on Firestore.
type FirestoreContactStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// Upsert writes the contact document keyed by its id.
func (s *FirestoreContactStore) Upsert(ctx context.Context, contact *emergency.EmergencyContact) error {
	if _, err := s.client.Collection(s.collection).Doc(contact.ID).Set(ctx, contact); err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", contact.ID, err)
	}
	return nil
}

// Delete removes the contact and returns the record as it was.
func (s *FirestoreContactStore) Delete(ctx context.Context, id string) (*emergency.EmergencyContact, error) {
	docRef := s.client.Collection(s.collection).Doc(id)

	snap, err := docRef.Get(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "failed to fetch contact for deletion")
	}
	var contact emergency.EmergencyContact
	if err := snap.DataTo(&contact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact %s: %w", id, err)
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	return &contact, nil
}

// ListByRegion returns the contacts published to a region or to the global
// audience.
func (s *FirestoreContactStore) ListByRegion(ctx context.Context, region string) ([]*emergency.EmergencyContact, error) {
	audience := []string{emergency.NormalizeRegion(region), emergency.RoomGlobal}
	query := s.client.Collection(s.collection).
		Where("regions", "array-contains-any", audience)

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts for region %s: %w", region, err)
	}

	contacts := make([]*emergency.EmergencyContact, 0, len(snaps))
	for _, snap := range snaps {
		var contact emergency.EmergencyContact
		if err := snap.DataTo(&contact); err != nil {
			s.logger.Error().Err(err).Str("doc_id", snap.Ref.ID).Msg("Failed to unmarshal contact, skipping.")
			continue
		}
		contacts = append(contacts, &contact)
	}
	return contacts, nil
}

func wrapNotFound(err error, message string) error {
	if status.Code(err) == codes.NotFound {
		return emergency.ErrNotFound
	}
	return fmt.Errorf("%s: %w", message, err)
}
