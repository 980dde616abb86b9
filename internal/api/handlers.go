// Package api defines the HTTP handlers for the record mutation surface.
// Every successful mutation hands an event descriptor to the publisher; a
// failed publish never fails the request.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	alerts    emergency.AlertStore
	shelters  emergency.ShelterStore
	contacts  emergency.ContactStore
	publisher emergency.EventPublisher
	sms       emergency.SMSNotifier
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewAPI creates a new, stateless API handler. The SMS notifier may be nil
// when escalation is disabled.
func NewAPI(deps *emergency.Dependencies, logger zerolog.Logger) *API {
	return &API{
		alerts:    deps.Alerts,
		shelters:  deps.Shelters,
		contacts:  deps.Contacts,
		publisher: deps.Publisher,
		sms:       deps.SMS,
		logger:    logger.With().Str("component", "API").Logger(),
	}
}

// Wait blocks until background tasks (SMS escalation) are complete.
func (a *API) Wait() {
	a.wg.Wait()
}

// --- Alerts ---

type createAlertRequest struct {
	Title         string              `json:"title"`
	Message       string              `json:"message"`
	Type          string              `json:"type"`
	Severity      string              `json:"severity"`
	TargetRegions []string            `json:"targetRegions"`
	Location      *emergency.GeoPoint `json:"location,omitempty"`
	NotifyNumbers []string            `json:"notifyNumbers,omitempty"`
}

// CreateAlertHandler stores a new alert and announces it to its target
// regions.
func (a *API) CreateAlertHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" || req.Message == "" || req.Type == "" || len(req.TargetRegions) == 0 {
		writeJSONError(w, http.StatusBadRequest, "title, message, type, and target regions are required")
		return
	}

	severity := normalizeToken(req.Severity)
	if severity == "" {
		severity = emergency.SeverityMedium
	}

	alert := &emergency.Alert{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Message:       req.Message,
		Type:          normalizeToken(req.Type),
		Severity:      severity,
		TargetRegions: normalizeAll(req.TargetRegions),
		Location:      req.Location,
		IsActive:      true,
		CreatedBy:     identity.UserID,
		CreatedAt:     time.Now().UTC(),
	}

	log := a.logger.With().Str("alert", alert.ID).Str("user", identity.UserID).Logger()
	if err := a.alerts.Create(r.Context(), alert); err != nil {
		log.Error().Err(err).Msg("Failed to store alert.")
		writeJSONError(w, http.StatusInternalServerError, "failed to create alert")
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventAlertCreated,
		Regions: alert.TargetRegions,
		Payload: alert,
		Ref:     refFor(alert.ID, alert.TargetRegions),
	})

	if a.sms != nil && alert.Severity == emergency.SeverityCritical && len(req.NotifyNumbers) > 0 {
		a.escalateSMS(req.NotifyNumbers, alert, log)
	}

	log.Info().Strs("regions", alert.TargetRegions).Msg("Alert created.")
	writeJSON(w, http.StatusCreated, alert)
}

// DeactivateAlertHandler flips an alert inactive and announces the change.
func (a *API) DeactivateAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := a.logger.With().Str("alert", id).Logger()

	alert, err := a.alerts.Deactivate(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "failed to deactivate alert", log)
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventAlertDeactivated,
		Regions: alert.TargetRegions,
		Ref:     refFor(alert.ID, alert.TargetRegions),
	})

	log.Info().Msg("Alert deactivated.")
	writeJSON(w, http.StatusOK, alert)
}

// DeleteAlertHandler removes an alert and announces the deletion to the
// regions it targeted.
func (a *API) DeleteAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := a.logger.With().Str("alert", id).Logger()

	alert, err := a.alerts.Delete(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "failed to delete alert", log)
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventAlertDeleted,
		Regions: alert.TargetRegions,
		Ref:     refFor(alert.ID, alert.TargetRegions),
	})

	log.Info().Msg("Alert deleted.")
	writeJSON(w, http.StatusNoContent, nil)
}

// ListAlertsHandler returns active alerts for a region, including the global
// audience, newest first. This is also the client's resync fetch.
func (a *API) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	region := emergency.NormalizeRegion(r.PathValue("region"))
	if region == "" {
		writeJSONError(w, http.StatusBadRequest, "region parameter is required")
		return
	}

	alerts, err := a.alerts.ListActiveByRegion(r.Context(), region)
	if err != nil {
		a.logger.Error().Err(err).Str("region", region).Msg("Failed to list alerts.")
		writeJSONError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// --- Shelters ---

type upsertShelterRequest struct {
	ID          string             `json:"id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Capacity    int                `json:"capacity"`
	Region      string             `json:"region"`
	Location    emergency.GeoPoint `json:"location"`
}

// UpsertShelterHandler creates or updates a shelter and announces it to its
// region.
func (a *API) UpsertShelterHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.IdentityFromContext(r.Context()); !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var req upsertShelterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	region := emergency.NormalizeRegion(req.Region)
	if req.Name == "" || region == "" || req.Capacity <= 0 {
		writeJSONError(w, http.StatusBadRequest, "name, region, and a positive capacity are required")
		return
	}

	shelter := &emergency.Shelter{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		Region:      region,
		Location:    req.Location,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if shelter.ID == "" {
		shelter.ID = uuid.NewString()
	}

	log := a.logger.With().Str("shelter", shelter.ID).Logger()
	if err := a.shelters.Upsert(r.Context(), shelter); err != nil {
		log.Error().Err(err).Msg("Failed to store shelter.")
		writeJSONError(w, http.StatusInternalServerError, "failed to save shelter")
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventShelterUpserted,
		Regions: []string{shelter.Region},
		Payload: shelter,
		Ref:     emergency.Ref{ID: shelter.ID, Region: shelter.Region},
	})

	log.Info().Str("region", shelter.Region).Msg("Shelter saved.")
	writeJSON(w, http.StatusOK, shelter)
}

// DeleteShelterHandler removes a shelter and announces the deletion.
func (a *API) DeleteShelterHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := a.logger.With().Str("shelter", id).Logger()

	shelter, err := a.shelters.Delete(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "failed to delete shelter", log)
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventShelterDeleted,
		Regions: []string{shelter.Region},
		Ref:     emergency.Ref{ID: shelter.ID, Region: shelter.Region},
	})

	log.Info().Msg("Shelter deleted.")
	writeJSON(w, http.StatusNoContent, nil)
}

// ListSheltersHandler returns the shelters in a region.
func (a *API) ListSheltersHandler(w http.ResponseWriter, r *http.Request) {
	region := emergency.NormalizeRegion(r.PathValue("region"))
	if region == "" {
		writeJSONError(w, http.StatusBadRequest, "region parameter is required")
		return
	}

	shelters, err := a.shelters.ListByRegion(r.Context(), region)
	if err != nil {
		a.logger.Error().Err(err).Str("region", region).Msg("Failed to list shelters.")
		writeJSONError(w, http.StatusInternalServerError, "failed to list shelters")
		return
	}
	writeJSON(w, http.StatusOK, shelters)
}

// --- Emergency contacts ---

type upsertContactRequest struct {
	ID           string   `json:"id,omitempty"`
	Organization string   `json:"organization"`
	PhoneNumber  string   `json:"phoneNumber"`
	Category     string   `json:"category"`
	Regions      []string `json:"regions"`
}

// UpsertContactHandler creates or updates an emergency contact and announces
// it to every region it is published to.
func (a *API) UpsertContactHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.IdentityFromContext(r.Context()); !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var req upsertContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Organization == "" || req.PhoneNumber == "" || req.Category == "" || len(req.Regions) == 0 {
		writeJSONError(w, http.StatusBadRequest, "organization, phone number, category, and regions are required")
		return
	}

	contact := &emergency.EmergencyContact{
		ID:           req.ID,
		Organization: req.Organization,
		PhoneNumber:  req.PhoneNumber,
		Category:     normalizeToken(req.Category),
		Regions:      normalizeAll(req.Regions),
		CreatedAt:    time.Now().UTC(),
	}
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}

	log := a.logger.With().Str("contact", contact.ID).Logger()
	if err := a.contacts.Upsert(r.Context(), contact); err != nil {
		log.Error().Err(err).Msg("Failed to store contact.")
		writeJSONError(w, http.StatusInternalServerError, "failed to save contact")
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventContactUpserted,
		Regions: contact.Regions,
		Payload: contact,
		Ref:     refFor(contact.ID, contact.Regions),
	})

	log.Info().Strs("regions", contact.Regions).Msg("Emergency contact saved.")
	writeJSON(w, http.StatusOK, contact)
}

// DeleteContactHandler removes a contact and announces the deletion.
func (a *API) DeleteContactHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := a.logger.With().Str("contact", id).Logger()

	contact, err := a.contacts.Delete(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "failed to delete contact", log)
		return
	}

	a.publisher.Publish(r.Context(), emergency.Event{
		Kind:    emergency.EventContactDeleted,
		Regions: contact.Regions,
		Ref:     refFor(contact.ID, contact.Regions),
	})

	log.Info().Msg("Emergency contact deleted.")
	writeJSON(w, http.StatusNoContent, nil)
}

// ListContactsHandler returns the contacts published to a region or to the
// global audience.
func (a *API) ListContactsHandler(w http.ResponseWriter, r *http.Request) {
	region := emergency.NormalizeRegion(r.PathValue("region"))
	if region == "" {
		writeJSONError(w, http.StatusBadRequest, "region parameter is required")
		return
	}

	contacts, err := a.contacts.ListByRegion(r.Context(), region)
	if err != nil {
		a.logger.Error().Err(err).Str("region", region).Msg("Failed to list contacts.")
		writeJSONError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// --- helpers ---

// escalateSMS sends critical-alert SMS in the background so the mutation
// response is not delayed by the SMS gateway.
func (a *API) escalateSMS(numbers []string, alert *emergency.Alert, log zerolog.Logger) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := a.sms.NotifyAlert(ctx, numbers, alert); err != nil {
			log.Error().Err(err).Msg("SMS escalation failed.")
			return
		}
		log.Info().Int("recipients", len(numbers)).Msg("SMS escalation sent.")
	}()
}

func (a *API) writeStoreError(w http.ResponseWriter, err error, message string, log zerolog.Logger) {
	if errors.Is(err, emergency.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "record not found")
		return
	}
	log.Error().Err(err).Msg(message)
	writeJSONError(w, http.StatusInternalServerError, message)
}

// normalizeToken canonicalizes free-text enum fields (severity, alert type,
// contact category) so stored records compare case-insensitively.
func normalizeToken(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func normalizeAll(regions []string) []string {
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if region := emergency.NormalizeRegion(r); region != "" {
			out = append(out, region)
		}
	}
	return out
}

func refFor(id string, regions []string) emergency.Ref {
	ref := emergency.Ref{ID: id}
	if len(regions) == 1 {
		ref.Region = regions[0]
	}
	return ref
}
