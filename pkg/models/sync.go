package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceRecord is one church row from the external knowledge graph.
type SourceRecord struct {
	SourceID       string   `json:"source_id"`
	Name           string   `json:"name"`
	DioceseName    string   `json:"diocese_name"`
	CountryISOCode string   `json:"country_iso_code"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// ChurchKey is the canonical matching identity of a church.
type ChurchKey struct {
	DioceseID     uuid.UUID
	CanonicalName string
}

// DioceseKey is the canonical matching identity of a diocese.
type DioceseKey struct {
	CountryID     uuid.UUID
	CanonicalName string
}

// TargetChurch is the reconciled desired state for one church key.
type TargetChurch struct {
	Key       ChurchKey
	Name      string
	SourceID  string
	Latitude  *float64
	Longitude *float64
}

// ChurchUpdate renames an existing church.
type ChurchUpdate struct {
	ID        uuid.UUID
	DioceseID uuid.UUID
	OldName   string
	NewName   string
}

const SyncCheckpointVersion = 1

// SyncCheckpoint is the resumable progress of a multi-page sync session.
type SyncCheckpoint struct {
	Version           int       `json:"version"`
	SessionID         string    `json:"session_id,omitempty"`
	Limit             int       `json:"limit,omitempty"`
	Offset            int       `json:"offset"`
	Page              int       `json:"page"`
	Processed         int       `json:"processed"`
	Inserted          int       `json:"inserted"`
	Updated           int       `json:"updated"`
	Unchanged         int       `json:"unchanged"`
	UnresolvedDiocese int       `json:"unresolved_diocese"`
	UnresolvedCountry int       `json:"unresolved_country"`
	SkippedNoISO      int       `json:"skipped_no_iso"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SyncPageRequest is the body of POST /sync-world-churches.
type SyncPageRequest struct {
	Offset    *int   `json:"offset,omitempty" validate:"omitempty,min=0"`
	Limit     *int   `json:"limit,omitempty" validate:"omitempty,min=1"`
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,max=128"`
}

// SyncPageResponse is the body returned by POST /sync-world-churches.
type SyncPageResponse struct {
	Success                  bool     `json:"success"`
	Message                  string   `json:"message"`
	SessionID                string   `json:"sessionId"`
	SourcePageCount          int      `json:"sourcePageCount"`
	NextOffset               int      `json:"nextOffset"`
	HasMore                  bool     `json:"hasMore"`
	MatchedTargetTotal       int      `json:"matchedTargetTotal"`
	UnresolvedCountryCount   int      `json:"unresolvedCountryCount"`
	UnresolvedCountrySamples []string `json:"unresolvedCountrySamples"`
	SkippedNoCountryISOCount int      `json:"skippedNoCountryIsoCount"`
	UnresolvedDioceseCount   int      `json:"unresolvedDioceseCount"`
	UnresolvedDioceseSamples []string `json:"unresolvedDioceseSamples"`
	AmbiguousDioceseCount    int      `json:"ambiguousDioceseCount"`
	AmbiguousExistingCount   int      `json:"ambiguousExistingCount"`
	InsertedCount            int      `json:"insertedCount"`
	UpdatedCount             int      `json:"updatedCount"`
	UnchangedCount           int      `json:"unchangedCount"`
}
