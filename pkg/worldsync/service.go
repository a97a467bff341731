// Package worldsync runs one page of the world church sync: fetch, reconcile
// against the local directory, apply the resulting mutations.
package worldsync

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/directory"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/reconcile"
	"github.com/Ramsey-B/lily/pkg/tracing"
	"github.com/Ramsey-B/lily/pkg/wikidata"
)

type Source interface {
	FetchPage(ctx context.Context, limit, offset int) (*wikidata.Page, error)
	Limits() wikidata.Limits
}

type IndexLoader interface {
	Load(ctx context.Context) (*directory.Index, error)
}

type Mutator interface {
	ApplyUpdates(ctx context.Context, updates []models.ChurchUpdate) (int, error)
	ApplyInserts(ctx context.Context, churches []models.Church, withGeo bool) (int, error)
}

type Leaser interface {
	AcquireOrRenew(ctx context.Context, sessionID string) (string, error)
	Release(ctx context.Context, sessionID string) error
}

// GeoProber reports whether the churches table has the optional geo columns.
type GeoProber interface {
	HasGeoColumns(ctx context.Context) (bool, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type Service struct {
	source   Source
	loader   IndexLoader
	mutator  Mutator
	leases   Leaser
	geo      GeoProber
	cache    *database.CapabilityCache
	recorder AuditRecorder
	opts     reconcile.Options
	logger   ectologger.Logger
}

func NewService(
	source Source,
	loader IndexLoader,
	mutator Mutator,
	leases Leaser,
	geo GeoProber,
	recorder AuditRecorder,
	opts reconcile.Options,
	logger ectologger.Logger,
) *Service {
	return &Service{
		source:   source,
		loader:   loader,
		mutator:  mutator,
		leases:   leases,
		geo:      geo,
		cache:    database.NewCapabilityCache(),
		recorder: recorder,
		opts:     opts,
		logger:   logger,
	}
}

// SyncPage processes the source page at req.Offset. Rows committed before a
// failure stay committed; re-running the same page is idempotent.
func (s *Service) SyncPage(ctx context.Context, req models.SyncPageRequest) (resp *models.SyncPageResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "worldsync.Service.SyncPage")
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
		}
		metrics.RecordSyncPage(outcome, time.Since(start))
	}()

	sessionID, err := s.leases.AcquireOrRenew(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		// a failed response carries no session id, so the caller's retry
		// starts a fresh session and needs the lease free
		defer func() {
			if err != nil {
				s.abandon(ctx, sessionID)
			}
		}()
	}

	limit, offset := s.source.Limits().Clamp(deref(req.Limit), deref(req.Offset))
	span.SetAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset), attribute.String("session_id", sessionID))
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id": sessionID,
		"limit":      limit,
		"offset":     offset,
	})

	page, err := s.source.FetchPage(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	idx, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	result := reconcile.Reconcile(page.Records, idx, s.opts)
	plan := reconcile.Diff(result.Targets, idx)

	withGeo := false
	if len(plan.Inserts) > 0 {
		withGeo, err = s.cache.Get(ctx, sessionID, s.geo.HasGeoColumns)
		if err != nil {
			log.WithError(err).Error("geo column probe failed")
			return nil, err
		}
	}

	updated, err := s.mutator.ApplyUpdates(ctx, plan.Updates)
	if err != nil {
		return nil, err
	}
	inserted, err := s.mutator.ApplyInserts(ctx, plan.Inserts, withGeo)
	if err != nil {
		return nil, err
	}

	resp = &models.SyncPageResponse{
		Success:                  true,
		SessionID:                sessionID,
		SourcePageCount:          page.RawCount,
		NextOffset:               offset + page.RawCount,
		HasMore:                  page.RawCount >= limit,
		MatchedTargetTotal:       len(result.Targets),
		UnresolvedCountryCount:   result.UnresolvedCountryCount,
		UnresolvedCountrySamples: result.UnresolvedCountrySamples,
		SkippedNoCountryISOCount: result.SkippedNoISOCount,
		UnresolvedDioceseCount:   result.UnresolvedDioceseCount,
		UnresolvedDioceseSamples: result.UnresolvedDioceseSamples,
		AmbiguousDioceseCount:    result.AmbiguousDioceseCount,
		AmbiguousExistingCount:   plan.AmbiguousExisting,
		InsertedCount:            inserted,
		UpdatedCount:             updated,
		UnchangedCount:           plan.Unchanged,
	}
	resp.Message = fmt.Sprintf("Synced %d source rows at offset %d: %d inserted, %d updated, %d unchanged",
		page.RawCount, offset, inserted, updated, plan.Unchanged)

	metrics.RecordSyncRows("inserted", inserted)
	metrics.RecordSyncRows("updated", updated)
	metrics.RecordSyncRows("unchanged", plan.Unchanged)
	metrics.RecordSyncRows("unresolved_country", result.UnresolvedCountryCount)
	metrics.RecordSyncRows("unresolved_diocese", result.UnresolvedDioceseCount)
	metrics.RecordSyncRows("skipped_no_iso", result.SkippedNoISOCount)
	metrics.RecordSyncRows("ambiguous_existing", plan.AmbiguousExisting)

	s.recorder.Record(ctx, models.AuditEntry{
		Action:    models.AuditActionSync,
		TableName: "churches",
		RecordID:  sessionID,
		NewData:   summary(resp, offset, limit, withGeo),
	})

	log.WithFields(map[string]any{
		"source_rows":        page.RawCount,
		"targets":            len(result.Targets),
		"inserted":           inserted,
		"updated":            updated,
		"unchanged":          plan.Unchanged,
		"unresolved_country": result.UnresolvedCountryCount,
		"unresolved_diocese": result.UnresolvedDioceseCount,
		"ambiguous_diocese":  result.AmbiguousDioceseCount,
		"ambiguous_existing": plan.AmbiguousExisting,
		"has_more":           resp.HasMore,
	}).Info("sync page applied")

	if !resp.HasMore {
		s.cache.Forget(sessionID)
		if err := s.leases.Release(ctx, sessionID); err != nil {
			log.WithError(err).Warn("failed to release sync lease")
		}
	}

	return resp, nil
}

// ReleaseSession ends a session early, for example when an operator restarts.
func (s *Service) ReleaseSession(ctx context.Context, sessionID string) error {
	s.cache.Forget(sessionID)
	return s.leases.Release(ctx, sessionID)
}

func (s *Service) abandon(ctx context.Context, sessionID string) {
	s.cache.Forget(sessionID)
	if err := s.leases.Release(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("session_id", sessionID).Warn("failed to release lease of a failed first page")
	}
}

func summary(resp *models.SyncPageResponse, offset, limit int, withGeo bool) map[string]any {
	return map[string]any{
		"offset":                   offset,
		"limit":                    limit,
		"source_page_count":        resp.SourcePageCount,
		"has_more":                 resp.HasMore,
		"matched_target_total":     resp.MatchedTargetTotal,
		"inserted_count":           resp.InsertedCount,
		"updated_count":            resp.UpdatedCount,
		"unchanged_count":          resp.UnchangedCount,
		"unresolved_country_count": resp.UnresolvedCountryCount,
		"unresolved_diocese_count": resp.UnresolvedDioceseCount,
		"skipped_no_iso_count":     resp.SkippedNoCountryISOCount,
		"ambiguous_diocese_count":  resp.AmbiguousDioceseCount,
		"ambiguous_existing_count": resp.AmbiguousExistingCount,
		"geo_columns":              withGeo,
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
