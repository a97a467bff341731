// Package reconcile matches source records against the local directory and
// classifies each resulting target as insert, update or unchanged.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/Ramsey-B/lily/pkg/canonical"
	"github.com/Ramsey-B/lily/pkg/directory"
	"github.com/Ramsey-B/lily/pkg/models"
)

// DiocesePolicy decides what happens when several dioceses share a canonical
// name inside one country.
type DiocesePolicy string

const (
	// DiocesePolicyFirst uses the first candidate in index order.
	DiocesePolicyFirst DiocesePolicy = "first"
	// DiocesePolicyUnresolved treats the row as unresolved, like duplicate ISO codes.
	DiocesePolicyUnresolved DiocesePolicy = "unresolved"
)

const DefaultSampleLimit = 10

// ParseDiocesePolicy accepts "first" or "unresolved"; empty means first.
func ParseDiocesePolicy(s string) (DiocesePolicy, error) {
	switch DiocesePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DiocesePolicyFirst:
		return DiocesePolicyFirst, nil
	case DiocesePolicyUnresolved:
		return DiocesePolicyUnresolved, nil
	default:
		return "", fmt.Errorf("unknown ambiguous diocese policy %q", s)
	}
}

type Options struct {
	AmbiguousDiocese DiocesePolicy
	SampleLimit      int
}

// Result is the outcome of resolving one page of source rows. Unresolved and
// skipped rows are counts, not errors.
type Result struct {
	Targets                  []models.TargetChurch
	UnresolvedCountryCount   int
	UnresolvedCountrySamples []string
	UnresolvedDioceseCount   int
	UnresolvedDioceseSamples []string
	AmbiguousDioceseCount    int
	SkippedNoISOCount        int
	SkippedEmptyNameCount    int
}

// Reconcile resolves each row to a (diocese, canonical church name) key and
// keeps at most one target per key, the one whose name scores higher.
func Reconcile(rows []models.SourceRecord, idx *directory.Index, opts Options) Result {
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}

	res := Result{
		Targets:                  []models.TargetChurch{},
		UnresolvedCountrySamples: []string{},
		UnresolvedDioceseSamples: []string{},
	}
	byKey := make(map[models.ChurchKey]int)

	for _, row := range rows {
		iso := strings.ToUpper(strings.TrimSpace(row.CountryISOCode))
		if iso == "" {
			res.SkippedNoISOCount++
			continue
		}

		country, candidates := idx.Country(iso)
		if candidates != 1 {
			res.UnresolvedCountryCount++
			res.UnresolvedCountrySamples = addSample(res.UnresolvedCountrySamples, iso, opts.SampleLimit)
			continue
		}

		dioceseSample := fmt.Sprintf("%s (%s)", strings.TrimSpace(row.DioceseName), iso)
		dioceses := idx.Dioceses(country.ID, canonical.DioceseName(row.DioceseName))
		if len(dioceses) > 1 {
			res.AmbiguousDioceseCount++
			if opts.AmbiguousDiocese == DiocesePolicyUnresolved {
				dioceses = nil
			}
		}
		if len(dioceses) == 0 {
			res.UnresolvedDioceseCount++
			res.UnresolvedDioceseSamples = addSample(res.UnresolvedDioceseSamples, dioceseSample, opts.SampleLimit)
			continue
		}
		diocese := ectolinq.First(dioceses)

		churchName := canonical.ChurchName(row.Name)
		if churchName == "" {
			res.SkippedEmptyNameCount++
			continue
		}

		target := models.TargetChurch{
			Key:       models.ChurchKey{DioceseID: diocese.ID, CanonicalName: churchName},
			Name:      strings.TrimSpace(row.Name),
			SourceID:  row.SourceID,
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
		}

		if i, ok := byKey[target.Key]; ok {
			if canonical.NameQuality(target.Name) > canonical.NameQuality(res.Targets[i].Name) {
				res.Targets[i] = target
			}
			continue
		}
		byKey[target.Key] = len(res.Targets)
		res.Targets = append(res.Targets, target)
	}

	return res
}

func addSample(samples []string, value string, limit int) []string {
	if len(samples) >= limit || ectolinq.Contains(samples, value) {
		return samples
	}
	return append(samples, value)
}

// Plan is the set of mutations that brings the directory in line with targets.
type Plan struct {
	Inserts   []models.Church
	Updates   []models.ChurchUpdate
	Unchanged int
	// AmbiguousExisting counts targets whose key matched more than one active church.
	AmbiguousExisting int
}

// Diff classifies every target against the existing churches. An existing row
// is claimed by at most one target.
func Diff(targets []models.TargetChurch, idx *directory.Index) Plan {
	plan := Plan{
		Inserts: []models.Church{},
		Updates: []models.ChurchUpdate{},
	}
	used := make(map[uuid.UUID]bool)

	for _, target := range targets {
		candidates := ectolinq.Filter(idx.Churches(target.Key), func(c models.Church) bool {
			return !used[c.ID]
		})

		if len(candidates) == 0 {
			plan.Inserts = append(plan.Inserts, newChurch(target))
			continue
		}
		if len(candidates) > 1 {
			plan.AmbiguousExisting++
		}

		match := ectolinq.Find(candidates, func(c models.Church) bool {
			return c.Name == target.Name
		})
		if match.ID == uuid.Nil {
			match = ectolinq.First(candidates)
		}
		used[match.ID] = true

		if match.Name == target.Name {
			plan.Unchanged++
			continue
		}
		plan.Updates = append(plan.Updates, models.ChurchUpdate{
			ID:        match.ID,
			DioceseID: match.DioceseID,
			OldName:   match.Name,
			NewName:   target.Name,
		})
	}

	return plan
}

func newChurch(target models.TargetChurch) models.Church {
	church := models.Church{
		Name:      target.Name,
		DioceseID: target.Key.DioceseID,
		Latitude:  target.Latitude,
		Longitude: target.Longitude,
	}
	if target.Latitude != nil && target.Longitude != nil {
		mapsURL := fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%g,%g", *target.Latitude, *target.Longitude)
		church.GoogleMapsURL = &mapsURL
	}
	return church
}
