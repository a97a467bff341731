// Package importer loads churches from a CSV or XLSX upload. The whole file is
// validated first and written in a single transaction, so either every row is
// inserted or none is.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/lily/pkg/canonical"
	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/directory"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const (
	DefaultChunkSize = 200
	DefaultMaxRows   = 10000
)

type IndexLoader interface {
	Load(ctx context.Context) (*directory.Index, error)
}

type ChurchInserter interface {
	InsertBatch(ctx context.Context, churches []models.Church, withGeo bool) error
}

type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type Options struct {
	ChunkSize int
	MaxRows   int
}

type Importer struct {
	db       database.DB
	loader   IndexLoader
	churches ChurchInserter
	recorder AuditRecorder
	validate *validator.Validate
	opts     Options
	logger   ectologger.Logger
}

func NewImporter(db database.DB, loader IndexLoader, churches ChurchInserter, recorder AuditRecorder, opts Options, logger ectologger.Logger) *Importer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	return &Importer{
		db:       db,
		loader:   loader,
		churches: churches,
		recorder: recorder,
		validate: validator.New(),
		opts:     opts,
		logger:   logger,
	}
}

// Import parses, validates and inserts the file. Any row issue rejects the
// whole file with InvalidImport listing every issue found.
func (i *Importer) Import(ctx context.Context, filename string, content io.Reader) (*models.ImportReport, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Import")
	defer span.End()
	log := i.logger.WithContext(ctx).WithField("filename", filename)

	format, err := DetectFormat(filename)
	if err != nil {
		metrics.RecordImport("unknown", "rejected", 0)
		return nil, syncerrors.InvalidImport([]string{err.Error()})
	}
	span.SetAttributes(attribute.String("format", format))

	rows, err := ParseRows(format, content)
	if err != nil {
		metrics.RecordImport(format, "rejected", 0)
		return nil, syncerrors.InvalidImport([]string{err.Error()})
	}
	if len(rows) == 0 {
		metrics.RecordImport(format, "rejected", 0)
		return nil, syncerrors.InvalidImport([]string{"file has no data rows"})
	}
	if len(rows) > i.opts.MaxRows {
		metrics.RecordImport(format, "rejected", 0)
		return nil, syncerrors.InvalidImport([]string{fmt.Sprintf("file has %d rows, the limit is %d", len(rows), i.opts.MaxRows)})
	}

	idx, err := i.loader.Load(ctx)
	if err != nil {
		metrics.RecordImport(format, "error", 0)
		return nil, err
	}

	churches, issues := i.resolve(rows, idx)
	if len(issues) > 0 {
		metrics.RecordImport(format, "rejected", 0)
		log.WithField("issue_count", len(issues)).Warn("import rejected")
		return nil, syncerrors.InvalidImport(issues)
	}

	err = database.WithTx(ctx, i.db, func(ctx context.Context) error {
		for start := 0; start < len(churches); start += i.opts.ChunkSize {
			end := min(start+i.opts.ChunkSize, len(churches))
			if err := i.churches.InsertBatch(ctx, churches[start:end], false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordImport(format, "error", 0)
		log.WithError(err).Error("import transaction failed, no rows written")
		if _, ok := syncerrors.As(err); ok {
			return nil, err
		}
		return nil, syncerrors.DatabaseError(err, "import transaction failed")
	}

	report := &models.ImportReport{Format: format, Rows: len(rows), Inserted: len(churches)}
	metrics.RecordImport(format, "ok", report.Inserted)

	for _, c := range churches {
		i.recorder.Record(ctx, models.AuditEntry{
			Action:    models.AuditActionInsert,
			TableName: "churches",
			RecordID:  c.ID.String(),
			NewData:   map[string]any{"name": c.Name, "diocese_id": c.DioceseID.String()},
		})
	}
	i.recorder.Record(ctx, models.AuditEntry{
		Action:    models.AuditActionImport,
		TableName: "churches",
		NewData: map[string]any{
			"filename": filename,
			"format":   format,
			"inserted": report.Inserted,
		},
	})

	log.WithField("inserted", report.Inserted).Info("import committed")
	return report, nil
}

// resolve maps every row to a new church, collecting an issue per problem.
func (i *Importer) resolve(rows []models.ImportRow, idx *directory.Index) ([]models.Church, []string) {
	var issues []string
	churches := make([]models.Church, 0, len(rows))
	siblings := make(map[models.ChurchKey]int)

	for _, row := range rows {
		rowIssues := i.checkFields(row)
		if len(rowIssues) > 0 {
			issues = append(issues, rowIssues...)
			continue
		}

		country, matches := idx.Country(row.CountryISO)
		if matches == 0 {
			issues = append(issues, issue(row, "unknown country ISO code %q", row.CountryISO))
			continue
		}
		if matches > 1 {
			issues = append(issues, issue(row, "country ISO code %q matches %d countries", row.CountryISO, matches))
			continue
		}

		dioceses := idx.Dioceses(country.ID, canonical.DioceseName(row.Diocese))
		if len(dioceses) == 0 {
			issues = append(issues, issue(row, "diocese %q not found in %s", row.Diocese, row.CountryISO))
			continue
		}
		if len(dioceses) > 1 {
			issues = append(issues, issue(row, "diocese %q matches %d dioceses in %s", row.Diocese, len(dioceses), row.CountryISO))
			continue
		}

		key := models.ChurchKey{DioceseID: dioceses[0].ID, CanonicalName: canonical.ChurchName(row.Name)}
		if key.CanonicalName == "" {
			issues = append(issues, issue(row, "name %q has no usable characters", row.Name))
			continue
		}
		if existing := idx.Churches(key); len(existing) > 0 {
			issues = append(issues, issue(row, "church %q already exists as %q", row.Name, existing[0].Name))
			continue
		}
		if line, dup := siblings[key]; dup {
			issues = append(issues, issue(row, "church %q duplicates line %d", row.Name, line))
			continue
		}
		siblings[key] = row.Line

		churches = append(churches, models.Church{
			Name:      row.Name,
			DioceseID: key.DioceseID,
			Address:   optional(row.Address),
			ImageURL:  optional(row.ImageURL),
		})
	}

	return churches, issues
}

type rowFields struct {
	Name       string `validate:"required,max=255"`
	Diocese    string `validate:"required,max=255"`
	CountryISO string `validate:"required,len=2,alpha"`
	Address    string `validate:"max=1000"`
	ImageURL   string `validate:"omitempty,url"`
}

var fieldLabels = map[string]string{
	"Name":       "name",
	"Diocese":    "diocese",
	"CountryISO": "country_iso",
	"Address":    "address",
	"ImageURL":   "image_url",
}

func (i *Importer) checkFields(row models.ImportRow) []string {
	err := i.validate.Struct(rowFields{
		Name:       row.Name,
		Diocese:    row.Diocese,
		CountryISO: row.CountryISO,
		Address:    row.Address,
		ImageURL:   row.ImageURL,
	})
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{issue(row, "%v", err)}
	}

	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldLabels[fe.Field()]
		switch fe.Tag() {
		case "required":
			issues = append(issues, issue(row, "%s is required", field))
		case "url":
			issues = append(issues, issue(row, "%s must be a valid URL", field))
		case "len", "alpha":
			issues = append(issues, issue(row, "%s must be a 2-letter code", field))
		default:
			issues = append(issues, issue(row, "%s is too long", field))
		}
	}
	return issues
}

func issue(row models.ImportRow, format string, args ...any) string {
	return fmt.Sprintf("line %d: %s", row.Line, fmt.Sprintf(format, args...))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
