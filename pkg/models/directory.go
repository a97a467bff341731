package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Country is a directory country. Only ISOCode participates in sync matching.
type Country struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	ISOCode   *string   `db:"iso_code" json:"iso_code,omitempty"`
	FlagEmoji *string   `db:"flag_emoji" json:"flag_emoji,omitempty"`
}

// NormalizedISO returns the upper-cased, trimmed ISO code or "" when unset.
func (c Country) NormalizedISO() string {
	if c.ISOCode == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*c.ISOCode))
}

func (Country) TableName() string {
	return "countries"
}

type Diocese struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CountryID uuid.UUID `db:"country_id" json:"country_id"`
}

func (Diocese) TableName() string {
	return "dioceses"
}

// Church is a directory church. Geo fields exist only when the schema has the
// optional columns; they are never scanned by the base select.
type Church struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	DioceseID uuid.UUID  `db:"diocese_id" json:"diocese_id"`
	Address   *string    `db:"address" json:"address,omitempty"`
	ImageURL  *string    `db:"image_url" json:"image_url,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	GoogleMapsURL *string  `db:"-" json:"google_maps_url,omitempty"`
	Latitude      *float64 `db:"-" json:"latitude,omitempty"`
	Longitude     *float64 `db:"-" json:"longitude,omitempty"`
}

func (Church) TableName() string {
	return "churches"
}

// IsActive reports whether the church has not been soft deleted.
func (c Church) IsActive() bool {
	return c.DeletedAt == nil
}
