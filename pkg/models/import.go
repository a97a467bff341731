package models

// ImportRow is one parsed spreadsheet row, before validation.
type ImportRow struct {
	Line       int    `json:"line"`
	Name       string `json:"name"`
	Diocese    string `json:"diocese"`
	CountryISO string `json:"country_iso"`
	Address    string `json:"address,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// ImportReport is the result of a successful bulk import.
type ImportReport struct {
	Format   string `json:"format"`
	Rows     int    `json:"rows"`
	Inserted int    `json:"inserted"`
}
