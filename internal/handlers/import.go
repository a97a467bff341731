package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lily/pkg/models"
)

type ChurchImporter interface {
	Import(ctx context.Context, filename string, content io.Reader) (*models.ImportReport, error)
}

// ImportHandler serves the bulk church import endpoint
type ImportHandler struct {
	importer       ChurchImporter
	maxUploadBytes int64
}

func NewImportHandler(importer ChurchImporter, maxUploadBytes int64) *ImportHandler {
	return &ImportHandler{importer: importer, maxUploadBytes: maxUploadBytes}
}

func (h *ImportHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/churches/import", h.Import)
}

// Import handles POST /churches/import with a multipart "file" field
func (h *ImportHandler) Import(c echo.Context) error {
	if h.maxUploadBytes > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return httperror.NewHTTPErrorf(http.StatusRequestEntityTooLarge, "upload exceeds %d bytes", h.maxUploadBytes)
		}
		return BadRequest("multipart field \"file\" is required")
	}

	file, err := header.Open()
	if err != nil {
		return BadRequest("failed to read upload")
	}
	defer file.Close()

	report, err := h.importer.Import(c.Request().Context(), header.Filename, file)
	if err != nil {
		return err
	}
	return CreatedResponse(c, report)
}
