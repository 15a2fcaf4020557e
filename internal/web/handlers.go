package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxJSONBody bounds non-upload request bodies.
const maxJSONBody = 1 << 20

// importView is the API representation of an import. Raw file content is
// never echoed back.
type importView struct {
	ID           uuid.UUID              `json:"id"`
	FamilyID     uuid.UUID              `json:"family_id"`
	Format       domain.FormatKind      `json:"format"`
	Status       domain.Status          `json:"status"`
	AccountID    *uuid.UUID             `json:"account_id,omitempty"`
	Currency     string                 `json:"currency,omitempty"`
	Mapping      domain.ColumnMapping   `json:"mapping"`
	State        domain.FormatState     `json:"state"`
	RowsCount    int                    `json:"rows_count"`
	HasPositions bool                   `json:"has_positions"`
	Created      domain.CreatedEntities `json:"created"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	PublishedAt  *time.Time             `json:"published_at,omitempty"`
}

func viewImport(imp *domain.Import) importView {
	return importView{
		ID:           imp.ID,
		FamilyID:     imp.FamilyID,
		Format:       imp.Format,
		Status:       imp.Status,
		AccountID:    imp.AccountID,
		Currency:     imp.Currency,
		Mapping:      imp.Mapping,
		State:        imp.State,
		RowsCount:    imp.RowsCount,
		HasPositions: imp.Positions != "",
		Created:      imp.Created,
		Error:        imp.Error,
		CreatedAt:    imp.CreatedAt,
		UpdatedAt:    imp.UpdatedAt,
		PublishedAt:  imp.PublishedAt,
	}
}

// importID parses the {importID} URL parameter.
func importID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "importID"))
	if err != nil {
		return uuid.Nil, badRequest{fmt.Errorf("import id: %w", err)}
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{err}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListFormats lists the registered import formats.
func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Formats())
}

// handleListPresets lists column presets, optionally for one format.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets := s.service.Presets()
	if format := r.URL.Query().Get("format"); format != "" {
		writeJSON(w, http.StatusOK, presets.ForFormat(domain.FormatKind(format)))
		return
	}
	writeJSON(w, http.StatusOK, presets.All())
}

// handleStatus reports publish slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"publishes": s.service.Limiter().Status(),
	})
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var in core.NewImport
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	if in.FamilyID == uuid.Nil {
		s.respondError(w, r, badRequest{errors.New("family_id is required")})
		return
	}

	imp, err := s.service.CreateImport(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewImport(imp))
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	imp, err := s.service.Import(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewImport(imp))
}

// handleUpload accepts a multipart form with the export in "file" and, for
// brokerage imports, an optional positions snapshot in "positions".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		s.respondError(w, r, badRequest{err})
		return
	}
	defer r.MultipartForm.RemoveAll()

	content, err := readFormFile(r.MultipartForm, "file")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if content == nil {
		s.respondError(w, r, errNoFile)
		return
	}
	positions, err := readFormFile(r.MultipartForm, "positions")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	imp, err := s.service.Upload(r.Context(), id, content, positions)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewImport(imp))
}

// readFormFile returns the content of the named file part, or nil when the
// form has none.
func readFormFile(form *multipart.Form, name string) ([]byte, error) {
	headers := form.File[name]
	if len(headers) == 0 {
		return nil, nil
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var cfg core.Configuration
	if err := decodeJSON(w, r, &cfg); err != nil {
		s.respondError(w, r, err)
		return
	}

	imp, err := s.service.Configure(r.Context(), id, cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewImport(imp))
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.service.Clean(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Import importView      `json:"import"`
		Issues []core.RowIssue `json:"issues"`
	}{viewImport(result.Import), result.Issues})
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rows, err := s.service.Rows(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.respondError(w, r, badRequest{fmt.Errorf("row index %q", chi.URLParam(r, "index"))})
		return
	}
	var row domain.Row
	if err := decodeJSON(w, r, &row); err != nil {
		s.respondError(w, r, err)
		return
	}
	row.Index = index

	imp, err := s.service.UpdateRow(r.Context(), id, row)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewImport(imp))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	summary, err := s.service.Preview(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	summary, err := s.service.Publish(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	id, err := importID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.service.Revert(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
