package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	_ "github.com/JonMunkholm/ledgerimport/internal/formats"
	"github.com/JonMunkholm/ledgerimport/internal/store/memory"
	"github.com/google/uuid"
)

const checkingCSV = `Date,Amount,Name,Category
2024-02-01,-12.50,Coffee Bar,Food
2024-02-02,2500.00,Employer,Income
`

type testAPI struct {
	t      *testing.T
	srv    *Server
	store  *memory.Store
	family uuid.UUID
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *testAPI {
	t.Helper()
	cfg := &config.Config{
		Import:   config.ImportConfig{MaxFileSize: 1 << 20, DefaultCurrency: "USD"},
		Security: config.SecurityConfig{},
		Rate:     config.RateLimitConfig{Enabled: false},
	}
	if mutate != nil {
		mutate(cfg)
	}
	store := memory.New()
	svc := core.NewService(store, core.Options{DefaultCurrency: "USD", MaxFileSize: cfg.Import.MaxFileSize})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testAPI{t: t, srv: srv, store: store, family: uuid.New()}
}

func (a *testAPI) do(req *http.Request, wantStatus int, out any) {
	a.t.Helper()
	rec := httptest.NewRecorder()
	a.srv.Router().ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		a.t.Fatalf("%s %s status = %d, want %d; body %s", req.Method, req.URL.Path, rec.Code, wantStatus, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("decode %s response: %v", req.URL.Path, err)
		}
	}
}

func (a *testAPI) json(method, path string, body any, wantStatus int, out any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	a.do(req, wantStatus, out)
}

func (a *testAPI) upload(id uuid.UUID, content string, wantStatus int, out any) {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != "" {
		part, err := mw.CreateFormFile("file", "export.csv")
		if err != nil {
			a.t.Fatal(err)
		}
		part.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/imports/%s/upload", id), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	a.do(req, wantStatus, out)
}

func (a *testAPI) account() uuid.UUID {
	a.t.Helper()
	acct := &domain.Account{ID: uuid.New(), FamilyID: a.family, Name: "Checking", Currency: "USD", Kind: domain.AccountDepository}
	if err := a.store.CreateAccount(context.Background(), acct); err != nil {
		a.t.Fatal(err)
	}
	return acct.ID
}

// ---- Lifecycle Tests ----

func TestAPI_ImportLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	acct := api.account()

	var imp importView
	api.json(http.MethodPost, "/api/imports", core.NewImport{
		FamilyID:  api.family,
		Format:    domain.FormatTransactions,
		AccountID: &acct,
		Preset:    "generic",
	}, http.StatusCreated, &imp)
	if imp.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", imp.Status)
	}

	api.upload(imp.ID, checkingCSV, http.StatusOK, &imp)
	if imp.Status != domain.StatusUploaded || imp.RowsCount != 2 {
		t.Fatalf("after upload status = %s rows = %d, want uploaded/2", imp.Status, imp.RowsCount)
	}

	var rows []domain.Row
	api.json(http.MethodGet, fmt.Sprintf("/api/imports/%s/rows", imp.ID), nil, http.StatusOK, &rows)
	if len(rows) != 2 || rows[0].Name != "Coffee Bar" {
		t.Fatalf("rows = %+v", rows)
	}

	api.json(http.MethodPut, fmt.Sprintf("/api/imports/%s/configuration", imp.ID), core.Configuration{}, http.StatusOK, &imp)
	if imp.Status != domain.StatusConfigured {
		t.Fatalf("after configure status = %s, want configured", imp.Status)
	}

	var cleaned struct {
		Import importView      `json:"import"`
		Issues []core.RowIssue `json:"issues"`
	}
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/clean", imp.ID), nil, http.StatusOK, &cleaned)
	if cleaned.Import.Status != domain.StatusPublishable {
		t.Fatalf("after clean status = %s, issues %v", cleaned.Import.Status, cleaned.Issues)
	}

	var preview core.Summary
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/preview", imp.ID), nil, http.StatusOK, &preview)
	if !preview.DryRun || preview.Transactions != 2 {
		t.Errorf("preview = %+v, want dry run with 2 transactions", preview)
	}

	var published core.Summary
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/publish", imp.ID), nil, http.StatusOK, &published)
	if published.Transactions != 2 {
		t.Errorf("published transactions = %d, want 2", published.Transactions)
	}

	// A second publish is a lifecycle conflict.
	var errResp ErrorResponse
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/publish", imp.ID), nil, http.StatusConflict, &errResp)
	if errResp.Code != "IMP001" {
		t.Errorf("republish code = %q, want IMP001", errResp.Code)
	}

	var reverted core.RevertResult
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/revert", imp.ID), nil, http.StatusOK, &reverted)
	if reverted.Deleted[domain.KindEntry] != 2 {
		t.Errorf("reverted entries = %d, want 2", reverted.Deleted[domain.KindEntry])
	}

	api.json(http.MethodGet, fmt.Sprintf("/api/imports/%s", imp.ID), nil, http.StatusOK, &imp)
	if imp.Status != domain.StatusReverted {
		t.Errorf("final status = %s, want reverted", imp.Status)
	}
}

// ---- Error Mapping Tests ----

func TestAPI_Errors(t *testing.T) {
	api := newTestAPI(t, nil)

	var errResp ErrorResponse
	api.json(http.MethodGet, "/api/imports/not-a-uuid", nil, http.StatusBadRequest, &errResp)
	if errResp.Code != "REQ003" {
		t.Errorf("bad id code = %q, want REQ003", errResp.Code)
	}

	api.json(http.MethodGet, "/api/imports/"+uuid.NewString(), nil, http.StatusNotFound, &errResp)
	if errResp.Code != "IMP003" {
		t.Errorf("missing import code = %q, want IMP003", errResp.Code)
	}

	api.json(http.MethodPost, "/api/imports", core.NewImport{FamilyID: api.family, Format: "csv-ish"}, http.StatusBadRequest, &errResp)
	if errResp.Code != "IMP005" {
		t.Errorf("unknown format code = %q, want IMP005", errResp.Code)
	}

	var imp importView
	api.json(http.MethodPost, "/api/imports", core.NewImport{FamilyID: api.family, Format: domain.FormatOFX}, http.StatusCreated, &imp)

	api.upload(imp.ID, "", http.StatusBadRequest, &errResp)
	if errResp.Code != "FILE004" {
		t.Errorf("missing file code = %q, want FILE004", errResp.Code)
	}

	api.upload(imp.ID, "this is not ofx", http.StatusUnprocessableEntity, &errResp)
	if errResp.Code != "FILE002" {
		t.Errorf("malformed file code = %q, want FILE002", errResp.Code)
	}

	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/publish", imp.ID), nil, http.StatusConflict, &errResp)
}

func TestAPI_UploadTooLarge(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) { c.Import.MaxFileSize = 64 })

	var imp importView
	api.json(http.MethodPost, "/api/imports", core.NewImport{FamilyID: api.family, Format: domain.FormatTransactions}, http.StatusCreated, &imp)

	var errResp ErrorResponse
	api.upload(imp.ID, checkingCSV+checkingCSV+checkingCSV, http.StatusRequestEntityTooLarge, &errResp)
	if errResp.Code != "FILE001" {
		t.Errorf("too large code = %q, want FILE001", errResp.Code)
	}
}

func TestAPI_APIKeyRequired(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	})

	api.json(http.MethodGet, "/api/formats", nil, http.StatusUnauthorized, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("X-API-Key", "k1")
	var formats []core.FormatInfo
	api.do(req, http.StatusOK, &formats)
	if len(formats) < 8 {
		t.Errorf("formats = %d, want all registered formats", len(formats))
	}

	// Health checks stay open.
	api.json(http.MethodGet, "/healthz", nil, http.StatusOK, nil)
}

func TestAPI_LedgerWritesNeedPublishKey(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{
			RequireAPIKey:  true,
			APIKeys:        []string{"stage-key"},
			PublishAPIKeys: []string{"ledger-key"},
		}
	})
	acct := api.account()

	call := func(key, method, path string, body any, wantStatus int, out any) {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", key)
		api.do(req, wantStatus, out)
	}

	var imp importView
	call("stage-key", http.MethodPost, "/api/imports", core.NewImport{
		FamilyID: api.family, Format: domain.FormatTransactions, AccountID: &acct, Preset: "generic",
	}, http.StatusCreated, &imp)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	part, _ := mpw.CreateFormFile("file", "export.csv")
	part.Write([]byte(checkingCSV))
	mpw.Close()
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/imports/%s/upload", imp.ID), &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	req.Header.Set("X-API-Key", "stage-key")
	api.do(req, http.StatusOK, &imp)

	base := fmt.Sprintf("/api/imports/%s", imp.ID)
	call("stage-key", http.MethodPut, base+"/configuration", core.Configuration{}, http.StatusOK, &imp)
	call("stage-key", http.MethodPost, base+"/clean", nil, http.StatusOK, nil)
	call("stage-key", http.MethodPost, base+"/preview", nil, http.StatusOK, nil)

	var errResp ErrorResponse
	call("stage-key", http.MethodPost, base+"/publish", nil, http.StatusForbidden, &errResp)
	if errResp.Code != "AUTH003" {
		t.Errorf("stage key publish code = %q, want AUTH003", errResp.Code)
	}
	call("nope", http.MethodPost, base+"/publish", nil, http.StatusForbidden, &errResp)
	if errResp.Code != "AUTH002" {
		t.Errorf("unknown key code = %q, want AUTH002", errResp.Code)
	}

	var published core.Summary
	call("ledger-key", http.MethodPost, base+"/publish", nil, http.StatusOK, &published)
	if published.Transactions != 2 {
		t.Errorf("published transactions = %d, want 2", published.Transactions)
	}
	call("stage-key", http.MethodPost, base+"/revert", nil, http.StatusForbidden, &errResp)
	call("ledger-key", http.MethodPost, base+"/revert", nil, http.StatusOK, nil)
}

func TestAPI_PublishWhileBusy(t *testing.T) {
	api := newTestAPI(t, nil)
	acct := api.account()

	var imp importView
	api.json(http.MethodPost, "/api/imports", core.NewImport{
		FamilyID: api.family, Format: domain.FormatTransactions, AccountID: &acct, Preset: "generic",
	}, http.StatusCreated, &imp)
	api.upload(imp.ID, checkingCSV, http.StatusOK, &imp)
	api.json(http.MethodPut, fmt.Sprintf("/api/imports/%s/configuration", imp.ID), core.Configuration{}, http.StatusOK, &imp)
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/clean", imp.ID), nil, http.StatusOK, nil)

	release, err := api.srv.service.Limiter().Admit(context.Background(), imp.ID, core.OpRevert)
	if err != nil {
		t.Fatal(err)
	}

	var errResp ErrorResponse
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/publish", imp.ID), nil, http.StatusConflict, &errResp)
	if errResp.Code != "IMP007" {
		t.Errorf("busy publish code = %q, want IMP007", errResp.Code)
	}

	release()
	api.json(http.MethodPost, fmt.Sprintf("/api/imports/%s/publish", imp.ID), nil, http.StatusOK, nil)
}

func TestAPI_RateLimit(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	api.json(http.MethodGet, "/healthz", nil, http.StatusOK, nil)
	api.json(http.MethodGet, "/healthz", nil, http.StatusOK, nil)

	var errResp ErrorResponse
	api.json(http.MethodGet, "/healthz", nil, http.StatusTooManyRequests, &errResp)
	if errResp.Code != "RATE001" {
		t.Errorf("rate limit code = %q, want RATE001", errResp.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", badRequest{errors.New("eof")}, http.StatusBadRequest},
		{"not found", fmt.Errorf("get import: %w", domain.ErrNotFound), http.StatusNotFound},
		{"too large", core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"parse", core.NewParseError(domain.FormatQIF, core.ErrMalformedFile), http.StatusUnprocessableEntity},
		{"mapping", &core.MappingError{Field: "date", Reason: "missing required column"}, http.StatusUnprocessableEntity},
		{"transition", &core.TransitionError{From: domain.StatusPending, To: domain.StatusPublished}, http.StatusConflict},
		{"document", core.ErrNotPublishable, http.StatusConflict},
		{"same import", fmt.Errorf("%w: revert already in progress", core.ErrImportBusy), http.StatusConflict},
		{"busy", core.ErrTooManyPublishes, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
