package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/healthtrack/healthtrack-go/internal/crypto"
	"github.com/healthtrack/healthtrack-go/internal/middleware"
	"github.com/healthtrack/healthtrack-go/internal/model"
	"github.com/healthtrack/healthtrack-go/internal/service"
)

type stubExporter struct {
	got service.ExportRequest
	res service.ExportResult
	err error
}

func (s *stubExporter) Export(_ context.Context, req service.ExportRequest) (service.ExportResult, error) {
	s.got = req
	if s.err != nil {
		return service.ExportResult{}, s.err
	}
	if req.Password == "" {
		return service.ExportResult{}, service.ErrPasswordRequired
	}
	return s.res, nil
}

type stubImporter struct {
	got    model.Document
	called bool
	failed map[string]string
	err    error
}

func (s *stubImporter) Import(_ context.Context, doc model.Document) (model.ImportReport, error) {
	s.called = true
	s.got = doc
	if s.err != nil {
		return model.ImportReport{}, s.err
	}
	results := map[string]model.Outcome{}
	for name, snap := range doc {
		n := len(snap.Content)
		results[name] = model.Outcome{Success: true, Message: "Import successful", Count: &n}
		if msg, ok := s.failed[name]; ok {
			results[name] = model.Outcome{Success: false, Message: msg}
		}
	}
	return model.ImportReport{Success: true, Message: "Database import completed", Results: results}, nil
}

func testEnvelope(t *testing.T, doc, password string) []byte {
	t.Helper()
	env, err := crypto.Encrypt([]byte(doc), password)
	if err != nil {
		t.Fatalf("Encrypt() unexpected error: %v", err)
	}
	b, _ := json.Marshal(env)
	return b
}

func TestHandleExport(t *testing.T) {
	exp := &stubExporter{res: service.ExportResult{
		Filename: "database-export-x.encrypted.json",
		Envelope: crypto.Envelope{Salt: "c2FsdA==", IV: "aXY=", Ciphertext: "ZGF0YQ=="},
	}}
	h := NewBackupHandler(exp, &stubImporter{}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/export", strings.NewReader(`{"password":"hunter2","userId":"u1"}`))
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if exp.got.Password != "hunter2" {
		t.Errorf("password = %q, want hunter2", exp.got.Password)
	}

	var resp model.ExportResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Filename != "database-export-x.encrypted.json" {
		t.Errorf("filename = %s", resp.Filename)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.FileContent)
	if err != nil {
		t.Fatalf("fileContent is not base64: %v", err)
	}
	var env crypto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Salt != "c2FsdA==" {
		t.Errorf("fileContent = %s", raw)
	}
}

func TestHandleExportDownload(t *testing.T) {
	exp := &stubExporter{res: service.ExportResult{
		Filename: "database-export-x.encrypted.json",
		Envelope: crypto.Envelope{Salt: "s", IV: "i", Ciphertext: "d"},
	}}
	h := NewBackupHandler(exp, &stubImporter{}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/export?download=1", strings.NewReader(`{"password":"pw"}`))
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="database-export-x.encrypted.json"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if body := rec.Body.String(); body != `{"salt":"s","iv":"i","data":"d"}` {
		t.Errorf("body = %s", body)
	}
}

func TestHandleExportErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "missing password", body: `{}`, want: http.StatusBadRequest},
		{name: "empty body", body: ``, want: http.StatusBadRequest},
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
		{name: "legacy gate", body: `{"password":"x"}`, err: service.ErrForbidden, want: http.StatusForbidden},
		{name: "unexpected", body: `{"password":"x"}`, err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBackupHandler(&stubExporter{err: tt.err}, &stubImporter{}, 1<<20)
			rec := httptest.NewRecorder()
			h.HandleExport(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHandleImportJSON(t *testing.T) {
	sealed := testEnvelope(t, `{"users":{"content":[{"id":"u1"}]}}`, "pw")

	tests := []struct {
		name  string
		body  string
		table string
	}{
		{name: "raw document", body: `{"reports":{"content":[{"report_id":"r1"}]}}`, table: "reports"},
		{name: "password and data", body: `{"password":"pw","data":` + string(sealed) + `}`, table: "users"},
		{name: "envelope with password", body: strings.TrimSuffix(string(sealed), "}") + `,"password":"pw"}`, table: "users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := &stubImporter{}
			h := NewBackupHandler(&stubExporter{}, imp, 1<<20)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.HandleImport(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if len(imp.got[tt.table].Content) != 1 {
				t.Errorf("imported document = %#v", imp.got)
			}

			var report model.ImportReport
			json.NewDecoder(rec.Body).Decode(&report)
			if !report.Success || report.Message != "Database import completed" {
				t.Errorf("report = %+v", report)
			}
		})
	}
}

func multipartRequest(t *testing.T, file []byte, password string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "backup.encrypted.json")
		if err != nil {
			t.Fatalf("CreateFormFile() unexpected error: %v", err)
		}
		fw.Write(file)
	}
	if password != "" {
		mw.WriteField("password", password)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleImportMultipart(t *testing.T) {
	imp := &stubImporter{}
	h := NewBackupHandler(&stubExporter{}, imp, 1<<20)

	rec := httptest.NewRecorder()
	h.HandleImport(rec, multipartRequest(t, testEnvelope(t, `{"health_metrics":{"content":[{"metric_id":"m1"}]}}`, "pw"), "pw"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(imp.got["health_metrics"].Content) != 1 {
		t.Errorf("imported document = %#v", imp.got)
	}
}

func TestHandleImportErrors(t *testing.T) {
	sealed := testEnvelope(t, `{"users":{"content":[]}}`, "pw")

	tests := []struct {
		name    string
		req     func(t *testing.T) *http.Request
		want    int
		wantMsg string
	}{
		{
			name: "encrypted file without password",
			req:  func(t *testing.T) *http.Request { return multipartRequest(t, sealed, "") },
			want: http.StatusBadRequest, wantMsg: "Password is required for encrypted files",
		},
		{
			name: "wrong password",
			req:  func(t *testing.T) *http.Request { return multipartRequest(t, sealed, "nope") },
			want: http.StatusBadRequest,
		},
		{
			name: "missing file",
			req:  func(t *testing.T) *http.Request { return multipartRequest(t, nil, "pw") },
			want: http.StatusBadRequest, wantMsg: "no valid file uploaded",
		},
		{
			name: "unsupported content type",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			want: http.StatusBadRequest, wantMsg: "unsupported content type",
		},
		{
			name: "undecodable json",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[1,2,3]`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			want: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"users":{"content":[`+strings.Repeat(`{},`, 1000)+`{}]}}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			want: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := &stubImporter{}
			h := NewBackupHandler(&stubExporter{}, imp, 1024)

			rec := httptest.NewRecorder()
			h.HandleImport(rec, tt.req(t))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.wantMsg != "" && !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.wantMsg)
			}
			if imp.called {
				t.Error("importer called for a rejected request")
			}
		})
	}
}

func TestHandleImportBusy(t *testing.T) {
	h := NewBackupHandler(&stubExporter{}, &stubImporter{err: service.ErrImportBusy}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"users":{"content":[]}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleImport(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleImportPartialFailure(t *testing.T) {
	imp := &stubImporter{failed: map[string]string{"reports": "insert reports: constraint failed"}}
	h := NewBackupHandler(&stubExporter{}, imp, 1<<20)

	body := `{"users":{"content":[{"id":"u1"}]},"reports":{"content":[{"id":"r1"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleImport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}

	var report model.ImportReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !report.Success {
		t.Errorf("success = false, want true")
	}
	if got := report.Results["reports"]; got.Success || got.Message != "insert reports: constraint failed" {
		t.Errorf("results.reports = %+v, want failed outcome", got)
	}
	if got := report.Results["users"]; !got.Success {
		t.Errorf("results.users = %+v, want success", got)
	}
}

func TestRequester(t *testing.T) {
	const secret = "test-secret"
	token, err := crypto.GenerateToken("user-42", "admin", secret, crypto.TokenOptions{}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() unexpected error: %v", err)
	}

	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requester(r.Context())
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	middleware.JWTAuth(secret, crypto.TokenOptions{})(next).ServeHTTP(httptest.NewRecorder(), req)

	if got != "user-42" {
		t.Errorf("requester() = %q, want user-42", got)
	}
	if got := requester(context.Background()); got != "" {
		t.Errorf("requester() without claims = %q, want empty", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusMethodNotAllowed || strings.TrimSpace(rec.Body.String()) != `{"error":"Method not allowed"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}
