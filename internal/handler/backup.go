package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/healthtrack/healthtrack-go/internal/middleware"
	"github.com/healthtrack/healthtrack-go/internal/model"
	"github.com/healthtrack/healthtrack-go/internal/service"
)

const (
	maxExportBody   = 1 << 20 // 1MB
	multipartMemory = 32 << 20
)

var (
	errUnsupportedContentType = errors.New("unsupported content type, upload a JSON file")
	errNoFile                 = errors.New("no valid file uploaded")
)

type Exporter interface {
	Export(ctx context.Context, req service.ExportRequest) (service.ExportResult, error)
}

type Importer interface {
	Import(ctx context.Context, doc model.Document) (model.ImportReport, error)
}

// BackupHandler handles HTTP requests for database export and import.
type BackupHandler struct {
	exporter       Exporter
	importer       Importer
	maxImportBytes int64
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(exp Exporter, imp Importer, maxImportBytes int64) *BackupHandler {
	return &BackupHandler{exporter: exp, importer: imp, maxImportBytes: maxImportBytes}
}

// HandleExport handles POST /api/v1/backup/export requests.
func (h *BackupHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxExportBody)
	defer r.Body.Close()

	var req model.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	slog.Info("export requested", "user", requester(r.Context()))
	res, err := h.exporter.Export(r.Context(), service.ExportRequest{
		AuthToken: middleware.TokenFromContext(r.Context()),
		Password:  req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPasswordRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse("Password is required"))
		case errors.Is(err, service.ErrForbidden):
			writeJSON(w, http.StatusForbidden, errorResponse("Invalid admin password"))
		default:
			slog.Error("export failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		}
		return
	}

	envelope, err := json.Marshal(res.Envelope)
	if err != nil {
		slog.Error("encoding envelope failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		if len(res.Warnings) > 0 {
			w.Header().Set("X-Export-Warnings", strconv.Itoa(len(res.Warnings)))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(envelope)
		return
	}

	writeJSON(w, http.StatusOK, model.ExportResponse{
		Filename:    res.Filename,
		FileContent: base64.StdEncoding.EncodeToString(envelope),
		Warnings:    res.Warnings,
	})
}

// HandleImport handles POST /api/v1/backup/import requests.
func (h *BackupHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImportBytes)
	defer r.Body.Close()

	payload, password, err := readImport(r)
	if err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("Failed to parse import data: "+err.Error()))
		return
	}

	doc, err := service.Decode(payload, password)
	if err != nil {
		if errors.Is(err, service.ErrPasswordRequired) {
			writeJSON(w, http.StatusBadRequest, errorResponse("Password is required for encrypted files"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("Failed to parse import data: "+err.Error()))
		return
	}

	slog.Info("import requested", "user", requester(r.Context()), "tables", len(doc))
	report, err := h.importer.Import(r.Context(), doc)
	if err != nil {
		if errors.Is(err, service.ErrImportBusy) {
			writeJSON(w, http.StatusConflict, errorResponse(service.ErrImportBusy.Error()))
			return
		}
		slog.Error("import failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// requester returns the subject of the caller's token, if any.
func requester(ctx context.Context) string {
	if c, ok := middleware.ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// readImport extracts the payload and password from a JSON or multipart
// request. A JSON body of the form {password, data} carries the payload in
// data; any other JSON body is the payload itself.
func readImport(r *http.Request) ([]byte, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil && r.Header.Get("Content-Type") != "" {
		return nil, "", errUnsupportedContentType
	}

	switch mediaType {
	case "application/json", "":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		var req model.ImportRequest
		if json.Unmarshal(body, &req) != nil {
			return body, "", nil
		}
		if data := bytes.TrimSpace(req.Data); len(data) > 0 && data[0] == '{' {
			return data, req.Password, nil
		}
		return body, req.Password, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, "", err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, "", errNoFile
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return content, r.FormValue("password"), nil

	default:
		return nil, "", errUnsupportedContentType
	}
}
