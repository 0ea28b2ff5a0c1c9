package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchAll(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"u1","age":42},{"id":"u2","age":null}]`))
	}))
	defer srv.Close()

	rows, err := NewClient(srv.URL+"/").FetchAll(context.Background(), "get-all-users", "tok")
	if err != nil {
		t.Fatalf("FetchAll() unexpected error: %v", err)
	}
	if gotPath != "/functions/v1/get-all-users" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want forwarded bearer token", gotAuth)
	}
	if len(rows) != 2 {
		t.Fatalf("FetchAll() returned %d rows, want 2", len(rows))
	}
	if rows[0]["age"] != json.Number("42") {
		t.Errorf("age = %#v, want json.Number(42)", rows[0]["age"])
	}
}

func TestFetchAllErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"no"}`},
		{name: "object instead of array", status: http.StatusOK, body: `{"id":"u1"}`},
		{name: "invalid json", status: http.StatusOK, body: `[{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewClient(srv.URL).FetchAll(context.Background(), "get-all-reports", ""); err == nil {
				t.Error("FetchAll() expected error, got nil")
			}
		})
	}
}

func TestFetchAllStatusIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchAll(context.Background(), "get-all-reports", "")
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("FetchAll() error = %v, want ErrUnexpectedStatus", err)
	}
}

func TestFetchAllNullBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	rows, err := NewClient(srv.URL).FetchAll(context.Background(), "get-all-reports", "")
	if err != nil {
		t.Fatalf("FetchAll() unexpected error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("FetchAll() = %#v, want empty slice", rows)
	}
}
