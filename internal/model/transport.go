package model

import "encoding/json"

// ExportRequest is the body of an export call. UserID is accepted for
// compatibility with the dashboard client and otherwise ignored.
type ExportRequest struct {
	Password string `json:"password"`
	UserID   string `json:"userId,omitempty"`
}

// ExportResponse carries the encrypted envelope as base64 of its JSON form.
type ExportResponse struct {
	Filename    string   `json:"filename"`
	FileContent string   `json:"fileContent"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ImportRequest is the JSON form of an import call. When Data is absent the
// whole body is treated as the payload.
type ImportRequest struct {
	Password string          `json:"password"`
	Data     json.RawMessage `json:"data"`
}
