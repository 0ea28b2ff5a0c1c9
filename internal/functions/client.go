// Package functions calls the remote "get-all" retrieval functions that
// return a whole table as a JSON array.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/healthtrack/healthtrack-go/internal/model"
)

var ErrUnexpectedStatus = errors.New("unexpected status from function")

// maxResponseBytes caps a single table response.
const maxResponseBytes = 256 << 20

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// FetchAll invokes function with the caller's token and returns its rows.
func (c *Client) FetchAll(ctx context.Context, function, authToken string) ([]model.Row, error) {
	url := c.BaseURL + "/functions/v1/" + function
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", function, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, function, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	dec.UseNumber()

	var rows []model.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", function, err)
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
