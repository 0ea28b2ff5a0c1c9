package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrProvider = errors.New("identity provider error")

// GoTrue talks to the GoTrue admin API with a service-role key.
type GoTrue struct {
	baseURL    string
	serviceKey string
	http       *http.Client
}

func NewGoTrue(baseURL, serviceKey string) *GoTrue {
	return &GoTrue{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

type createdUser struct {
	ID string `json:"id"`
}

func (g *GoTrue) CreateAccount(ctx context.Context, acct Account) (string, error) {
	body, err := json.Marshal(acct)
	if err != nil {
		return "", err
	}

	resp, err := g.do(ctx, http.MethodPost, "/auth/v1/admin/users", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", providerError(resp)
	}

	var u createdUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return "", fmt.Errorf("decoding created user: %w", err)
	}
	if u.ID == "" {
		return "", fmt.Errorf("%w: created user has no id", ErrProvider)
	}
	return u.ID, nil
}

func (g *GoTrue) DeleteAccount(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty account id", ErrProvider)
	}

	resp, err := g.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providerError(resp)
	}
	return nil
}

func (g *GoTrue) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", g.serviceKey)
	req.Header.Set("Authorization", "Bearer "+g.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return resp, nil
}

// providerError extracts GoTrue's error text, which uses several field names.
func providerError(resp *http.Response) error {
	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	msg := body.Msg
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = body.ErrorDescription
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, msg)
}
