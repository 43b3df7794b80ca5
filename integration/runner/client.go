package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/handlers"
	"github.com/jwebster45206/narrative-engine/pkg/narrative"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Status, e.Message)
}

// doJSON sends body (if any) as JSON and decodes a 2xx response into out (if any).
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		var errResp handlers.ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateSession starts a new session on the given story file.
func CreateSession(ctx context.Context, client *http.Client, baseURL, storyFile string) (*handlers.SessionView, error) {
	var view handlers.SessionView
	err := doJSON(ctx, client, http.MethodPost, baseURL+"/v1/sessions", handlers.CreateSessionRequest{Story: storyFile}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GetSession reads the current node and choices.
func GetSession(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID) (*handlers.SessionView, error) {
	var view handlers.SessionView
	if err := doJSON(ctx, client, http.MethodGet, sessionURL(baseURL, id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// SelectChoice picks the choice at index.
func SelectChoice(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, index int) (*handlers.SessionView, error) {
	var view handlers.SessionView
	err := doJSON(ctx, client, http.MethodPost, sessionURL(baseURL, id)+"/choices", handlers.SelectChoiceRequest{Index: &index}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// PatchState sets flags and stats.
func PatchState(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, seed StateSeed) (*handlers.SessionView, error) {
	var view handlers.SessionView
	err := doJSON(ctx, client, http.MethodPatch, sessionURL(baseURL, id)+"/state", handlers.PatchStateRequest{Flags: seed.Flags, Stats: seed.Stats}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GetSnapshot exports the session snapshot.
func GetSnapshot(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID) (*narrative.Snapshot, error) {
	var snap narrative.Snapshot
	if err := doJSON(ctx, client, http.MethodGet, sessionURL(baseURL, id)+"/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutSnapshot restores the session from snap.
func PutSnapshot(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, snap *narrative.Snapshot) (*handlers.SessionView, error) {
	var view handlers.SessionView
	if err := doJSON(ctx, client, http.MethodPut, sessionURL(baseURL, id)+"/snapshot", snap, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteSession removes the session.
func DeleteSession(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID) error {
	return doJSON(ctx, client, http.MethodDelete, sessionURL(baseURL, id), nil, nil)
}

func sessionURL(baseURL string, id uuid.UUID) string {
	return baseURL + "/v1/sessions/" + id.String()
}
