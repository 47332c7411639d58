// Package client speaks the batch-table backend protocol: table fetch,
// PATCH with an update batch, and the websocket feed of confirmed updates.
package client

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

	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

// ErrConflict marks a backend unique-constraint violation: a benign race
// that callers resolve by discarding optimistic state and refetching.
var ErrConflict = errors.New("client: update conflicts with server state")

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) tableURL(orgID, tableID string) string {
	return fmt.Sprintf("%s/organizations/%s/batch-tables/%s",
		c.baseURL, url.PathEscape(orgID), url.PathEscape(tableID))
}

// FetchTable retrieves the raw list-shaped table payload.
func (c *Client) FetchTable(ctx context.Context, orgID, tableID string) (table.RawTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tableURL(orgID, tableID), nil)
	if err != nil {
		return table.RawTable{}, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return table.RawTable{}, fmt.Errorf("fetch table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return table.RawTable{}, responseError(resp)
	}

	var raw table.RawTable
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return table.RawTable{}, fmt.Errorf("decode table payload: %w", err)
	}
	return raw, nil
}

type patchRequest struct {
	Updates json.RawMessage `json:"updates"`
}

type patchResponse struct {
	Updates json.RawMessage `json:"updates"`
	Error   *string         `json:"error,omitempty"`
}

// SendPatch posts an update batch and returns the backend-confirmed
// operations. A 409 maps to ErrConflict.
func (c *Client) SendPatch(ctx context.Context, orgID, tableID string, ops []patch.Operation) ([]patch.Operation, error) {
	encoded, err := patch.EncodeOps(ops)
	if err != nil {
		return nil, fmt.Errorf("encode updates: %w", err)
	}
	body, err := json.Marshal(patchRequest{Updates: encoded})
	if err != nil {
		return nil, fmt.Errorf("encode patch body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.tableURL(orgID, tableID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build patch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send patch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrConflict
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var decoded patchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode patch response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("backend rejected patch: %s", *decoded.Error)
	}
	confirmed, err := patch.DecodeOps(decoded.Updates)
	if err != nil {
		return nil, fmt.Errorf("decode confirmed updates: %w", err)
	}
	return confirmed, nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("backend error (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("backend error (%d)", resp.StatusCode)
}
