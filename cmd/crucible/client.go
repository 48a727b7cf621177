package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crucible/internal/api"
)

// serverClient is the CLI's thin HTTP wrapper over the server API.
type serverClient struct {
	base  string
	token string
	http  *http.Client
}

func newServerClient(base, token string) *serverClient {
	return &serverClient{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *serverClient) status(ctx context.Context) (api.ServerStatus, error) {
	var out api.ServerStatus
	err := c.call(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

type recordListOptions struct {
	statuses    []string
	recordTypes []string
	limit       int
}

func (c *serverClient) listRecords(ctx context.Context, opts recordListOptions) (api.ListResponse, error) {
	query := url.Values{}
	for _, status := range opts.statuses {
		query.Add("status", status)
	}
	for _, recordType := range opts.recordTypes {
		query.Add("record_type", recordType)
	}
	if opts.limit > 0 {
		query.Set("limit", strconv.Itoa(opts.limit))
	}
	path := "/api/records"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out api.ListResponse
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *serverClient) getRecord(ctx context.Context, id int64) (api.RecordView, error) {
	var out api.RecordView
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/records/%d", id), nil, &out)
	return out, err
}

func (c *serverClient) recordHistory(ctx context.Context, id int64) ([]api.HistoryView, error) {
	var out []api.HistoryView
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/records/%d/history", id), nil, &out)
	return out, err
}

func (c *serverClient) transition(ctx context.Context, op string, ids []int64) (api.TransitionResponse, error) {
	var out api.TransitionResponse
	err := c.call(ctx, http.MethodPost, "/api/records/"+op, api.TransitionRequest{IDs: ids}, &out)
	return out, err
}

func (c *serverClient) submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.call(ctx, http.MethodPost, "/api/records", req, &out)
	return out, err
}

func (c *serverClient) listManagers(ctx context.Context, activeOnly bool) ([]api.ManagerView, error) {
	path := "/api/managers"
	if activeOnly {
		path += "?active=true"
	}
	var out []api.ManagerView
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *serverClient) call(ctx context.Context, method, path string, body, into any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to server %s: %w (is crucibled running?)", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var wire struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &wire) == nil && wire.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, wire.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
