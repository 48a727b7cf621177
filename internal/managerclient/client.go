// Package managerclient is the worker-side client for the compute manager
// protocol: activate once, heartbeat periodically, claim tasks, return
// results, and deactivate on shutdown.
package managerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"crucible/internal/api"
	"crucible/internal/storage"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the server address, e.g. "http://localhost:7777".
	BaseURL string
	// Token is the API bearer token; empty when the server runs without auth.
	Token string
	// Cluster identifies the compute site this worker belongs to.
	Cluster string
	// Hostname defaults to os.Hostname when empty.
	Hostname string
	// Version is the worker software version reported on activation.
	Version string
	// Programs maps program name to version for every program this worker
	// can execute.
	Programs map[string]string
	// ComputeTags restricts which tasks the worker claims; empty means the
	// default tag only is not enforced and all tags match.
	ComputeTags []string
	// Timeout bounds each HTTP call. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client talks to a crucible server on behalf of one worker process. Each
// Client carries a fresh uuid, so a restarted worker registers as a new
// manager rather than resuming a stale identity.
type Client struct {
	base     string
	token    string
	http     *http.Client
	identity storage.ManagerRegistration

	name string
}

// New constructs a client. The manager name is assigned by Activate.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("managerclient: base URL is required")
	}
	if opts.Cluster == "" {
		return nil, fmt.Errorf("managerclient: cluster is required")
	}
	if len(opts.Programs) == 0 {
		return nil, fmt.Errorf("managerclient: at least one program is required")
	}
	hostname := opts.Hostname
	if hostname == "" {
		detected, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("managerclient: detect hostname: %w", err)
		}
		hostname = detected
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base:  base,
		token: opts.Token,
		http:  &http.Client{Timeout: timeout},
		identity: storage.ManagerRegistration{
			Cluster:     opts.Cluster,
			Hostname:    hostname,
			UUID:        uuid.NewString(),
			Version:     opts.Version,
			Programs:    opts.Programs,
			ComputeTags: opts.ComputeTags,
		},
	}, nil
}

// Name returns the server-assigned manager name, empty before Activate.
func (c *Client) Name() string { return c.name }

// Activate registers this worker with the server.
func (c *Client) Activate(ctx context.Context) error {
	var resp api.ActivateResponse
	if err := c.call(ctx, http.MethodPost, "/api/managers/activate", c.identity, &resp); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	c.name = resp.Name
	return nil
}

// Heartbeat reports liveness and current load.
func (c *Client) Heartbeat(ctx context.Context, stats storage.ManagerStats) error {
	if err := c.call(ctx, http.MethodPut, "/api/managers/heartbeat", api.HeartbeatRequest{
		Manager: c.name,
		Stats:   stats,
	}, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Claim asks the server for up to limit tasks.
func (c *Client) Claim(ctx context.Context, limit int) ([]storage.TaskPayload, error) {
	programs := make([]string, 0, len(c.identity.Programs))
	for program := range c.identity.Programs {
		programs = append(programs, program)
	}
	var resp api.ClaimResponse
	if err := c.call(ctx, http.MethodPost, "/api/tasks/claim", api.ClaimRequest{
		Manager:  c.name,
		Programs: programs,
		Tags:     c.identity.ComputeTags,
		Limit:    limit,
	}, &resp); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return resp.Tasks, nil
}

// Return reports finished tasks.
func (c *Client) Return(ctx context.Context, results []storage.TaskResult) (api.ReturnResponse, error) {
	var resp api.ReturnResponse
	if err := c.call(ctx, http.MethodPost, "/api/tasks/return", api.ReturnRequest{
		Manager: c.name,
		Results: results,
	}, &resp); err != nil {
		return api.ReturnResponse{}, fmt.Errorf("return results: %w", err)
	}
	return resp, nil
}

// Deactivate retires this worker cleanly so its claims requeue immediately
// instead of waiting for the liveness sweep.
func (c *Client) Deactivate(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/api/managers/deactivate", api.DeactivateRequest{
		Manager: c.name,
	}, nil); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

// RunHeartbeats sends heartbeats at the given interval until the context is
// cancelled. statsFn may be nil.
func (c *Client) RunHeartbeats(ctx context.Context, interval time.Duration, statsFn func() storage.ManagerStats) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var stats storage.ManagerStats
			if statsFn != nil {
				stats = statsFn()
			}
			if err := c.Heartbeat(ctx, stats); err != nil {
				return err
			}
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, body, into any) error {
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
		return err
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
