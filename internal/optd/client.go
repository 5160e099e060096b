package optd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rodline/procopt/internal/console"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/models"
)

// APIError is a structured error returned by the daemon
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// Unwrap exposes the matching sentinel so callers can use errors.Is
func (e *APIError) Unwrap() error {
	return sentinelForCode(e.Code)
}

// Client drives one remote session over the HTTP API. It caches the last
// session snapshot so it can serve as a console target.
type Client struct {
	base string
	http *http.Client

	mu    sync.Mutex
	id    string
	state session.Snapshot
}

var _ console.Target = (*Client)(nil)

// NewClient creates a client for the daemon at baseURL; hc may be nil
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// ID returns the attached session ID
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e); err != nil {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) sessionPath(action string) string {
	p := "/v1/sessions/" + c.ID()
	if action != "" {
		p += "/" + action
	}
	return p
}

type snapshotEnvelope struct {
	Session session.Snapshot `json:"session"`
}

func (c *Client) setState(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = s.ID
	c.state = s
}

// Create starts a new remote session and attaches to it
func (c *Client) Create(ctx context.Context, req CreateRequest) error {
	var out snapshotEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &out); err != nil {
		return err
	}
	c.setState(out.Session)
	return nil
}

// Attach binds the client to an existing session and returns its state
func (c *Client) Attach(ctx context.Context, id string) (*StateResponse, error) {
	var out StateResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &out); err != nil {
		return nil, err
	}
	c.setState(out.Session)
	return &out, nil
}

// Current returns the cached current parameters
func (c *Client) Current() *models.ParameterSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Current.Clone()
}

// Desired returns the cached targets
func (c *Client) Desired() models.Triplet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Desired
}

// SetDesired updates the remote targets. Invalid targets are rejected
// locally with the same typed error a local session returns.
func (c *Client) SetDesired(ctx context.Context, desired models.Triplet) error {
	if err := improvement.ValidateDesired(desired); err != nil {
		return err
	}
	var out snapshotEnvelope
	body := Desired{UTS: desired[0], Elongation: desired[1], Conductivity: desired[2]}
	if err := c.do(ctx, http.MethodPost, c.sessionPath("desired"), body, &out); err != nil {
		return err
	}
	c.setState(out.Session)
	return nil
}

// Optimize runs a remote step and replays its progress once it returns
func (c *Client) Optimize(ctx context.Context, names []string, progress improvement.ProgressFunc) (*models.StepReport, error) {
	var out OptimizeResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath("optimize"), OptimizeRequest{Parameters: names}, &out); err != nil {
		return nil, err
	}
	c.setState(out.Session)
	if progress != nil {
		for _, p := range out.Progress {
			progress(improvement.Progress{
				Evaluation: p.Evaluation,
				Budget:     len(out.Progress),
				Error:      orInf(p.Error),
				BestError:  orInf(p.BestError),
			})
		}
	}
	return out.Report, nil
}

func (c *Client) Undo(ctx context.Context) error {
	var out snapshotEnvelope
	if err := c.do(ctx, http.MethodPost, c.sessionPath("undo"), nil, &out); err != nil {
		return err
	}
	c.setState(out.Session)
	return nil
}

func (c *Client) Reset(ctx context.Context) error {
	var out snapshotEnvelope
	if err := c.do(ctx, http.MethodPost, c.sessionPath("reset"), nil, &out); err != nil {
		return err
	}
	c.setState(out.Session)
	return nil
}

// Trace fetches the progress of the last remote run
func (c *Client) Trace(ctx context.Context) (*TraceResponse, error) {
	var out TraceResponse
	if err := c.do(ctx, http.MethodGet, c.sessionPath("trace"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func orInf(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}
