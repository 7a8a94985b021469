package capability

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

	"github.com/ent0n29/parlance/internal/reliability"
)

// HTTPCapability forwards requests to a JSON endpoint at <base>/process and
// probes <base>/healthz.
type HTTPCapability struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewHTTPCapability(name, baseURL string, timeout time.Duration) *HTTPCapability {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPCapability{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCapability) Name() string { return c.name }

func (c *HTTPCapability) Process(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, &Error{
			Capability: c.name,
			Operation:  req.Operation,
			Retryable:  reliability.IsRetryableNetworkError(err),
			Err:        err,
		}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, &Error{
			Capability: c.name,
			Operation:  req.Operation,
			Status:     res.StatusCode,
			Retryable:  reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var out Result
	if err := json.NewDecoder(io.LimitReader(res.Body, 16<<20)).Decode(&out); err != nil {
		return Result{}, &Error{Capability: c.name, Operation: req.Operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	out.Capability = c.name
	return out, nil
}

func (c *HTTPCapability) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	res, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c.name, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("probe %s: status %d", c.name, res.StatusCode)
	}
	return nil
}
