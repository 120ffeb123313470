package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rpcClient posts JSON to a list of equivalent endpoints, rotating away from
// an endpoint after failThreshold consecutive failures. Shared by all three
// adapters.
type rpcClient struct {
	endpoints     []string
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
	client        *http.Client
}

func newRPCClient(endpoints []string, failThreshold int) *rpcClient {
	list := sanitizeEndpoints(endpoints)
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &rpcClient{
		endpoints:     list,
		failThreshold: failThreshold,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// postJSON posts body to base+path on the current endpoint, failing over to
// the next endpoint on transport errors. All failures come back wrapped in
// ErrUnavailable so callers can treat them as retryable.
func (c *rpcClient) postJSON(ctx context.Context, path string, body any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempts := 0; attempts < len(c.endpoints); attempts++ {
		base, idx := c.current()
		err := c.doPost(ctx, base+path, payload, out)
		if err == nil {
			c.resetFailures(idx)
			return nil
		}
		lastErr = err
		c.noteFailure(idx)
		if c.shouldRotate() || len(c.endpoints) > 1 {
			c.rotate()
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *rpcClient) doPost(ctx context.Context, endpoint string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		trimmed := strings.TrimSpace(string(msg))
		if trimmed != "" {
			return fmt.Errorf("rpc http status %d: %s", resp.StatusCode, trimmed)
		}
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// jsonRPCCall performs a JSON-RPC 2.0 request and unmarshals result into
// out. A null result leaves out untouched and returns errNullResult.
var errNullResult = errors.New("null result")

func (c *rpcClient) jsonRPCCall(ctx context.Context, method string, params any, out any) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.postJSON(ctx, "", req, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", ErrUnavailable, env.Error.Code, env.Error.Message)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return errNullResult
	}
	return json.Unmarshal(env.Result, out)
}

func (c *rpcClient) current() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.index], c.index
}

func (c *rpcClient) resetFailures(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == idx {
		c.failCount = 0
	}
}

func (c *rpcClient) noteFailure(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == idx {
		c.failCount++
	}
}

func (c *rpcClient) shouldRotate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failCount >= c.failThreshold
}

func (c *rpcClient) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = (c.index + 1) % len(c.endpoints)
	c.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
