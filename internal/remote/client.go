package remote

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

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/model"
)

// Client is the system-of-record contract used by the replication pipeline.
type Client interface {
	// Post delivers one ingestion action. payload must encode to a JSON
	// object; its fields are merged into the request body.
	Post(ctx context.Context, action string, payload any) error
	ListOpenTickets(ctx context.Context) ([]OpenTicket, error)
	// GetCurrentShift returns nil when the remote has no open shift.
	GetCurrentShift(ctx context.Context) (*model.Shift, error)
	ShiftSummary(ctx context.Context, shiftID string) (*model.ShiftSummary, error)
}

// ErrRejected is returned when the remote answers {"ok": false}.
var ErrRejected = errors.New("remote rejected request")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Action string
	Code   int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("remote %s: HTTP %d: %s", e.Action, e.Code, e.Body)
}

// HTTPClient speaks the JSON-over-HTTP contract.
type HTTPClient struct {
	endpoint string
	tenant   string
	http     *http.Client
	clock    clock.Clock
	signer   *Signer
}

// HTTPOption configures NewHTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithSigner attaches a bearer token to every request.
func WithSigner(s *Signer) HTTPOption {
	return func(c *HTTPClient) { c.signer = s }
}

// NewHTTPClient returns a client for endpoint acting for tenant.
func NewHTTPClient(endpoint, tenant string, timeout time.Duration, clk clock.Clock, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		tenant:   tenant,
		http:     &http.Client{Timeout: timeout},
		clock:    clk,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post implements Client.
func (c *HTTPClient) Post(ctx context.Context, action string, payload any) error {
	body, err := Envelope(action, c.tenant, payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, action)
	return err
}

// ListOpenTickets implements Client.
func (c *HTTPClient) ListOpenTickets(ctx context.Context) ([]OpenTicket, error) {
	body, err := c.get(ctx, ActionListOpenTickets, nil)
	if err != nil {
		return nil, err
	}
	return DecodeOpenTickets(body, c.clock.Now()), nil
}

// GetCurrentShift implements Client.
func (c *HTTPClient) GetCurrentShift(ctx context.Context) (*model.Shift, error) {
	body, err := c.get(ctx, ActionGetCurrentShift, nil)
	if err != nil {
		return nil, err
	}
	return DecodeShift(body, c.clock.Now()), nil
}

// ShiftSummary implements Client.
func (c *HTTPClient) ShiftSummary(ctx context.Context, shiftID string) (*model.ShiftSummary, error) {
	body, err := c.get(ctx, ActionShiftSummary, url.Values{"shiftId": {shiftID}})
	if err != nil {
		return nil, err
	}
	return DecodeSummary(body, shiftID, c.clock.Now()), nil
}

func (c *HTTPClient) get(ctx context.Context, action string, extra url.Values) (any, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", action, err)
	}
	q := u.Query()
	q.Set("action", action)
	q.Set("tenant", c.tenant)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", action, err)
	}
	data, err := c.do(req, action)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var body any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("remote %s: decode response: %w", action, err)
	}
	return body, nil
}

func (c *HTTPClient) do(req *http.Request, action string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.signer != nil {
		token, err := c.signer.Token(c.tenant)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", action, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("remote %s: read response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Action: action, Code: resp.StatusCode, Body: strings.TrimSpace(string(truncate(data, 256)))}
	}
	if err := checkOK(data); err != nil {
		return nil, fmt.Errorf("remote %s: %w", action, err)
	}
	return data, nil
}

// checkOK returns ErrRejected when the body is an object with "ok": false.
func checkOK(data []byte) error {
	var probe struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &probe) != nil || probe.OK == nil || *probe.OK {
		return nil
	}
	if probe.Error != "" {
		return fmt.Errorf("%w: %s", ErrRejected, probe.Error)
	}
	return ErrRejected
}

// Envelope builds the POST body for action: the payload's fields plus the
// "action" and "tenant" discriminators. Keys are emitted in sorted order.
func Envelope(action, tenant string, payload any) ([]byte, error) {
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote %s: encode payload: %w", action, err)
		}
		raw = data
	}

	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("remote %s: payload is not a JSON object: %w", action, err)
		}
	}
	a, _ := json.Marshal(action)
	t, _ := json.Marshal(tenant)
	fields["action"] = a
	fields["tenant"] = t

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("remote %s: encode body: %w", action, err)
	}
	return body, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
