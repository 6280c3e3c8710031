// Package bluefors implements the instrument contracts over the BlueFors
// control software's HTTP values API. Every parameter of the fridge is a
// dotted target (e.g. driver.lakeshore.settings.outputs.sample.p) exposed
// under /values; writes are staged on the instrument and latched by calling
// the device's write method.
package bluefors

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
)

const (
	// outdatedRetries bounds the re-reads performed when the API reports a
	// value as outdated.
	outdatedRetries = 5

	statusSynchronized = "SYNCHRONIZED"

	defaultTimeout = 10 * time.Second
)

// Client talks to one BlueFors control unit.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     *logger.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithInsecureTLS skips certificate verification. The control unit ships
// with a self-signed certificate, so lab deployments commonly need this.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpc = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
}

// New builds a client for the given base URL (e.g. https://localhost:49098).
func New(baseURL, apiKey string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: defaultTimeout},
		log:     log.Named("bluefors"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// latestValue mirrors data.<target>.content.latest_value in API responses.
type latestValue struct {
	Value    json.Number `json:"value"`
	Outdated bool        `json:"outdated"`
	Status   string      `json:"status"`
	DateMS   int64       `json:"date"`
}

type valuesResponse struct {
	Data map[string]struct {
		Content struct {
			LatestValue latestValue `json:"latest_value"`
		} `json:"content"`
	} `json:"data"`
}

type errOutdated struct {
	target string
	since  time.Time
}

func (e *errOutdated) Error() string {
	return fmt.Sprintf("bluefors: %s outdated since %s", e.target, e.since.Format(time.RFC3339))
}

// getValue reads one target, retrying a bounded number of times while the
// API reports the value as outdated.
func (c *Client) getValue(ctx context.Context, target string) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= outdatedRetries; attempt++ {
		v, err := c.getValueOnce(ctx, target)
		if err == nil {
			return v, nil
		}
		lastErr = err
		var oe *errOutdated
		if !errors.As(err, &oe) {
			return 0, err
		}
	}
	return 0, instrument.Transient("read", lastErr)
}

func (c *Client) getValueOnce(ctx context.Context, target string) (float64, error) {
	uri := fmt.Sprintf("%s/values/%s/?prettyprint=1&key=%s",
		c.baseURL, strings.ReplaceAll(target, ".", "/"), c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("bluefors: build request for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, instrument.Transient("read", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, instrument.Transient("read",
			fmt.Errorf("bluefors: GET %s: status %d", target, resp.StatusCode))
	}

	var body valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, instrument.Transient("read", fmt.Errorf("bluefors: decode %s: %w", target, err))
	}

	entry, ok := body.Data[target]
	if !ok {
		return 0, fmt.Errorf("bluefors: target %s not present in response", target)
	}
	lv := entry.Content.LatestValue
	if lv.Outdated {
		return 0, &errOutdated{target: target, since: time.UnixMilli(lv.DateMS)}
	}
	if lv.Status != statusSynchronized {
		return 0, instrument.Transient("read",
			fmt.Errorf("bluefors: %s not synchronized (status %q)", target, lv.Status))
	}
	v, err := lv.Value.Float64()
	if err != nil {
		return 0, fmt.Errorf("bluefors: %s value %q is not numeric: %w", target, lv.Value, err)
	}
	return v, nil
}

// setValue stages one write on the instrument.
func (c *Client) setValue(ctx context.Context, target string, value any) error {
	return c.post(ctx, target, map[string]any{"value": value})
}

// callMethod invokes a device method, e.g. the write call that latches
// staged heater parameters.
func (c *Client) callMethod(ctx context.Context, target string) error {
	return c.post(ctx, target, map[string]any{"call": 1})
}

func (c *Client) post(ctx context.Context, target string, content map[string]any) error {
	body := map[string]any{
		"data": map[string]any{
			target: map[string]any{"content": content},
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bluefors: marshal %s: %w", target, err)
	}

	uri := fmt.Sprintf("%s/values/?prettyprint=1&key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("bluefors: build request for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return instrument.Transient("write", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return instrument.Transient("write",
			fmt.Errorf("bluefors: POST %s: status %d", target, resp.StatusCode))
	}
	return nil
}
