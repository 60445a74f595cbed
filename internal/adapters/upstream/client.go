// internal/adapters/upstream/client.go
package upstream

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

	"golang.org/x/time/rate"

	"pdl_sync/internal/adapters/observability"
	"pdl_sync/internal/domain"
)

const (
	opAgencies   = "agencies"
	opProperties = "properties"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 32 << 20
)

type Options struct {
	AgenciesURL   string
	PropertiesURL string
	AppKey        string
	KeyHeader     string // header carrying AppKey; defaults to "key"
	Timeout       time.Duration
	RPS           int
}

type Client struct {
	agenciesURL   string
	propertiesURL string
	appKey        string
	keyHeader     string
	hc            *http.Client
	rl            *rate.Limiter
}

func New(o Options) (*Client, error) {
	if o.AgenciesURL == "" || o.PropertiesURL == "" {
		return nil, fmt.Errorf("agencies and properties URLs are required")
	}
	for _, raw := range []string{o.AgenciesURL, o.PropertiesURL} {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("invalid upstream URL %q: %w", raw, err)
		}
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.KeyHeader == "" {
		o.KeyHeader = "key"
	}
	return &Client{
		agenciesURL:   o.AgenciesURL,
		propertiesURL: o.PropertiesURL,
		appKey:        o.AppKey,
		keyHeader:     o.KeyHeader,
		hc:            &http.Client{Timeout: o.Timeout},
		rl:            rate.NewLimiter(rate.Limit(o.RPS), o.RPS),
	}, nil
}

// ---- Public API ----

// FetchAgencies returns the raw agency directory.
func (c *Client) FetchAgencies(ctx context.Context) ([]map[string]any, error) {
	u, err := withQuery(c.agenciesURL, "Key", c.appKey)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.Permanent, Op: opAgencies, Err: err}
	}
	return c.get(ctx, opAgencies, u, "agencies")
}

// FetchProperties returns the raw property feed of one agency.
func (c *Client) FetchProperties(ctx context.Context, agencyKey string) ([]map[string]any, error) {
	if strings.TrimSpace(agencyKey) == "" {
		return nil, &domain.UpstreamError{Kind: domain.Permanent, Op: opProperties, Err: errors.New("agency key is missing")}
	}
	u, err := withQuery(c.propertiesURL, "Key", agencyKey)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.Permanent, Op: opProperties, Err: err}
	}
	return c.get(ctx, opProperties, u, "properties")
}

// ---- Internals ----

// withQuery sets k=v unless the URL already carries k.
func withQuery(raw, k, v string) (string, error) {
	if v == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get(k) == "" {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// get performs one rate-limited GET and decodes an array of records.
// Retrying is the caller's job.
func (c *Client) get(ctx context.Context, op, u, envelope string) ([]map[string]any, error) {
	if err := c.rl.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// the limiter gives up early when the deadline cannot fit another token
		return nil, &domain.UpstreamError{Kind: domain.Transient, Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.Permanent, Op: op, Err: err}
	}
	if c.appKey != "" {
		req.Header.Set(c.keyHeader, c.appKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pdl-sync/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("upstream", op, 0, time.Since(start))
		// caller cancellation is not an upstream failure
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.UpstreamError{Kind: domain.Transient, Op: op, Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("upstream", op, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &domain.UpstreamError{Kind: domain.Transient, Op: op, Status: resp.StatusCode, Err: err}
		}
		recs, err := decodeRecords(body, envelope)
		if err != nil {
			return nil, &domain.UpstreamError{Kind: domain.Malformed, Op: op, Status: resp.StatusCode, Err: err}
		}
		return recs, nil

	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, &domain.UpstreamError{Kind: domain.Permanent, Op: op, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}

	default:
		// read a small error body for diagnostics
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.UpstreamError{
			Kind:   domain.Transient,
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("bad status: %s", strings.TrimSpace(string(b))),
		}
	}
}

// decodeRecords accepts a JSON array, or an object wrapping the array under
// "data" or the named envelope key. Non-object elements come back as nil.
func decodeRecords(body []byte, envelope string) ([]map[string]any, error) {
	// UseNumber keeps large keys and prices exact.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	arr, ok := v.([]any)
	if !ok {
		obj, isObj := v.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("expected array of records, got %T", v)
		}
		for _, k := range []string{"data", envelope} {
			if a, ok := obj[k].([]any); ok {
				arr = a
				break
			}
		}
		if arr == nil {
			return nil, errors.New("expected array of records, got object")
		}
	}

	out := make([]map[string]any, len(arr))
	for i, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out[i] = m
		}
	}
	return out, nil
}
