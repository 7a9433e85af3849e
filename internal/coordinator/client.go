package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/montytest/worker/internal/wlog"
	"github.com/montytest/worker/internal/werror"
)

var log = wlog.Log

// Client is a thin typed wrapper around the coordinator's HTTP API
// (spec §4.C2). GET raises on non-2xx; PostJSON never raises on the HTTP
// layer for non-2xx (the body carries error information) but does raise
// if the reply isn't a JSON object.
//
// The underlying retryablehttp.Client retries transient transport errors
// (connection refused, timeouts) with exponential backoff; the
// higher-level retry loops in internal/assets and internal/match
// implement the spec's own linear-backoff retry cadences on top of this
// and are not redundant with it -- this layer only guards against blips
// mid-request, not against the coordinator being unreachable for minutes.
type Client struct {
	http *retryablehttp.Client
	Base string
}

// New creates a Client pointed at the given coordinator base URL.
func New(base string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil // we do our own logging below
	return &Client{http: rc, Base: base}
}

// Get performs a GET request with the given timeout and returns the raw
// response body. It fails with werror.Transport on any non-2xx status.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, werror.Wrap(werror.Transport, "building GET "+url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, werror.Wrap(werror.Transport, "GET "+url+" failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, werror.Wrap(werror.Transport, "reading GET "+url+" body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, werror.Transportf("GET %s returned status %s", url, resp.Status)
	}
	return body, nil
}

// PostJSON POSTs payload as JSON to url and decodes the reply into out,
// which must be a pointer to a JSON object (struct or map). Unlike Get,
// a non-2xx status does not itself fail the call: the coordinator always
// replies with a JSON body carrying error information even on failure.
// Every call logs client-observed latency against the server-reported
// "duration" field of the reply, if present (read by durationFromRaw below).
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, out interface{}, timeout time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return werror.Wrap(werror.Transport, "marshalling POST "+url+" body", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return werror.Wrap(werror.Transport, "building POST "+url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return werror.Wrap(werror.Transport, "POST "+url+" failed", err)
	}
	defer resp.Body.Close()
	clientLatency := time.Since(start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return werror.Wrap(werror.Transport, "reading POST "+url+" body", err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return werror.Wrap(werror.Transport, fmt.Sprintf("reply to %s was not a JSON object", url), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return werror.Wrap(werror.Transport, fmt.Sprintf("decoding reply from %s", url), err)
	}

	serverDuration := durationFromRaw(asMap["duration"])
	wlog.APILogf("%6.2fms (s)  %7.2fms (w)  %s", serverDuration.Seconds()*1000, clientLatency.Seconds()*1000, url)

	if errMsg, ok := stringFromRaw(asMap["error"]); ok {
		log.Warning("Error from remote: %s", errMsg)
	}
	if info, ok := stringFromRaw(asMap["info"]); ok {
		log.Info("Info from remote: %s", info)
	}
	return nil
}

func durationFromRaw(raw json.RawMessage) time.Duration {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func stringFromRaw(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
