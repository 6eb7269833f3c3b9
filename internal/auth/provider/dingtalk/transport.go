package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/metrics"
)

const maxResponseBytes = 1 << 20

// transport is the state shared by the API namespaces: credentials,
// endpoints, the HTTP client and the app token cache.
type transport struct {
	appKey    string
	appSecret string

	apiBaseURL   string
	oapiBaseURL  string
	loginBaseURL string

	httpClient *http.Client
	now        func() time.Time
	appToken   appTokenCache
}

type request struct {
	endpoint string // metrics label
	method   string
	url      string
	query    url.Values
	body     any
	headers  map[string]string
}

// do performs a single provider call and returns the raw response body.
// Transport failures and non-2xx statuses are upstream errors carrying the
// response text.
func (t *transport) do(ctx context.Context, r request) ([]byte, error) {
	start := time.Now()
	status, raw, err := t.roundTrip(ctx, r)
	metrics.ObserveUpstream(r.endpoint, status, err, time.Since(start))
	if err != nil {
		logger.Error("dingtalk api call failed",
			zap.String("endpoint", r.endpoint),
			zap.String("method", r.method),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil, err
	}
	return raw, nil
}

func (t *transport) roundTrip(ctx context.Context, r request) (int, []byte, error) {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s request: %w", r.endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", r.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, auth.Upstream(r.endpoint+" request failed", "", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, auth.Upstream(r.endpoint+" response read failed", "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, raw, auth.Upstream(
			fmt.Sprintf("%s returned status %d", r.endpoint, resp.StatusCode),
			string(raw),
			nil,
		)
	}

	return resp.StatusCode, raw, nil
}

// doJSON performs the call and decodes the body into out.
func (t *transport) doJSON(ctx context.Context, r request, out any) error {
	raw, err := t.do(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return auth.Upstream(r.endpoint+" returned malformed json", string(raw), err)
	}
	return nil
}

// topResponse is the envelope of the legacy oapi.dingtalk.com endpoints.
type topResponse[T any] struct {
	RequestID string `json:"request_id"`
	ErrCode   int    `json:"errcode"`
	ErrMsg    string `json:"errmsg"`
	Result    T      `json:"result"`
}

// doTop calls an oapi endpoint authorised with the app token. A non-zero
// errcode fails the call whatever the HTTP status was.
func doTop[T any](ctx context.Context, t *transport, endpoint, path string, body any) (T, error) {
	var zero T

	token, err := t.appAccessToken(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := t.do(ctx, request{
		endpoint: endpoint,
		method:   http.MethodPost,
		url:      t.oapiBaseURL + path,
		query:    url.Values{"access_token": {token}},
		body:     body,
	})
	if err != nil {
		return zero, err
	}

	var res topResponse[T]
	if err := json.Unmarshal(raw, &res); err != nil {
		return zero, auth.Upstream(endpoint+" returned malformed json", string(raw), err)
	}
	if res.ErrCode != 0 {
		logger.Warn("dingtalk api returned error code",
			zap.String("endpoint", endpoint),
			zap.Int("errcode", res.ErrCode),
			zap.String("errmsg", res.ErrMsg),
			zap.String("request_id", res.RequestID),
		)
		return zero, auth.Upstream(
			fmt.Sprintf("%s failed with errcode %d", endpoint, res.ErrCode),
			string(raw),
			nil,
		)
	}
	return res.Result, nil
}
