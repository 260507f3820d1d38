package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/bus"
	"orderflow/internal/config"
	"orderflow/internal/metrics"
)

const testSecret = "s3cr3t"

type recordingPublisher struct {
	msgs []bus.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg bus.Message) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, msg)
	return "mid-1", nil
}

type recordingSpool struct {
	msgs []bus.Message
	err  error
}

func (s *recordingSpool) Save(msgs ...bus.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

type gateway struct {
	router  http.Handler
	pub     *recordingPublisher
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func newGateway(t *testing.T, pub *recordingPublisher, spool Spooler) gateway {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := config.Config{ClientSecret: testSecret, MaxBodySize: 64}
	h := NewHandler(cfg, m, pub, spool)
	return gateway{
		router:  NewRouter(h, RouterOptions{Ops: true, Gatherer: reg}),
		pub:     pub,
		metrics: m,
		reg:     reg,
	}
}

func signedRequest(body []byte, clientID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	if clientID != "" {
		req.Header.Set(HeaderClientID, clientID)
	}
	req.Header.Set(HeaderSignature, Sign([]byte(testSecret), body))
	return req
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"orderId":"A-1"}`)
	sig := Sign([]byte(testSecret), body)

	assert.Len(t, sig, 64)
	assert.Equal(t, strings.ToLower(sig), sig)
	assert.True(t, Verify([]byte(testSecret), body, sig))
	assert.False(t, Verify([]byte(testSecret), body, strings.ToUpper(sig)))
	assert.False(t, Verify([]byte(testSecret), body, ""))
	assert.False(t, Verify([]byte("other"), body, sig))
}

func TestHandleOrders_Published(t *testing.T) {
	g := newGateway(t, &recordingPublisher{}, nil)

	rec, out := serve(g.router, signedRequest([]byte(`{ "orderId": "A-1", "total": 19.99 }`), "c1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, true, out["published"])
	assert.Equal(t, "mid-1", out["messageId"])

	require.Len(t, g.pub.msgs, 1)
	assert.Equal(t, `{"orderId":"A-1","total":19.99}`, string(g.pub.msgs[0].Body))
	assert.Equal(t, "c1", g.pub.msgs[0].ClientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.GatewayRequests.WithLabelValues(OutcomePublished)))
}

func TestHandleOrders_NonJSONIsPublishedAsText(t *testing.T) {
	g := newGateway(t, &recordingPublisher{}, nil)

	body := []byte("plain \xff text")
	rec, _ := serve(g.router, signedRequest(body, "c1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, g.pub.msgs, 1)
	assert.Equal(t, "plain \uFFFD text", string(g.pub.msgs[0].Body))
}

func TestHandleOrders_Unauthorized(t *testing.T) {
	body := []byte(`{"orderId":"A-1"}`)
	sig := Sign([]byte(testSecret), body)

	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	tests := []struct {
		name     string
		clientID string
		sig      string
		body     []byte
	}{
		{name: "missing client id", sig: sig, body: body},
		{name: "missing signature", clientID: "c1", body: body},
		{name: "flipped signature", clientID: "c1", sig: string(flipped), body: body},
		{name: "uppercase signature", clientID: "c1", sig: strings.ToUpper(sig), body: body},
		{name: "tampered body", clientID: "c1", sig: sig, body: []byte(`{"orderId":"A-2"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, &recordingPublisher{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(tt.body))
			if tt.clientID != "" {
				req.Header.Set(HeaderClientID, tt.clientID)
			}
			if tt.sig != "" {
				req.Header.Set(HeaderSignature, tt.sig)
			}

			rec, out := serve(g.router, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", out["error"])
			assert.Empty(t, g.pub.msgs)
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	g := newGateway(t, &recordingPublisher{}, nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/orders", nil),
		httptest.NewRequest(http.MethodPut, "/orders", nil),
		httptest.NewRequest(http.MethodPost, "/orders/1", nil),
		httptest.NewRequest(http.MethodPost, "/", nil),
	} {
		rec, out := serve(g.router, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", req.Method, req.URL.Path)
		assert.Equal(t, "not found", out["error"])
	}
	assert.Empty(t, g.pub.msgs)
	assert.Equal(t, 4.0, testutil.ToFloat64(g.metrics.GatewayRequests.WithLabelValues(OutcomeNotFound)))
}

func TestHandleOrders_TooLarge(t *testing.T) {
	g := newGateway(t, &recordingPublisher{}, nil)

	body := bytes.Repeat([]byte("x"), 65)
	rec, _ := serve(g.router, signedRequest(body, "c1"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, g.pub.msgs)
}

func TestHandleOrders_PublishFailure(t *testing.T) {
	boom := errors.New("sns down")
	body := []byte(`{"orderId":"A-1"}`)

	t.Run("spooled", func(t *testing.T) {
		spool := &recordingSpool{}
		g := newGateway(t, &recordingPublisher{err: boom}, spool)

		rec, out := serve(g.router, signedRequest(body, "c1"))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, true, out["ok"])
		assert.Equal(t, false, out["published"])
		assert.Equal(t, true, out["spooled"])

		require.Len(t, spool.msgs, 1)
		assert.Equal(t, `{"orderId":"A-1"}`, string(spool.msgs[0].Body))
		assert.Equal(t, "c1", spool.msgs[0].ClientID)
	})

	t.Run("spool failure", func(t *testing.T) {
		g := newGateway(t, &recordingPublisher{err: boom}, &recordingSpool{err: errors.New("disk full")})

		rec, out := serve(g.router, signedRequest(body, "c1"))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "publish failed", out["error"])
	})

	t.Run("no spool", func(t *testing.T) {
		g := newGateway(t, &recordingPublisher{err: boom}, nil)

		rec, _ := serve(g.router, signedRequest(body, "c1"))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.GatewayRequests.WithLabelValues(OutcomePublishFailed)))
	})
}

func TestRouter_OpsEndpoints(t *testing.T) {
	g := newGateway(t, &recordingPublisher{}, nil)
	serve(g.router, signedRequest([]byte(`{}`), "c1"))

	rec, _ := serve(g.router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, _ = serve(g.router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orderflow_gateway_requests_total{outcome="published"} 1`)
}

func TestRouter_WithoutOps(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHandler(config.Config{ClientSecret: testSecret, MaxBodySize: 64}, metrics.New(reg), &recordingPublisher{}, nil)
	r := NewRouter(h, RouterOptions{})

	rec, _ := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "first public forwarded", xff: "10.0.0.1, 203.0.113.7, 198.51.100.2", remote: "10.0.1.5:3456", want: "203.0.113.7"},
		{name: "only private forwarded", xff: "10.0.0.1", remote: "198.51.100.9:80", want: "198.51.100.9"},
		{name: "private remote", remote: "192.168.1.2:80", want: ""},
		{name: "garbage", xff: "nope", remote: "nope", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, `{"a":[1,2.50]}`, string(Normalize([]byte("{ \"a\" : [1, 2.50] }\n"))))
	assert.Equal(t, `"text"`, string(Normalize([]byte(` "text" `))))
	assert.Equal(t, "{broken", string(Normalize([]byte("{broken"))))
}
