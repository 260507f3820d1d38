package awslambda

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"
)

// ALBHandler
// ------------------------------------------------------------
// ALB target group → Lambda 이벤트를 http.Request 로 바꿔 router 에 넘기고,
// 응답을 다시 ALB 형식으로 돌려준다.
// 서버 모드와 같은 router 를 쓰므로 인증/라우팅 동작이 동일하다.
//
// target group 에 multi-value headers 가 켜져 있으면 응답도 multi-value 로 돌려준다.
type ALBHandler struct {
	router http.Handler
}

func NewALBHandler(router http.Handler) *ALBHandler {
	return &ALBHandler{router: router}
}

func (h *ALBHandler) Handle(ctx context.Context, ev events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
	multi := len(ev.MultiValueHeaders) > 0

	req, err := toHTTPRequest(ctx, ev)
	if err != nil {
		log.Warn().Err(err).Str("path", ev.Path).Msg("invalid ALB request")
		w := newResponseWriter()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
		return w.toALB(multi), nil
	}

	w := newResponseWriter()
	h.router.ServeHTTP(w, req)
	return w.toALB(multi), nil
}

// toHTTPRequest 는 ALB 이벤트를 http.Request 로 바꾼다.
// isBase64Encoded 이면 body 를 디코딩한다.
func toHTTPRequest(ctx context.Context, ev events.ALBTargetGroupRequest) (*http.Request, error) {
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}

	query := url.Values{}
	for k, v := range ev.QueryStringParameters {
		query.Set(k, v)
	}
	for k, vs := range ev.MultiValueQueryStringParameters {
		query[k] = vs
	}

	u := url.URL{Path: ev.Path, RawQuery: query.Encode()}
	if u.Path == "" {
		u.Path = "/"
	}

	req, err := http.NewRequestWithContext(ctx, ev.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range ev.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range ev.MultiValueHeaders {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Host = req.Header.Get("Host")
	req.ContentLength = int64(len(body))
	return req, nil
}

// responseWriter 는 router 응답을 메모리에 모은다.
type responseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: http.Header{}}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) toALB(multi bool) events.ALBTargetGroupResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}

	resp := events.ALBTargetGroupResponse{
		StatusCode:        status,
		StatusDescription: strings.TrimSpace(fmt.Sprintf("%d %s", status, http.StatusText(status))),
		Body:              w.body.String(),
		IsBase64Encoded:   false,
	}
	if multi {
		resp.MultiValueHeaders = map[string][]string(w.header.Clone())
	} else {
		resp.Headers = make(map[string]string, len(w.header))
		for k := range w.header {
			resp.Headers[k] = w.header.Get(k)
		}
	}
	return resp
}
