package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"orderflow/internal/server"
)

// Client 는 서명된 주문을 gateway 로 보낸다.
type Client struct {
	endpoint string // 예: http://localhost:8080/orders
	clientID string
	secret   []byte
	http     *http.Client
}

func NewClient(baseURL, clientID, secret string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/orders",
		clientID: clientID,
		secret:   []byte(secret),
		http:     &http.Client{Timeout: timeout},
	}
}

// Submit 은 body 를 서명해 POST 하고 상태 코드와 응답 본문을 돌려준다.
func (c *Client) Submit(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderClientID, c.clientID)
	req.Header.Set(server.HeaderSignature, server.Sign(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, out, nil
}

// Stats 는 Run 결과.
type Stats struct {
	Sent     int
	Accepted int // 200 또는 202
	Rejected int
	Errors   int
}

// Run 은 count 개의 주문을 interval 간격으로 보낸다. ctx 가 끝나면 멈춘다.
func Run(ctx context.Context, gen *Generator, c *Client, count int, interval time.Duration) Stats {
	var st Stats
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}

		order, body, err := gen.Body()
		if err != nil {
			st.Errors++
			continue
		}

		status, resp, err := c.Submit(ctx, body)
		st.Sent++
		switch {
		case err != nil:
			st.Errors++
			log.Warn().Err(err).Str("orderId", order.OrderID).Msg("submit failed")
		case status == http.StatusOK || status == http.StatusAccepted:
			st.Accepted++
			log.Debug().Str("orderId", order.OrderID).Int("status", status).Msg("order submitted")
		default:
			st.Rejected++
			log.Warn().Str("orderId", order.OrderID).Int("status", status).Bytes("response", resp).Msg("order rejected")
		}

		if interval > 0 && i < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}
	return st
}
