package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"orderflow/internal/bus"
	"orderflow/internal/config"
	"orderflow/internal/metrics"
	"orderflow/internal/pool"
)

// Gateway 요청 결과 (metrics outcome label).
const (
	OutcomePublished     = "published"
	OutcomeSpooled       = "spooled"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeNotFound      = "not_found"
	OutcomeTooLarge      = "too_large"
	OutcomeBadRequest    = "bad_request"
	OutcomePublishFailed = "publish_failed"
)

// Spooler 는 발행 실패한 메시지를 로컬에 보관한다.
type Spooler interface {
	Save(msgs ...bus.Message) error
}

type Handler struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	publisher bus.Publisher
	spool     Spooler // nil 이면 발행 실패 시 502
}

func NewHandler(cfg config.Config, m *metrics.Metrics, pub bus.Publisher, spool Spooler) *Handler {
	return &Handler{
		cfg:       cfg,
		metrics:   m,
		publisher: pub,
		spool:     spool,
	}
}

// HandleOrders
//
// POST /orders 를 처리한다.
//  1. 요청 길이 제한(MaxBodySize) → 초과 시 413
//  2. X-Client-Id / X-Signature(HMAC-SHA256 hex) 검증 → 실패 시 401
//  3. body 정규화 (JSON 이면 compact, 아니면 UTF-8 텍스트)
//  4. bus 발행 → 실패 시 spool(202) 또는 502
func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	// --------------------------------------------------------------------
	// body 읽기: BodyPool 기반 메모리 재사용
	// --------------------------------------------------------------------
	buf := pool.GetBody()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.Gateway(OutcomeTooLarge)
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("payload too large"))
			return
		}
		h.metrics.Gateway(OutcomeBadRequest)
		writeJSON(w, http.StatusBadRequest, errorBody("bad request"))
		return
	}
	raw := buf.Bytes()

	// --------------------------------------------------------------------
	// 인증: 원문 body 그대로 서명 비교
	// --------------------------------------------------------------------
	clientID := r.Header.Get(HeaderClientID)
	if clientID == "" || !Verify([]byte(h.cfg.ClientSecret), raw, r.Header.Get(HeaderSignature)) {
		h.metrics.Gateway(OutcomeUnauthorized)
		log.Warn().Str("ip", clientIP(r)).Str("clientId", clientID).Msg("unauthorized order submission")
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	msg := bus.Message{Body: Normalize(raw), ClientID: clientID}

	// --------------------------------------------------------------------
	// 발행
	// --------------------------------------------------------------------
	messageID, err := h.publisher.Publish(r.Context(), msg)
	if err == nil {
		h.metrics.Gateway(OutcomePublished)
		log.Debug().Str("clientId", clientID).Str("messageId", messageID).Msg("order published")
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"published": true,
			"messageId": messageID,
		})
		return
	}

	log.Error().Err(err).Str("clientId", clientID).Str("ip", clientIP(r)).Msg("publish failed")

	if h.spool != nil {
		spoolErr := h.spool.Save(msg)
		if spoolErr == nil {
			h.metrics.Gateway(OutcomeSpooled)
			writeJSON(w, http.StatusAccepted, map[string]any{
				"ok":        true,
				"published": false,
				"spooled":   true,
			})
			return
		}
		log.Error().Err(spoolErr).Str("clientId", clientID).Msg("spool save failed")
	}

	h.metrics.Gateway(OutcomePublishFailed)
	writeJSON(w, http.StatusBadGateway, errorBody("publish failed"))
}

// HandleNotFound 는 /orders 외 모든 경로와 메서드에 404 를 돌려준다.
func (h *Handler) HandleNotFound(w http.ResponseWriter, _ *http.Request) {
	h.metrics.Gateway(OutcomeNotFound)
	writeJSON(w, http.StatusNotFound, errorBody("not found"))
}

// Normalize
//
// 발행할 메시지 본문을 만든다.
//   - 유효한 JSON 이면 compact 형태 (숫자 literal 은 그대로)
//   - 그 외에는 UTF-8 텍스트 (깨진 sequence 는 U+FFFD 로 치환)
func Normalize(raw []byte) []byte {
	if json.Valid(raw) {
		var out bytes.Buffer
		if err := json.Compact(&out, raw); err == nil {
			return out.Bytes()
		}
	}
	return []byte(strings.ToValidUTF8(string(raw), "\uFFFD"))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
