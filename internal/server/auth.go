package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// 인증 헤더.
const (
	HeaderClientID  = "X-Client-Id"
	HeaderSignature = "X-Signature"
)

// Sign 은 body 의 HMAC-SHA256 을 소문자 hex 로 돌려준다.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 는 signature 가 Sign(secret, body) 와 정확히 같은지 상수 시간으로 비교한다.
// 대문자 hex 등 표기가 다르면 거부한다.
func Verify(secret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
