// Package envelope unwraps bus deliveries into order payloads.
//
// A delivery body arrives in one of three shapes:
//
//   - the business JSON object itself (raw delivery),
//   - a notification envelope whose "Message" field holds base64 encoded JSON,
//   - a notification envelope whose "Message" field holds JSON text.
//
// Anything else degrades to {"raw": <text>}. Decode never fails.
package envelope

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"orderflow/internal/model"
)

// MessageField 는 SNS notification envelope 의 내부 메시지 필드.
const MessageField = "Message"

// Identifier 필드 후보. 앞에 있는 것이 우선한다.
const (
	IDField    = "orderId"
	AltIDField = "id"
)

// Stage 는 payload 가 어느 디코딩 단계에서 확정되었는지 나타낸다.
type Stage string

const (
	StageRawBody    Stage = "raw_body"    // body 자체가 JSON object 가 아님
	StageDirect     Stage = "direct"      // Message 필드 없음, body 가 payload
	StageBase64JSON Stage = "base64_json" // Message = base64(JSON object)
	StageBase64Raw  Stage = "base64_raw"  // Message = base64(JSON 이 아닌 텍스트)
	StageInnerJSON  Stage = "inner_json"  // Message = JSON object (인코딩 없음)
	StageInnerRaw   Stage = "inner_raw"   // Message 를 해석할 수 없음
)

// Result 는 Decode 의 결과.
type Result struct {
	Payload model.Payload
	Stage   Stage

	// Hint 는 payload 가 선언한 identifier. HasHint 가 false 면 의미 없음.
	Hint    string
	HasHint bool
}

// Decode 는 record body 를 payload 와 identifier hint 로 변환한다.
// 어떤 입력에도 panic/에러 없이 결과를 돌려준다.
func Decode(body []byte) Result {
	outer, err := parseObject(body)
	if err != nil {
		return Result{Payload: model.RawPayload(string(body)), Stage: StageRawBody}
	}

	msg, ok := outer[MessageField]
	if !ok {
		return resolved(StageDirect, outer)
	}

	for _, t := range messageTransforms {
		if r, ok := t(msg); ok {
			return r
		}
	}
	// messageTransforms 의 마지막 단계는 항상 성공하므로 도달하지 않는다.
	return Result{Payload: model.RawPayload(textOf(msg)), Stage: StageInnerRaw}
}

// messageTransform 은 envelope 의 Message 값을 해석하는 한 단계.
// ok == false 이면 다음 단계로 넘어간다.
type messageTransform func(msg any) (Result, bool)

var messageTransforms = []messageTransform{
	fromBase64,
	fromInnerJSON,
	fromInnerText,
}

// fromBase64: Message 가 strict base64 이고 UTF-8 텍스트로 풀리는 경우.
// 풀린 텍스트가 JSON object 가 아니면 그 텍스트를 raw 로 확정한다.
func fromBase64(msg any) (Result, bool) {
	s, ok := msg.(string)
	if !ok {
		return Result{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !utf8.Valid(raw) {
		return Result{}, false
	}
	if obj, err := parseObject(raw); err == nil {
		return resolved(StageBase64JSON, obj), true
	}
	return Result{Payload: model.RawPayload(string(raw)), Stage: StageBase64Raw}, true
}

// fromInnerJSON: Message 가 인코딩 없이 JSON 으로 들어온 경우.
// 문자열이면 파싱하고, 이미 object 면 그대로 쓴다.
func fromInnerJSON(msg any) (Result, bool) {
	switch v := msg.(type) {
	case map[string]any:
		return resolved(StageInnerJSON, v), true
	case string:
		if obj, err := parseObject([]byte(v)); err == nil {
			return resolved(StageInnerJSON, obj), true
		}
	}
	return Result{}, false
}

// fromInnerText: 마지막 fallback. Message 값을 텍스트로 보관한다.
func fromInnerText(msg any) (Result, bool) {
	return Result{Payload: model.RawPayload(textOf(msg)), Stage: StageInnerRaw}, true
}

func resolved(stage Stage, obj map[string]any) Result {
	p := model.Payload(obj)
	hint, ok := IdentifierHint(p)
	return Result{Payload: p, Stage: stage, Hint: hint, HasHint: ok}
}

// IdentifierHint 는 payload 가 선언한 identifier 를 찾는다.
// 비어 있지 않은 문자열과 숫자 literal 만 identifier 로 인정한다.
// 문자열의 깨진 UTF-8 은 payload 와 같게 U+FFFD 로 바꾼다 (DynamoDB S key 는 UTF-8 만 허용).
func IdentifierHint(p model.Payload) (string, bool) {
	for _, field := range []string{IDField, AltIDField} {
		switch v := p[field].(type) {
		case string:
			if v != "" {
				return strings.ToValidUTF8(v, "\uFFFD"), true
			}
		case json.Number:
			if v != "" {
				return v.String(), true
			}
		}
	}
	return "", false
}

// textOf 는 문자열이 아닌 Message 값을 compact JSON 텍스트로 만든다.
func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
