package envelope

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	errNotJSON   = errors.New("envelope: not valid JSON")
	errNotObject = errors.New("envelope: not a JSON object")
)

// parseObject 는 b 전체가 하나의 JSON object 일 때만 성공한다.
// 숫자는 json.Number 로 literal 그대로 남긴다.
//
// 문법 검사는 encoding/json.Valid 로 한다. goccy 의 Valid / Decode 는
// float64 범위 밖의 literal (1e400 등) 을 문법 오류로 거부하기 때문.
// 값은 범위 검사가 없는 goccy Token 스트림으로 읽는다.
func parseObject(b []byte) (map[string]any, error) {
	if !stdjson.Valid(b) {
		return nil, errNotJSON
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}
	return readObject(dec)
}

// readObject 는 '{' 다음부터 짝이 맞는 '}' 까지 읽는다.
func readObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); ok && d == '}' {
			return obj, nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("envelope: unexpected object key %v", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		v, err := readValue(dec, tok)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
}

func readArray(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); ok && d == ']' {
			return arr, nil
		}
		v, err := readValue(dec, tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
}

func readValue(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return readObject(dec)
		case '[':
			return readArray(dec)
		}
		return nil, fmt.Errorf("envelope: unexpected delimiter %q", rune(t))
	case string:
		return strings.ToValidUTF8(t, "\uFFFD"), nil
	case json.Number, bool, nil:
		return t, nil
	}
	return nil, fmt.Errorf("envelope: unexpected token %T", tok)
}

// Marshal 은 payload 를 compact JSON 으로 직렬화한다.
//   - separators 없음 ("," ":")
//   - HTML 문자(<, >, &) 및 non-ASCII 는 escape 하지 않음
//   - json.Number 는 원래 literal 그대로 출력
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
