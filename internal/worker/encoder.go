package worker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"orderflow/internal/bus"
	"orderflow/internal/pool"
)

// SpoolEntry 는 spool 파일의 JSONL 한 줄.
// gateway 가 발행하려던 메시지를 그대로 보관한다.
type SpoolEntry struct {
	Body     string `json:"body"`
	ClientID string `json:"clientId,omitempty"`
	Ts       int64  `json:"ts"` // spool 에 저장한 시각 (epoch ms)
}

// Message 는 entry 를 다시 발행할 메시지로 바꾼다.
func (e SpoolEntry) Message() bus.Message {
	return bus.Message{Body: []byte(e.Body), ClientID: e.ClientID}
}

// errEmptySpoolFile 은 entry 가 하나도 없는 spool 파일.
var errEmptySpoolFile = errors.New("spool file has no entries")

// Encoder 는 spool entry 를 JSONL → gzip 으로 직렬화한다.
//   - gzip.Writer + bytes.Buffer 재사용(pool 기반)
//   - 결과는 새 []byte 로 복사해 호출자에게 넘긴다
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeJSONLGZ 는 entries 를 한 줄씩 인코딩한 뒤 gzip 압축해 반환한다.
func (e *Encoder) EncodeJSONLGZ(entries []SpoolEntry) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)

	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close 시 gzip footer 까지 기록된다.
	if err := gz.Close(); err != nil {
		return nil, err
	}

	// pool 버퍼는 재사용되므로 복사본을 돌려준다.
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}

// DecodeJSONLGZ 는 gzip JSONL 을 읽어 entry 목록을 돌려준다.
// 한 줄이라도 깨져 있으면 파일 전체를 무효로 본다.
func (e *Encoder) DecodeJSONLGZ(r io.Reader) ([]SpoolEntry, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	var entries []SpoolEntry
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var entry SpoolEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read spool file: %w", err)
	}
	if len(entries) == 0 {
		return nil, errEmptySpoolFile
	}
	return entries, nil
}
