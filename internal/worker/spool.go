package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"orderflow/internal/bus"
	"orderflow/internal/clock"
	"orderflow/internal/metrics"
)

// SpoolConfig 는 로컬 publish spool 설정.
type SpoolConfig struct {
	Dir          string
	InstanceID   string
	MaxAge       time.Duration // 파일 TTL (0 이면 무제한)
	MaxSizeBytes int64         // 디렉토리 전체 허용 용량 (0 이면 무제한)
}

// Spool
// ------------------------------------------------------------
// gateway 가 bus 에 발행하지 못한 메시지를 로컬 디스크에 저장하고
// 이후 재발행을 담당한다.
//   - Save: 메시지들을 gzip+JSONL 파일 하나로 저장
//   - ReplayOne: 가장 오래된 파일 1개를 재발행
//   - Run: ReplayOne 을 주기적으로 반복
//
// TTL 판단은 "파일명 prefix 의 Unix timestamp" 기준.
// 용량 초과 시 가장 오래된 파일부터 지운다.
type Spool struct {
	cfg       SpoolConfig
	metrics   *metrics.Metrics
	publisher bus.Publisher
	encoder   *Encoder
	now       clock.Source

	mu        sync.Mutex
	sizeBytes int64 // 현재 spool 디렉토리의 data 파일 총 바이트
	files     int64
}

// NewSpool 은 디렉토리를 만들고 기존 파일을 스캔해 용량/파일 수를 복원한다.
// 쓰다 만 임시 파일(.tmp-*)은 정리한다.
func NewSpool(cfg SpoolConfig, pub bus.Publisher, m *metrics.Metrics, now clock.Source) (*Spool, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	s := &Spool{
		cfg:       cfg,
		metrics:   m,
		publisher: pub,
		encoder:   NewEncoder(),
		now:       now,
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan spool dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") {
			_ = os.Remove(filepath.Join(cfg.Dir, name))
			continue
		}
		if !isSpoolFile(name) {
			continue
		}
		if info, err := e.Info(); err == nil {
			s.sizeBytes += info.Size()
			s.files++
		}
	}
	s.syncGauges()

	if s.files > 0 {
		log.Info().
			Str("dir", cfg.Dir).
			Int64("files", s.files).
			Int64("bytes", s.sizeBytes).
			Msg("spool restored")
	}
	return s, nil
}

// Save 는 발행 실패한 메시지들을 파일 하나로 저장한다.
// 용량이 부족하면 오래된 파일을 지우고, 그래도 부족하면 버린다(ErrSpoolFull).
func (s *Spool) Save(msgs ...bus.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := s.now()
	entries := make([]SpoolEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, SpoolEntry{
			Body:     string(m.Body),
			ClientID: m.ClientID,
			Ts:       now.UnixMilli(),
		})
	}

	data, err := s.encoder.EncodeJSONLGZ(entries)
	if err != nil {
		return fmt.Errorf("encode spool entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(len(data))
	if !s.ensureCapacityLocked(size) {
		log.Error().Int64("bytes", size).Int("messages", len(msgs)).Msg("spool full, dropping messages")
		s.metrics.SpoolDropped.Add(float64(len(msgs)))
		return ErrSpoolFull
	}

	name := NewFilename(s.cfg.InstanceID, now)
	if err := s.writeFileLocked(name, data); err != nil {
		return err
	}

	s.sizeBytes += size
	s.files++
	s.syncGauges()
	s.metrics.SpoolEnqueued.Add(float64(len(msgs)))
	return nil
}

// ErrSpoolFull 은 용량 정책상 더 저장할 수 없을 때.
var ErrSpoolFull = errors.New("spool full")

// ReplayOne 은 가장 오래된 파일 1개를 재발행한다.
//   - TTL 초과 → 삭제
//   - 깨진 파일 → 삭제 (재발행 불가)
//   - 일부만 발행 성공 → 남은 entry 로 파일을 다시 쓴다
//
// 처리할 파일이 있었으면 true.
func (s *Spool) ReplayOne(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	name := s.pickOldestLocked()
	if name == "" {
		s.mu.Unlock()
		return false, nil
	}
	path := filepath.Join(s.cfg.Dir, name)

	// TTL 판단: 파일명 prefix 의 Unix timestamp 기반
	if s.cfg.MaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := s.now().Sub(time.Unix(sec, 0))
			if age > s.cfg.MaxAge {
				s.removeLocked(name)
				s.metrics.SpoolExpired.Inc()
				s.mu.Unlock()
				log.Warn().Str("file", name).Dur("age", age).Msg("spool file expired")
				return true, nil
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		s.removeLocked(name)
		s.mu.Unlock()
		return true, fmt.Errorf("open spool file %s: %w", name, err)
	}
	entries, err := s.encoder.DecodeJSONLGZ(f)
	_ = f.Close()
	if err != nil {
		s.removeLocked(name)
		s.metrics.SpoolDropped.Inc()
		s.mu.Unlock()
		log.Error().Err(err).Str("file", name).Msg("invalid spool file removed")
		return true, nil
	}
	s.mu.Unlock()

	// 발행은 lock 밖에서 한다 (bus 장애 시 Save 를 막지 않도록).
	sent := 0
	var pubErr error
	for _, entry := range entries {
		if _, pubErr = s.publisher.Publish(ctx, entry.Message()); pubErr != nil {
			break
		}
		sent++
	}
	if sent > 0 {
		s.metrics.SpoolReplayed.Add(float64(sent))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pubErr == nil {
		s.removeLocked(name)
		log.Info().Str("file", name).Int("messages", sent).Msg("spool replayed")
		return true, nil
	}

	if sent > 0 {
		if err := s.rewriteLocked(name, entries[sent:]); err != nil {
			log.Error().Err(err).Str("file", name).Msg("spool rewrite failed")
		}
	}
	return true, fmt.Errorf("replay %s: %w", name, pubErr)
}

// Run 은 interval 마다 spool 을 비운다. 발행 실패 시 다음 주기까지 쉰다.
func (s *Spool) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Spool) drain(ctx context.Context) {
	for {
		found, err := s.ReplayOne(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("spool replay failed")
			}
			return
		}
		if !found {
			return
		}
	}
}

// Files / SizeBytes 는 현재 spool 상태.
func (s *Spool) Files() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files
}

func (s *Spool) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeBytes
}

// ensureCapacityLocked 는 MaxSizeBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 없는데도 부족하면 false.
func (s *Spool) ensureCapacityLocked(incoming int64) bool {
	max := s.cfg.MaxSizeBytes
	if max <= 0 {
		return true
	}
	if incoming > max {
		return false
	}

	for s.sizeBytes+incoming > max {
		oldest := s.pickOldestLocked()
		if oldest == "" {
			return false
		}
		s.removeLocked(oldest)
		s.metrics.SpoolExpired.Inc()
		log.Warn().Str("file", oldest).Msg("spool capacity reached, removed oldest file")
	}
	return true
}

// writeFileLocked 는 임시 파일에 쓴 뒤 rename 한다 (반쯤 쓴 파일이 replay 되지 않도록).
func (s *Spool) writeFileLocked(name string, data []byte) error {
	tmp := filepath.Join(s.cfg.Dir, ".tmp-"+name)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.cfg.Dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename spool file: %w", err)
	}
	return nil
}

// rewriteLocked 는 아직 발행하지 못한 entry 만 남긴다.
// 그 사이 용량 정책으로 지워진 파일이면 아무것도 하지 않는다.
func (s *Spool) rewriteLocked(name string, rest []SpoolEntry) error {
	path := filepath.Join(s.cfg.Dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	data, err := s.encoder.EncodeJSONLGZ(rest)
	if err != nil {
		return err
	}
	if err := s.writeFileLocked(name, data); err != nil {
		return err
	}
	s.sizeBytes += int64(len(data)) - info.Size()
	s.syncGauges()
	return nil
}

// removeLocked 는 파일을 지우고 용량/파일 수를 갱신한다.
func (s *Spool) removeLocked(name string) {
	path := filepath.Join(s.cfg.Dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("spool remove failed")
		return
	}
	s.sizeBytes -= info.Size()
	s.files--
	s.syncGauges()
}

// pickOldestLocked 는 파일명(=timestamp) 기준 가장 오래된 spool 파일.
// ReadDir 결과는 이름순이지만 필터 후 한 번 더 정렬해 둔다.
func (s *Spool) pickOldestLocked() string {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isSpoolFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	return files[0]
}

func (s *Spool) syncGauges() {
	s.metrics.SpoolFiles.Set(float64(s.files))
	s.metrics.SpoolSizeBytes.Set(float64(s.sizeBytes))
}

// isSpoolFile: 숨김/임시 파일 제외, 확장자 일치.
func isSpoolFile(name string) bool {
	return name != "" && name[0] != '.' && strings.HasSuffix(name, spoolExt)
}
