package logger

import (
	"io"
	"os"
	"strings"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"orderflow/internal/config"
)

// Init
//
// 프로세스 시작 시 한 번 호출해 전역 zerolog 로거를 설정한다.
//   - LOG_PRETTY=true : 콘솔용 컬러 텍스트 (로컬 개발)
//   - 그 외           : JSON 한 줄 (CloudWatch Logs 검색용)
//
// 모든 로그에 service / instance / role 필드가 붙는다.
// LOG_SAMPLE_N > 1 이면 Debug/Info 는 N 개 중 1 개만 남기고,
// Warn 이상은 샘플링하지 않는다.
//
// 사용 예:
//
//	logger.Init(cfg, "store", os.Stdout)
//	log.Info().Msg("consumer started")
func Init(cfg config.Config, role string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && cfg.LogLevel != "" {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID)
	if role != "" {
		ctx = ctx.Str("role", role)
	}
	logger := ctx.Logger()

	if cfg.LogSampleN > 1 {
		logger = logger.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	zlog.Logger = logger

	// 표준 log 패키지(SDK 내부 등) 출력도 같은 로거로 보낸다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)

	return logger
}
