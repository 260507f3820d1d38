package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config
//
// 서비스 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 프로세스 시작 시점에 Load() 로 한 번만 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정이다.
// 각 컴포넌트는 생성자에서 값으로 주입받는다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string `mapstructure:"service_name"`
	InstanceID  string `mapstructure:"instance_id"` // 비어 있으면 hostname, 실패 시 랜덤 hex
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`
	LogSampleN  uint32 `mapstructure:"log_sample_n"`

	// ---------------------------
	// AWS 공통
	// ---------------------------

	AWSRegion      string `mapstructure:"aws_region"`
	AWSEndpointURL string `mapstructure:"aws_endpoint_url"` // localstack 등 (비어 있으면 SDK 기본)

	// ---------------------------
	// Gateway
	// ---------------------------

	HTTPAddr     string `mapstructure:"http_addr"`
	MaxBodySize  int64  `mapstructure:"max_body_size"`
	ClientSecret string `mapstructure:"client_secret"` // HMAC-SHA256 key

	// ---------------------------
	// Bus
	// ---------------------------

	Bus         string `mapstructure:"bus"` // sns | nats
	TopicARN    string `mapstructure:"orders_topic_arn"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSStream  string `mapstructure:"nats_stream"`
	NATSSubject string `mapstructure:"nats_subject"`
	// NATSMaxDeliver 는 record 당 최대 전달 횟수. -1 이면 무제한 (stream MaxAge 까지).
	NATSMaxDeliver int `mapstructure:"nats_max_deliver"`

	// ---------------------------
	// Keyed store (store consumer)
	// ---------------------------

	KeyedStore     string        `mapstructure:"keyed_store"` // dynamodb | redis
	OrdersTable    string        `mapstructure:"orders_table"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisKeyPrefix string        `mapstructure:"redis_key_prefix"`
	Origin         string        `mapstructure:"origin"` // StoredItem.source 태그
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`

	// ---------------------------
	// Archive store (archive consumer)
	// ---------------------------
	// Retry 정책
	// --------------------------------------------
	// 재시도는 SDK 기본값과 bus 재전달(partial batch failure)에 맡긴다.
	// 애플리케이션 레벨 retry 는 두지 않는다.
	// --------------------------------------------

	ArchiveBucket   string        `mapstructure:"archive_bucket"`
	ArchivePrefix   string        `mapstructure:"archive_prefix"`
	ArchiveSSE      string        `mapstructure:"archive_sse"` // AES256 | aws:kms | none
	ArchiveKMSKeyID string        `mapstructure:"archive_kms_key_id"`
	S3Timeout       time.Duration `mapstructure:"s3_timeout"` // PutObject 호출당 timeout

	// ---------------------------
	// Consumer loop (self-hosted)
	// ---------------------------

	BatchSize           int           `mapstructure:"batch_size"`
	FetchWait           time.Duration `mapstructure:"fetch_wait"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"` // 1 이면 순차
	RedeliveryDelay     time.Duration `mapstructure:"redelivery_delay"`     // 실패 record 의 NakWithDelay 값

	// ---------------------------
	// 로컬 publish spool (gateway 서버 모드)
	// ---------------------------

	SpoolDir            string        `mapstructure:"spool_dir"` // 비어 있으면 비활성
	SpoolMaxAge         time.Duration `mapstructure:"spool_max_age"`
	SpoolMaxSizeBytes   int64         `mapstructure:"spool_max_size_bytes"`
	SpoolReplayInterval time.Duration `mapstructure:"spool_replay_interval"`
}

// Bus / store 종류.
const (
	BusSNS  = "sns"
	BusNATS = "nats"

	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"

	SSEAES256 = "AES256"
	SSEKMS    = "aws:kms"
	SSENone   = "none"
)

// Role 은 프로세스가 맡는 역할. 역할마다 필수 설정이 다르다.
type Role string

const (
	RoleGateway Role = "gateway"
	RoleStore   Role = "store"
	RoleArchive Role = "archive"
	RoleSeed    Role = "seed"
)

// ErrMissing 은 필수 설정이 비어 있을 때.
var ErrMissing = errors.New("missing required config")

// ErrInvalid 는 허용되지 않는 값일 때.
var ErrInvalid = errors.New("invalid config")

// defaults
//
// env 키(소문자) → 기본값. 빈 문자열도 등록해 두어야
// viper 가 AutomaticEnv 로 값을 찾아 Unmarshal 에 반영한다.
var defaults = map[string]any{
	"service_name": "orderflow",
	"instance_id":  "",
	"log_level":    "info",
	"log_pretty":   false,
	"log_sample_n": 0,

	"aws_region":       "",
	"aws_endpoint_url": "",

	"http_addr":     ":8080",
	"max_body_size": 1 << 20,
	"client_secret": "",

	"bus":              BusSNS,
	"orders_topic_arn": "",
	"nats_url":         "nats://127.0.0.1:4222",
	"nats_stream":      "ORDERS",
	"nats_subject":     "orders.submitted",
	"nats_max_deliver": -1,

	"keyed_store":      StoreDynamoDB,
	"orders_table":     "orders",
	"redis_addr":       "",
	"redis_key_prefix": "order:",
	"origin":           "ddb-consumer",
	"store_timeout":    "5s",

	"archive_bucket":     "",
	"archive_prefix":     "orders/",
	"archive_sse":        SSEAES256,
	"archive_kms_key_id": "",
	"s3_timeout":         "5s",

	"batch_size":           10,
	"fetch_wait":           "2s",
	"dispatch_concurrency": 1,
	"redelivery_delay":     "5s",

	"spool_dir":             "",
	"spool_max_age":         "24h",
	"spool_max_size_bytes":  256 << 20,
	"spool_replay_interval": "5s",
}

// Load
//
// 환경 변수 기반으로 Config 를 초기화한다.
// 형식 오류(숫자/기간 파싱 실패)는 에러로 돌려준다.
// 역할별 필수값 검사는 Validate 에서 한다.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AllowEmptyEnv(true) // ARCHIVE_PREFIX="" 는 prefix 없음
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = fallbackInstanceID()
	}
	cfg.Bus = strings.ToLower(strings.TrimSpace(cfg.Bus))
	cfg.KeyedStore = strings.ToLower(strings.TrimSpace(cfg.KeyedStore))
	return cfg, nil
}

// Validate
//
// 역할에 필요한 설정이 모두 있는지 검사한다 (fail-fast).
// lambda 가 true 이면 bus 는 SQS 구독이 대신하므로 consumer 의 NATS 설정은 보지 않는다.
func (c Config) Validate(role Role, lambda bool) error {
	var errs []error

	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, strings.ToUpper(key)))
		}
	}

	if c.Bus != BusSNS && c.Bus != BusNATS {
		errs = append(errs, fmt.Errorf("%w: BUS=%q (want sns|nats)", ErrInvalid, c.Bus))
	}

	switch role {
	case RoleGateway:
		require("client_secret", c.ClientSecret)
		if c.MaxBodySize <= 0 {
			errs = append(errs, fmt.Errorf("%w: MAX_BODY_SIZE must be positive", ErrInvalid))
		}
		if c.Bus == BusSNS || lambda {
			require("orders_topic_arn", c.TopicARN)
		} else {
			require("nats_url", c.NATSURL)
		}

	case RoleStore:
		switch c.KeyedStore {
		case StoreDynamoDB:
			require("orders_table", c.OrdersTable)
		case StoreRedis:
			require("redis_addr", c.RedisAddr)
		default:
			errs = append(errs, fmt.Errorf("%w: KEYED_STORE=%q (want dynamodb|redis)", ErrInvalid, c.KeyedStore))
		}
		errs = append(errs, c.validateConsumer(lambda)...)

	case RoleArchive:
		require("archive_bucket", c.ArchiveBucket)
		switch c.ArchiveSSE {
		case SSEAES256, SSEKMS, SSENone, "":
		default:
			errs = append(errs, fmt.Errorf("%w: ARCHIVE_SSE=%q", ErrInvalid, c.ArchiveSSE))
		}
		errs = append(errs, c.validateConsumer(lambda)...)

	case RoleSeed:
		require("client_secret", c.ClientSecret)

	default:
		errs = append(errs, fmt.Errorf("%w: unknown role %q", ErrInvalid, role))
	}

	return errors.Join(errs...)
}

func (c Config) validateConsumer(lambda bool) []error {
	if lambda {
		return nil
	}
	var errs []error
	if c.Bus != BusNATS {
		errs = append(errs, fmt.Errorf("%w: long-running consumers need BUS=nats", ErrInvalid))
	}
	if strings.TrimSpace(c.NATSURL) == "" {
		errs = append(errs, fmt.Errorf("%w: NATS_URL", ErrMissing))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: BATCH_SIZE must be positive", ErrInvalid))
	}
	if c.RedeliveryDelay <= 0 {
		errs = append(errs, fmt.Errorf("%w: REDELIVERY_DELAY must be positive", ErrInvalid))
	}
	if c.NATSMaxDeliver == 0 || c.NATSMaxDeliver < -1 {
		errs = append(errs, fmt.Errorf("%w: NATS_MAX_DELIVER must be -1 or positive", ErrInvalid))
	}
	return errs
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값.
//   - 기본: hostname (ECS/Fargate 에서는 task-id 형태로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
