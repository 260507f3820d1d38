package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "orderflow", cfg.ServiceName)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, int64(1<<20), cfg.MaxBodySize)
	assert.Equal(t, BusSNS, cfg.Bus)
	assert.Equal(t, "ORDERS", cfg.NATSStream)
	assert.Equal(t, "orders.submitted", cfg.NATSSubject)
	assert.Equal(t, StoreDynamoDB, cfg.KeyedStore)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, "order:", cfg.RedisKeyPrefix)
	assert.Equal(t, "ddb-consumer", cfg.Origin)
	assert.Equal(t, "orders/", cfg.ArchivePrefix)
	assert.Equal(t, SSEAES256, cfg.ArchiveSSE)
	assert.Equal(t, 5*time.Second, cfg.S3Timeout)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.FetchWait)
	assert.Equal(t, 1, cfg.DispatchConcurrency)
	assert.Equal(t, 5*time.Second, cfg.RedeliveryDelay)
	assert.Equal(t, -1, cfg.NATSMaxDeliver)
	assert.Empty(t, cfg.SpoolDir)
	assert.Equal(t, 24*time.Hour, cfg.SpoolMaxAge)
	assert.Equal(t, int64(256<<20), cfg.SpoolMaxSizeBytes)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "orders-prod")
	t.Setenv("ARCHIVE_BUCKET", "archive-bucket")
	t.Setenv("ARCHIVE_PREFIX", "")
	t.Setenv("BUS", "NATS")
	t.Setenv("MAX_BODY_SIZE", "2048")
	t.Setenv("S3_TIMEOUT", "750ms")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("LOG_SAMPLE_N", "100")
	t.Setenv("INSTANCE_ID", "gw-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "orders-prod", cfg.OrdersTable)
	assert.Equal(t, "archive-bucket", cfg.ArchiveBucket)
	assert.Empty(t, cfg.ArchivePrefix)
	assert.Equal(t, BusNATS, cfg.Bus)
	assert.Equal(t, int64(2048), cfg.MaxBodySize)
	assert.Equal(t, 750*time.Millisecond, cfg.S3Timeout)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, uint32(100), cfg.LogSampleN)
	assert.Equal(t, "gw-1", cfg.InstanceID)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FETCH_WAIT", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		role    Role
		lambda  bool
		wantErr error
	}{
		{
			name:    "gateway without secret",
			mutate:  func(c *Config) { c.TopicARN = "arn" },
			role:    RoleGateway,
			wantErr: ErrMissing,
		},
		{
			name:    "gateway on sns without topic",
			mutate:  func(c *Config) { c.ClientSecret = "s" },
			role:    RoleGateway,
			wantErr: ErrMissing,
		},
		{
			name:   "gateway on sns",
			mutate: func(c *Config) { c.ClientSecret = "s"; c.TopicARN = "arn" },
			role:   RoleGateway,
		},
		{
			name:   "gateway on nats",
			mutate: func(c *Config) { c.ClientSecret = "s"; c.Bus = BusNATS },
			role:   RoleGateway,
		},
		{
			name:   "store lambda on dynamodb",
			role:   RoleStore,
			lambda: true,
		},
		{
			name:    "store server needs nats bus",
			role:    RoleStore,
			wantErr: ErrInvalid,
		},
		{
			name:    "store on redis without addr",
			mutate:  func(c *Config) { c.KeyedStore = StoreRedis },
			role:    RoleStore,
			lambda:  true,
			wantErr: ErrMissing,
		},
		{
			name:    "unknown keyed store",
			mutate:  func(c *Config) { c.KeyedStore = "postgres" },
			role:    RoleStore,
			lambda:  true,
			wantErr: ErrInvalid,
		},
		{
			name:    "archive without bucket",
			role:    RoleArchive,
			lambda:  true,
			wantErr: ErrMissing,
		},
		{
			name:    "archive with unknown sse",
			mutate:  func(c *Config) { c.ArchiveBucket = "b"; c.ArchiveSSE = "rot13" },
			role:    RoleArchive,
			lambda:  true,
			wantErr: ErrInvalid,
		},
		{
			name:   "archive server on nats",
			mutate: func(c *Config) { c.ArchiveBucket = "b"; c.Bus = BusNATS },
			role:   RoleArchive,
		},
		{
			name:    "consumer server with zero redelivery delay",
			mutate:  func(c *Config) { c.ArchiveBucket = "b"; c.Bus = BusNATS; c.RedeliveryDelay = 0 },
			role:    RoleArchive,
			wantErr: ErrInvalid,
		},
		{
			name:    "consumer server with zero max deliver",
			mutate:  func(c *Config) { c.ArchiveBucket = "b"; c.Bus = BusNATS; c.NATSMaxDeliver = 0 },
			role:    RoleArchive,
			wantErr: ErrInvalid,
		},
		{
			name:    "unknown bus",
			mutate:  func(c *Config) { c.ClientSecret = "s"; c.Bus = "kafka" },
			role:    RoleSeed,
			wantErr: ErrInvalid,
		},
		{
			name:    "unknown role",
			role:    Role("janitor"),
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate(tt.role, tt.lambda)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
