package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/bus"
	"orderflow/internal/config"
	"orderflow/internal/metrics"
	"orderflow/internal/server"
)

func TestRootCommand_Tree(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"gateway"},
		{"consume", "store"},
		{"consume", "archive"},
		{"seed"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Empty(t, rest)
		assert.Equal(t, path[len(path)-1], cmd.Name())
		assert.NotNil(t, cmd.RunE, "%v must be runnable", path)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("lambda"))
}

func TestLambdaFlag_DefaultsFromRuntimeEnv(t *testing.T) {
	t.Setenv(lambdaRuntimeEnv, "127.0.0.1:9001")
	assert.Equal(t, "true", NewRootCommand().PersistentFlags().Lookup("lambda").DefValue)

	t.Setenv(lambdaRuntimeEnv, "")
	assert.Equal(t, "false", NewRootCommand().PersistentFlags().Lookup("lambda").DefValue)
}

func TestSeedCommand_Flags(t *testing.T) {
	cmd, _, err := NewRootCommand().Find([]string{"seed"})
	require.NoError(t, err)

	for name, def := range map[string]string{
		"url":       "http://localhost:8080",
		"count":     "10",
		"interval":  "0s",
		"client-id": "seed",
		"seed":      "0",
		"timeout":   "5s",
	} {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestGateway_FailsFastWithoutSecret(t *testing.T) {
	t.Setenv("CLIENT_SECRET", "")
	t.Setenv("ORDERS_TOPIC_ARN", "")

	root := NewRootCommand()
	root.SetArgs([]string{"gateway", "--lambda=false"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissing)
}

func TestSeedCommand_SendsOrders(t *testing.T) {
	t.Setenv("CLIENT_SECRET", "secret")

	cfg := config.Config{ClientSecret: "secret", MaxBodySize: 1 << 20}
	pub := &countingPublisher{}
	h := server.NewHandler(cfg, metrics.New(prometheus.NewRegistry()), pub, nil)
	srv := httptest.NewServer(server.NewRouter(h, server.RouterOptions{}))
	defer srv.Close()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetArgs([]string{"seed", "--url", srv.URL, "--count", "3", "--seed", "9"})
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})

	require.NoError(t, root.Execute())
	assert.Equal(t, "sent=3 accepted=3 rejected=0 errors=0\n", out.String())
	assert.Equal(t, 3, pub.n)
}

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish(context.Context, bus.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return "id", nil
}
