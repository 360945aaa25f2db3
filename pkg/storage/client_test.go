package storage

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "context deadline", err: context.DeadlineExceeded, want: false},
		{name: "connection reset", err: syscall.ECONNRESET, want: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, want: true},
		{name: "eof", err: io.EOF, want: true},
		{name: "timeout message", err: errors.New("read timeout"), want: true},
		{name: "overloaded message", err: errors.New("Server is overloaded"), want: true},
		{name: "syntax error", err: errors.New("syntax error at position 10"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{Addr: "localhost:9000"}
	cfg.SetDefaults()

	assert.Equal(t, "ethereum_mainnet", cfg.Database)
	assert.Equal(t, "blocks", cfg.Table)
	assert.Equal(t, "ethereum_mainnet.blocks", cfg.QualifiedTable())
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "mainnet", cfg.Network)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Addr = "localhost:9000"
	require.NoError(t, cfg.Validate())
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(logrus.New(), &Config{})
	require.Error(t, err)
}

func TestDoWithRetryStopsOnPermanentError(t *testing.T) {
	client, err := NewClient(logrus.New(), &Config{Addr: "localhost:9000"})
	require.NoError(t, err)

	calls := 0
	permanent := errors.New("syntax error")

	err = client.doWithRetry(context.Background(), "test", func(context.Context) error {
		calls++

		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoWithRetryRetriesTransientErrors(t *testing.T) {
	client, err := NewClient(logrus.New(), &Config{
		Addr:           "localhost:9000",
		MaxRetries:     3,
		RetryBaseDelay: 1,
	})
	require.NoError(t, err)

	calls := 0

	err = client.doWithRetry(context.Background(), "test", func(context.Context) error {
		calls++

		if calls < 3 {
			return syscall.ECONNRESET
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithRetryExhaustsBudget(t *testing.T) {
	client, err := NewClient(logrus.New(), &Config{
		Addr:           "localhost:9000",
		MaxRetries:     2,
		RetryBaseDelay: 1,
	})
	require.NoError(t, err)

	calls := 0

	err = client.doWithRetry(context.Background(), "test", func(context.Context) error {
		calls++

		return syscall.ECONNRESET
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 3, calls)
}
