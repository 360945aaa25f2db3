package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushoverNotify(t *testing.T) {
	var received []map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		fields := map[string]string{}
		for key := range r.PostForm {
			fields[key] = r.PostForm.Get(key)
		}

		received = append(received, fields)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPushover(&PushoverConfig{Token: "app-token", UserKey: "user-key"}, "mainnet")
	p.apiURL = server.URL

	err := p.Notify(context.Background(), &Notification{
		Title:    "Gap detected",
		Message:  "1 gap below block 18000000",
		Priority: PriorityNormal,
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "app-token", received[0]["token"])
	assert.Equal(t, "user-key", received[0]["user"])
	assert.Equal(t, "Gap detected", received[0]["title"])
	assert.Equal(t, "0", received[0]["priority"])
	assert.Empty(t, received[0]["retry"])
}

func TestPushoverEmergencyCarriesRetryAndExpire(t *testing.T) {
	var received map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		received = map[string]string{
			"priority": r.PostForm.Get("priority"),
			"retry":    r.PostForm.Get("retry"),
			"expire":   r.PostForm.Get("expire"),
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPushover(&PushoverConfig{Token: "t", UserKey: "u"}, "mainnet")
	p.apiURL = server.URL

	err := p.Notify(context.Background(), &Notification{
		Title:    "Ingestion stale",
		Message:  "newest block is 20m old",
		Priority: PriorityEmergency,
	})
	require.NoError(t, err)

	assert.Equal(t, "2", received["priority"])
	assert.Equal(t, "60", received["retry"])
	assert.Equal(t, "3600", received["expire"])
}

func TestPushoverNotifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status":0,"errors":["application token is invalid"]}`, http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewPushover(&PushoverConfig{Token: "bad", UserKey: "u"}, "mainnet")
	p.apiURL = server.URL

	err := p.Notify(context.Background(), &Notification{Title: "x", Message: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestHeartbeatSuccessAndFail(t *testing.T) {
	var paths []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := NewHeartbeat(server.URL+"/ping/abc", "mainnet")
	require.True(t, h.Enabled())

	require.NoError(t, h.Success(context.Background()))
	require.NoError(t, h.Fail(context.Background()))

	require.Equal(t, []string{"/ping/abc", "/ping/abc/fail"}, paths)
}

func TestHeartbeatDisabledIsNoop(t *testing.T) {
	h := NewHeartbeat("", "mainnet")
	assert.False(t, h.Enabled())
	assert.NoError(t, h.Success(context.Background()))
	assert.NoError(t, h.Fail(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "disabled needs nothing", config: Config{}},
		{
			name:   "enabled with credentials",
			config: Config{Pushover: PushoverConfig{Enabled: true, Token: "t", UserKey: "u"}},
		},
		{
			name:    "enabled without token",
			config:  Config{Pushover: PushoverConfig{Enabled: true, UserKey: "u"}},
			wantErr: true,
		},
		{
			name:    "enabled without user key",
			config:  Config{Pushover: PushoverConfig{Enabled: true, Token: "t"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigNotifierFallsBackToNoop(t *testing.T) {
	c := Config{}
	assert.IsType(t, Noop{}, c.Notifier("mainnet"))

	c = Config{Pushover: PushoverConfig{Enabled: true, Token: "t", UserKey: "u"}}
	assert.IsType(t, &Pushover{}, c.Notifier("mainnet"))
}
