package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

// Heartbeat pings a healthchecks.io-style dead-man's-switch URL. The sink
// owns the alerting logic: it pages when pings stop arriving. Success,
// ongoing checks call Success; a detected incident calls Fail so the sink
// alerts immediately instead of waiting out its grace period.
type Heartbeat struct {
	pingURL string
	network string
	client  *http.Client
}

func NewHeartbeat(pingURL, network string) *Heartbeat {
	return &Heartbeat{
		pingURL: pingURL,
		network: network,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a ping URL is configured.
func (h *Heartbeat) Enabled() bool {
	return h != nil && h.pingURL != ""
}

// Success signals that the monitored process is alive and healthy.
func (h *Heartbeat) Success(ctx context.Context) error {
	return h.ping(ctx, h.pingURL, "success")
}

// Fail signals an active incident.
func (h *Heartbeat) Fail(ctx context.Context) error {
	return h.ping(ctx, h.pingURL+"/fail", "fail")
}

func (h *Heartbeat) ping(ctx context.Context, url, status string) error {
	if !h.Enabled() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build heartbeat request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		common.HeartbeatPings.WithLabelValues(h.network, "error").Inc()

		return fmt.Errorf("heartbeat ping failed: %w", err)
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 400 {
		common.HeartbeatPings.WithLabelValues(h.network, "error").Inc()

		return fmt.Errorf("heartbeat endpoint returned status %d", resp.StatusCode)
	}

	common.HeartbeatPings.WithLabelValues(h.network, status).Inc()

	return nil
}
