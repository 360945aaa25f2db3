package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

const pushoverAPIURL = "https://api.pushover.net/1/messages.json"

// Emergency-priority messages repeat every retry seconds until acknowledged
// or expire seconds have passed. These are the Pushover API minimums times a
// sensible margin.
const (
	pushoverEmergencyRetry  = 60
	pushoverEmergencyExpire = 3600
)

// Pushover sends notifications through the Pushover message API.
type Pushover struct {
	config  *PushoverConfig
	network string
	apiURL  string
	client  *http.Client
}

func NewPushover(config *PushoverConfig, network string) *Pushover {
	return &Pushover{
		config:  config,
		network: network,
		apiURL:  pushoverAPIURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Pushover) Notify(ctx context.Context, n *Notification) error {
	form := url.Values{}
	form.Set("token", p.config.Token)
	form.Set("user", p.config.UserKey)
	form.Set("title", n.Title)
	form.Set("message", n.Message)
	form.Set("priority", strconv.Itoa(int(n.Priority)))

	if n.Priority == PriorityEmergency {
		form.Set("retry", strconv.Itoa(pushoverEmergencyRetry))
		form.Set("expire", strconv.Itoa(pushoverEmergencyExpire))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build pushover request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		common.NotificationsSent.WithLabelValues(p.network, "pushover", "error").Inc()

		return fmt.Errorf("pushover request failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		common.NotificationsSent.WithLabelValues(p.network, "pushover", "error").Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("pushover returned status %d: %s", resp.StatusCode, string(body))
	}

	common.NotificationsSent.WithLabelValues(p.network, "pushover", "ok").Inc()

	return nil
}
