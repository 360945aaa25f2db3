package ethereum

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/sirupsen/logrus"
)

// headerTransport adds custom headers to requests and respects context cancellation
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// Node is a JSON-RPC client for a single execution endpoint. All block fetches
// go through it; callers are expected to hold a rate limiter permit per
// underlying request before calling.
type Node struct {
	config *Config
	log    logrus.FieldLogger
	rpc    *ethrpc.Provider
}

func NewNode(log logrus.FieldLogger, conf *Config) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ethereum config: %w", err)
	}

	httpClient := http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0, // context controls the request lifecycle
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	httpClient.Transport = &headerTransport{
		headers: conf.NodeHeaders,
		base:    httpClient.Transport,
	}

	rpc, err := ethrpc.NewProvider(conf.NodeAddress, ethrpc.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC provider for %s: %w", conf.NodeAddress, err)
	}

	return &Node{
		config: conf,
		log:    log.WithFields(logrus.Fields{"type": "execution", "source": conf.Name}),
		rpc:    rpc,
	}, nil
}

// Name returns the configured node name.
func (n *Node) Name() string {
	return n.config.Name
}

// Network returns the configured network label.
func (n *Node) Network() string {
	return n.config.Network
}

// MaxBatchSize returns the provider's per-request batch ceiling.
func (n *Node) MaxBatchSize() int {
	return n.config.MaxBatchSize
}
