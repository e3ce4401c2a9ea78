package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
)

// Pusher sends a registry somewhere at the end of a run.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher returns a Pushgateway pusher, or nil when no gateway is
// configured. grouping labels with empty keys or values are skipped.
func NewPusher(cfg config.Metrics, grouping map[string]string, logger *zap.Logger) Pusher {
	logger = logging.OrNop(logger)
	endpoint := strings.TrimSpace(cfg.PushgatewayURL)
	if endpoint == "" {
		logger.Debug("metrics push disabled")
		return nil
	}
	return NewPushgatewayPusher(endpoint, cfg.Job, grouping)
}

// PushgatewayPusher pushes to a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

// NewPushgatewayPusher builds a Pushgateway pusher for job.
func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: strings.TrimSpace(endpoint),
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

// Push replaces the job's metric group with the registry contents.
func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}
	if p.endpoint == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}
	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for key, value := range p.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}
