package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

// Sink receives one record per instrumented request. The Registry is the
// in-process implementation; ValkeySink publishes the same counters to a
// shared store so multi-process deployments can aggregate outside this
// process. How those shared counters are folded back into a single report
// is deliberately left to the deployment.
type Sink interface {
	RecordRequest(ctx context.Context, endpoint string, hit bool, elapsed time.Duration, memoryDeltaMB float64)
}

// ValkeySink increments shared counters in Valkey. Failures are logged and
// dropped; metrics publication must never block or fail a request.
type ValkeySink struct {
	client valkey.Client
	prefix string
	logger *zap.SugaredLogger
}

func NewValkeySink(client valkey.Client, prefix string, logger *zap.SugaredLogger) *ValkeySink {
	if prefix == "" {
		prefix = "kudos:metrics"
	}
	return &ValkeySink{client: client, prefix: prefix, logger: logger}
}

func (s *ValkeySink) RecordRequest(ctx context.Context, endpoint string, hit bool, elapsed time.Duration, memoryDeltaMB float64) {
	field := "misses"
	if hit {
		field = "hits"
	}

	totalKey := fmt.Sprintf("%s:requests_total", s.prefix)
	if err := s.client.Do(ctx, s.client.B().Incr().Key(totalKey).Build()).Error(); err != nil {
		s.logger.Warnw("Failed to publish shared request counter", "error", err, "key", totalKey)
		return
	}

	endpointKey := fmt.Sprintf("%s:endpoint:%s", s.prefix, endpoint)
	if err := s.client.Do(
		ctx, s.client.B().Hincrby().Key(endpointKey).Field(field).Increment(1).Build(),
	).Error(); err != nil {
		s.logger.Warnw("Failed to publish shared endpoint counter",
			"error", err, "key", endpointKey, "field", field)
	}
}
