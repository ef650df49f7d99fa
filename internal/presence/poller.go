package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/metrics"
)

// DefaultInterval is how often the online count is refreshed.
const DefaultInterval = 3 * time.Second

// Counter is the part of Client the Poller needs.
type Counter interface {
	Online(ctx context.Context) (int, error)
}

// Poller periodically fetches the online count and reports it.
type Poller struct {
	counter  Counter
	interval time.Duration
	report   func(int)
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller that calls report with every fetched count.
func NewPoller(counter Counter, interval time.Duration, report func(int), logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		counter:  counter,
		interval: interval,
		report:   report,
		logger:   logger.Named("presence"),
		done:     make(chan struct{}),
	}
}

// Start fetches the count immediately and then at every interval until ctx
// is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	go func() {
		defer close(p.done)
		p.pollOnce(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollOnce(ctx)
			}
		}
	}()
}

// Stop stops the poller and waits for it to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	n, err := p.counter.Online(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("online count unavailable", zap.Error(err))
		}
		return
	}
	metrics.OnlineCount.Set(float64(n))
	if p.report != nil {
		p.report(n)
	}
}
