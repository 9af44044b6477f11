package poller

import (
	"context"
	"sync"
	"time"

	"github.com/cvsloane/infra-dashboard/internal/aggregator"
	"github.com/cvsloane/infra-dashboard/internal/hub"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
)

// Poller drives the aggregation loop at a fixed interval and publishes
// each snapshot to the hub.
type Poller struct {
	aggregator *aggregator.Aggregator
	hub        *hub.Hub
	interval   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(agg *aggregator.Aggregator, h *hub.Hub, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		aggregator: agg,
		hub:        h,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (p *Poller) Start() {
	logger.Info("Starting snapshot poller", logger.String("interval", p.interval.String()))

	p.wg.Add(1)
	go p.loop()
}

func (p *Poller) Stop() {
	logger.Info("Stopping snapshot poller...")
	p.cancel()
	p.wg.Wait()
	logger.Info("Snapshot poller stopped")
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First tick runs immediately so subscribers never wait a full
	// interval for their initial data.
	p.tick()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	started := time.Now()
	snapshot := p.aggregator.Poll(p.ctx)
	p.hub.Publish(snapshot)

	logger.Debug("Polling cycle completed",
		logger.String("elapsed", time.Since(started).String()),
		logger.Int("queues", len(snapshot.Queues)),
		logger.Int("subscribers", p.hub.SubscriberCount()),
	)
}
