// Package poller refreshes tunnel status on an interval and reports
// connectivity changes.
package poller

import (
	"context"
	"time"

	"github.com/chiquitav2/erebrus-connector/internal/tunnel"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 10 * time.Second

// StatusUpdater is satisfied by *tunnel.Session.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context) (tunnel.Status, error)
}

// EventHandler handles events during polling.
type EventHandler interface {
	OnConnectionLost(last tunnel.Status)
	OnConnectionRestored(current tunnel.Status)
	OnPollError(err error)
}

// Poller periodically refreshes the status of a tunnel session.
type Poller struct {
	updater      StatusUpdater
	interval     time.Duration
	eventHandler EventHandler
	last         *tunnel.Status
	logger       *logger.Logger
}

// New creates a new poller.
func New(updater StatusUpdater, interval time.Duration, handler EventHandler, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		updater:      updater,
		interval:     interval,
		eventHandler: handler,
		logger:       log.WithComponent("poller"),
	}
}

// Start polls until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("starting status poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single status refresh.
func (p *Poller) PollOnce(ctx context.Context) {
	status, err := p.updater.UpdateStatus(ctx)
	if err != nil {
		p.logger.WarnCtx(ctx, "status poll failed", err)
		if p.eventHandler != nil {
			p.eventHandler.OnPollError(err)
		}
		return
	}

	prev := p.last
	p.last = &status
	if prev == nil || prev.Connected == status.Connected || p.eventHandler == nil {
		p.logger.Trace("tunnel status unchanged", "tunnel_state", status.TunnelState)
		return
	}

	if status.Connected {
		p.logger.Info("tunnel connection restored", "tunnel_state", status.TunnelState)
		p.eventHandler.OnConnectionRestored(status)
	} else {
		p.logger.Warn("tunnel connection lost", "tunnel_state", status.TunnelState, "error", status.Error)
		p.eventHandler.OnConnectionLost(*prev)
	}
}
