// Package mdns implements a Wi-Fi provider that discovers devices on the local
// network through mDNS/DNS-SD browsing.
package mdns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/unicro/uniscout/internal/radio"
)

const (
	// DefaultService is browsed when no service type is configured.
	DefaultService = "_services._dns-sd._udp"
	DefaultDomain  = "local."
)

// Browser is the subset of *zeroconf.Resolver the provider uses.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Provider reports each resolved service instance as a Wi-Fi sighting.
type Provider struct {
	service    string
	domain     string
	logger     *slog.Logger
	newBrowser func() (Browser, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProvider creates a provider browsing service in the local domain.
func NewProvider(service string, logger *slog.Logger) *Provider {
	if service == "" {
		service = DefaultService
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		service: service,
		domain:  DefaultDomain,
		logger:  logger,
		newBrowser: func() (Browser, error) {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return nil, err
			}
			return resolver, nil
		},
	}
}

// Technology returns radio.WiFi.
func (p *Provider) Technology() radio.Technology {
	return radio.WiFi
}

// Start begins browsing. The stream closes when Stop is called or ctx ends.
func (p *Provider) Start(ctx context.Context) (<-chan radio.RawScanEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil, fmt.Errorf("mdns provider already started")
	}

	browser, err := p.newBrowser()
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	entries := make(chan *zeroconf.ServiceEntry)
	out := make(chan radio.RawScanEvent, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ev := entryToEvent(entry, time.Now())
				p.logger.Debug("mdns service resolved", "identity", ev.Identity, "host", entry.HostName)
				select {
				case out <- ev:
				case <-browseCtx.Done():
					return
				}
			case <-browseCtx.Done():
				return
			}
		}
	}()

	if err := browser.Browse(browseCtx, p.service, p.domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	p.cancel = cancel
	p.done = done
	return out, nil
}

// Stop cancels browsing and waits for the stream to close.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func entryToEvent(entry *zeroconf.ServiceEntry, observedAt time.Time) radio.RawScanEvent {
	name := entry.Instance
	if name == "" {
		name = entry.HostName
	}
	identity := entry.ServiceInstanceName()
	if identity == "" {
		identity = entry.HostName
	}
	return radio.RawScanEvent{
		Technology: radio.WiFi,
		Identity:   identity,
		Name:       name,
		ObservedAt: observedAt,
	}
}
