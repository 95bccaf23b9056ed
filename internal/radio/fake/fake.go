// Package fake provides a scripted radio provider for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unicro/uniscout/internal/radio"
)

// ErrNotRunning is returned by Emit when the provider has no open stream.
var ErrNotRunning = errors.New("fake provider is not running")

// Provider implements radio.Provider by replaying a script of sightings.
// After the script it either closes its stream or keeps it open for Emit,
// depending on SetCloseAfterScript.
type Provider struct {
	tech radio.Technology

	mu          sync.Mutex
	script      []radio.RawScanEvent
	closeAfter  bool
	stop        chan struct{}
	done        chan struct{}
	inject      chan radio.RawScanEvent
	starts      int
	stops       int
	stopErr     error
	startedHook func()

	// Error simulation
	simulateErrors bool
	errorType      string
}

// NewProvider creates a fake provider for the given technology.
func NewProvider(tech radio.Technology, script ...radio.RawScanEvent) *Provider {
	return &Provider{
		tech:   tech,
		script: script,
	}
}

// Technology returns the provider's technology.
func (p *Provider) Technology() radio.Technology {
	return p.tech
}

// Start opens the stream and replays the script into it.
func (p *Provider) Start(ctx context.Context) (<-chan radio.RawScanEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.starts++
	if p.simulateErrors {
		return nil, p.getSimulatedError()
	}
	if p.stop != nil {
		return nil, fmt.Errorf("fake %s provider already started", p.tech)
	}

	script := make([]radio.RawScanEvent, len(p.script))
	copy(script, p.script)

	out := make(chan radio.RawScanEvent, len(script)+1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.inject = make(chan radio.RawScanEvent)

	go p.run(ctx, out, script, p.closeAfter, p.stop, p.done, p.inject)

	if p.startedHook != nil {
		p.startedHook()
	}
	return out, nil
}

func (p *Provider) run(ctx context.Context, out chan<- radio.RawScanEvent, script []radio.RawScanEvent,
	closeAfter bool, stop, done chan struct{}, inject <-chan radio.RawScanEvent) {
	defer close(done)
	defer close(out)

	send := func(ev radio.RawScanEvent) bool {
		select {
		case out <- ev:
			return true
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		}
	}

	for _, ev := range script {
		if !send(ev) {
			return
		}
	}
	if closeAfter {
		return
	}

	for {
		select {
		case ev := <-inject:
			if !send(ev) {
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the stream and waits for it to drain.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stops++
	stop, done, stopErr := p.stop, p.done, p.stopErr
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return stopErr
}

// Emit delivers a live sighting on the open stream.
func (p *Provider) Emit(ctx context.Context, ev radio.RawScanEvent) error {
	p.mu.Lock()
	inject, stop := p.inject, p.stop
	p.mu.Unlock()

	if inject == nil {
		return ErrNotRunning
	}
	select {
	case inject <- ev:
		return nil
	case <-stop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetCloseAfterScript makes the stream end once the script is replayed.
func (p *Provider) SetCloseAfterScript(closeAfter bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAfter = closeAfter
}

// SetStopError makes Stop return err after closing the stream.
func (p *Provider) SetStopError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopErr = err
}

// OnStarted registers a hook called after a successful Start.
func (p *Provider) OnStarted(hook func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedHook = hook
}

// SetErrorSimulation makes Start fail with the given error type.
func (p *Provider) SetErrorSimulation(errorType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.simulateErrors = true
	p.errorType = errorType
}

// DisableErrorSimulation restores normal Start behavior.
func (p *Provider) DisableErrorSimulation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.simulateErrors = false
	p.errorType = ""
}

// getSimulatedError returns a platform-flavoured error for the configured type.
func (p *Provider) getSimulatedError() error {
	switch p.errorType {
	case "PERMISSION_DENIED":
		return fmt.Errorf("%s scan: %w", p.tech, radio.ErrPermissionDenied)
	case "HARDWARE_ABSENT":
		return fmt.Errorf("%s scan: %w", p.tech, radio.ErrHardwareAbsent)
	case "HARDWARE_DISABLED":
		return fmt.Errorf("%s scan: %w", p.tech, radio.ErrHardwareDisabled)
	case "HARDWARE_UNAVAILABLE":
		return fmt.Errorf("%s scan: %w", p.tech, radio.ErrHardwareUnavailable)
	default:
		return fmt.Errorf("simulated %s failure: %s", p.tech, p.errorType)
	}
}

// Starts returns how many times Start was called.
func (p *Provider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Stops returns how many times Stop was called.
func (p *Provider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}
