// Package sim provides simulated radio providers that emit a fixed catalogue
// of devices, with configurable hardware and permission state.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/unicro/uniscout/internal/radio"
)

// HardwareState is the simulated grant and hardware condition of one radio.
type HardwareState string

// Simulated hardware states.
const (
	Granted  HardwareState = "granted"
	Denied   HardwareState = "denied"
	Absent   HardwareState = "absent"
	Disabled HardwareState = "disabled"
)

// ParseHardwareState parses a configured hardware state; empty means granted.
func ParseHardwareState(s string) (HardwareState, error) {
	switch state := HardwareState(strings.ToLower(strings.TrimSpace(s))); state {
	case "":
		return Granted, nil
	case Granted, Denied, Absent, Disabled:
		return state, nil
	default:
		return "", fmt.Errorf("unknown hardware state %q", s)
	}
}

// Device is one simulated device in a provider's catalogue.
type Device struct {
	Identity string
	Name     string
	RSSI     int
	Payload  []byte
}

// Provider is a simulated radio provider. Every interval it re-announces each
// catalogue device with a jittered signal strength.
type Provider struct {
	tech     radio.Technology
	devices  []Device
	state    HardwareState
	interval time.Duration
	jitter   int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithDevices replaces the default catalogue.
func WithDevices(devices ...Device) Option {
	return func(p *Provider) { p.devices = devices }
}

// WithHardwareState sets the simulated grant and hardware condition.
func WithHardwareState(state HardwareState) Option {
	return func(p *Provider) { p.state = state }
}

// WithInterval sets how often the catalogue is re-announced.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) { p.interval = d }
}

// WithJitter sets the maximum signal strength deviation in dBm.
func WithJitter(dBm int) Option {
	return func(p *Provider) { p.jitter = dBm }
}

// New creates a simulated provider with the default catalogue for tech.
func New(tech radio.Technology, opts ...Option) *Provider {
	p := &Provider{
		tech:     tech,
		devices:  DefaultCatalogue(tech),
		state:    Granted,
		interval: time.Second,
		jitter:   4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Technology returns the simulated technology.
func (p *Provider) Technology() radio.Technology {
	return p.tech
}

// Start fails according to the hardware state, otherwise starts announcing.
func (p *Provider) Start(ctx context.Context) (<-chan radio.RawScanEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p.state {
	case Denied:
		return nil, fmt.Errorf("%s scan permission not granted: %w", p.tech, radio.ErrPermissionDenied)
	case Absent:
		return nil, fmt.Errorf("%s hardware not present: %w", p.tech, radio.ErrHardwareAbsent)
	case Disabled:
		return nil, fmt.Errorf("%s radio turned off: %w", p.tech, radio.ErrHardwareDisabled)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return nil, fmt.Errorf("simulated %s provider already started", p.tech)
	}

	out := make(chan radio.RawScanEvent, len(p.devices)+1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.announce(ctx, out, p.stop, p.done)
	return out, nil
}

func (p *Provider) announce(ctx context.Context, out chan<- radio.RawScanEvent, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		for _, d := range p.devices {
			ev := radio.RawScanEvent{
				Technology: p.tech,
				Identity:   d.Identity,
				Name:       d.Name,
				Payload:    append([]byte(nil), d.Payload...),
				ObservedAt: time.Now(),
			}
			if d.RSSI != 0 {
				rssi := d.RSSI
				if p.jitter > 0 {
					rssi += rng.Intn(2*p.jitter+1) - p.jitter
				}
				ev.RSSI = radio.DBm(rssi)
			}

			select {
			case out <- ev:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the announcements and waits for the stream to close.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultCatalogue returns the devices announced by a default simulated provider.
func DefaultCatalogue(tech radio.Technology) []Device {
	switch tech {
	case radio.BLE:
		return []Device{
			{
				// AirTag-style offline finding advertisement.
				Identity: "AA:BB:CC:DD:EE:FF",
				RSSI:     -68,
				Payload:  []byte{0x4C, 0x00, 0x12, 0x19, 0x10, 0x2A, 0x7E},
			},
			{
				Identity: "5C:F3:70:11:22:33",
				Name:     "WH-1000XM4",
				RSSI:     -54,
				Payload:  []byte{0x2D, 0x01, 0x03, 0x00},
			},
			{
				Identity: "D4:36:39:8A:0C:41",
				Name:     "Band 7",
				RSSI:     -80,
			},
		}
	case radio.UWB:
		return []Device{
			{Identity: "UWB:0A:1B", Name: "UWB Tracker", RSSI: -60},
		}
	case radio.NFC:
		return []Device{
			{Identity: radio.HexID([]byte{0x04, 0xA2, 0x3B, 0x1C, 0x5D, 0x80}), Name: "NTAG215"},
		}
	case radio.WiFi:
		return []Device{
			{Identity: "HomeNet-5G", Name: "HomeNet-5G", RSSI: -47},
			{Identity: "Printer-3F", Name: "DIRECT-3F-LaserJet", RSSI: -71},
		}
	}
	return nil
}
