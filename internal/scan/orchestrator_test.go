package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicro/uniscout/internal/config"
	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/radio/fake"
	"github.com/unicro/uniscout/internal/registry"
	"github.com/unicro/uniscout/internal/telemetry"
)

const waitFor = 2 * time.Second

func testConfig() config.ScanConfig {
	fixed := config.TechnologyConfig{Mode: config.ModeFixed, Duration: time.Hour}
	return config.ScanConfig{
		TickInterval:   5 * time.Millisecond,
		FanInBuffer:    16,
		ObserverBuffer: 256,
		StopTimeout:    time.Second,
		Technologies: config.TechnologiesConfig{
			BLE:  fixed,
			UWB:  fixed,
			NFC:  fixed,
			WiFi: fixed,
		},
	}
}

// providers hands out a fresh provider per Start, built by the registered constructor.
type providers struct {
	mu    sync.Mutex
	build map[radio.Technology]func() *fake.Provider
	last  map[radio.Technology]*fake.Provider
}

func newProviders() *providers {
	return &providers{
		build: make(map[radio.Technology]func() *fake.Provider),
		last:  make(map[radio.Technology]*fake.Provider),
	}
}

func (p *providers) set(t radio.Technology, build func() *fake.Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.build[t] = build
}

func (p *providers) get(t radio.Technology) *fake.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[t]
}

func (p *providers) factory(t radio.Technology) (radio.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	build, ok := p.build[t]
	if !ok {
		return nil, errors.New("no adapter: NOT_SUPPORTED")
	}
	provider := build()
	p.last[t] = provider
	return provider, nil
}

func failing(t radio.Technology, errorType string) func() *fake.Provider {
	return func() *fake.Provider {
		p := fake.NewProvider(t)
		p.SetErrorSimulation(errorType)
		return p
	}
}

func scripted(t radio.Technology, events ...radio.RawScanEvent) func() *fake.Provider {
	return func() *fake.Provider {
		return fake.NewProvider(t, events...)
	}
}

func seen(t radio.Technology, id string, payload ...byte) radio.RawScanEvent {
	return radio.RawScanEvent{
		Technology: t,
		Identity:   id,
		RSSI:       radio.DBm(-60),
		Payload:    payload,
		ObservedAt: time.Now(),
	}
}

func mustScope(t *testing.T, techs ...radio.Technology) radio.Scope {
	t.Helper()
	scope, err := radio.NewScope(techs...)
	require.NoError(t, err)
	return scope
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingPublisher) PublishRun(runID string, event telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Run = runID
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) types() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.events {
		out[e.Type]++
	}
	return out
}

type auditEntry struct {
	action, scope, result string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) LogAction(_ context.Context, action, scope, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{action, scope, result})
}

func (r *recordingAudit) all() []auditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auditEntry(nil), r.entries...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// collect records every update from Observe until ctx ends.
type collector struct {
	mu      sync.Mutex
	updates []Update
}

func collect(ctx context.Context, o *Orchestrator) *collector {
	c := &collector{}
	ch := o.Observe(ctx)
	go func() {
		for u := range ch {
			c.mu.Lock()
			c.updates = append(c.updates, u)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) all() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.updates...)
}

func (c *collector) last() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.updates) == 0 {
		return Update{}, false
	}
	return c.updates[len(c.updates)-1], true
}

func TestStartPartialFailure(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, failing(radio.BLE, "HARDWARE_UNAVAILABLE"))
	ps.set(radio.UWB, scripted(radio.UWB, seen(radio.UWB, "UWB:0A:1B")))

	audit := &recordingAudit{}
	o := New(testConfig(), ps.factory, WithAuditLogger(audit))

	run, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.UWB))
	require.NoError(t, err)
	defer o.Stop(context.Background())

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StateRunning, o.State())
	require.Len(t, run.Statuses, 2)
	assert.Equal(t, radio.BLE, run.Statuses[0].Technology)
	assert.Equal(t, radio.StateFailed, run.Statuses[0].State)
	assert.Equal(t, radio.ReasonHardwareAbsent, run.Statuses[0].Reason)
	assert.Equal(t, radio.StateRunning, run.Statuses[1].State)

	require.Eventually(t, func() bool { return len(o.Snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	devices := o.Snapshot()
	assert.Equal(t, radio.UWB, devices[0].Technology())
	assert.Equal(t, "UWB:0A:1B", devices[0].Key.Identity)

	entries := audit.all()
	require.NotEmpty(t, entries)
	assert.Equal(t, auditEntry{"start", "BLE,UWB", "PARTIAL"}, entries[0])
}

func TestStartAllTechnologiesFail(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, failing(radio.BLE, "PERMISSION_DENIED"))

	o := New(testConfig(), ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.NFC))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanFailed)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Len(t, startErr.Statuses, 2)
	assert.Equal(t, radio.ReasonPermissionDenied, startErr.Statuses[0].Reason)
	// The NFC factory error carries NOT_SUPPORTED, which the generic table maps to absent.
	assert.Equal(t, radio.ReasonHardwareAbsent, startErr.Statuses[1].Reason)
	assert.Equal(t, StateFailed, o.State())

	// A failed run must be acknowledged with Stop before the next Start.
	ps.set(radio.BLE, scripted(radio.BLE))
	_, err = o.Start(context.Background(), mustScope(t, radio.BLE))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateFailed, o.State())

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())
	_, err = o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Stop(context.Background()))
}

func TestStartEmptyScope(t *testing.T) {
	o := New(testConfig(), newProviders().factory)
	_, err := o.Start(context.Background(), radio.Scope{})
	assert.ErrorIs(t, err, ErrInvalidScope)
	assert.Equal(t, StateIdle, o.State())
}

func TestStartWhileRunning(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE, seen(radio.BLE, "11:22:33:44:55:66")))

	audit := &recordingAudit{}
	o := New(testConfig(), ps.factory, WithAuditLogger(audit))
	first, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	defer o.Stop(context.Background())

	require.Eventually(t, func() bool { return len(o.Snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	before := o.Snapshot()

	_, err = o.Start(context.Background(), mustScope(t, radio.BLE))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, IsAlreadyRunning(err))

	assert.Equal(t, before, o.Snapshot())
	current, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)

	entries := audit.all()
	assert.Equal(t, "ALREADY_RUNNING", entries[len(entries)-1].result)
}

func TestStopFromIdleIsNoop(t *testing.T) {
	o := New(testConfig(), newProviders().factory)
	require.NoError(t, o.Stop(context.Background()))
	require.NoError(t, o.Cancel(context.Background()))
	assert.Equal(t, StateIdle, o.State())
	_, ok := o.Current()
	assert.False(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE, seen(radio.BLE, "11:22:33:44:55:66")))
	ps.set(radio.WiFi, scripted(radio.WiFi, seen(radio.WiFi, "HomeNet-5G")))

	o := New(testConfig(), ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.WiFi))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(o.Snapshot()) == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())
	assert.Equal(t, 1, ps.get(radio.BLE).Stops())

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, 1, ps.get(radio.BLE).Stops())

	// Devices stay readable until the next run.
	assert.Len(t, o.Snapshot(), 2)
	status := o.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 2, status.Devices)
	for _, s := range status.Statuses {
		assert.Equal(t, radio.StateStopped, s.State)
	}
}

func TestStopMergesLiveSightings(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE))

	o := New(testConfig(), ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)

	provider := ps.get(radio.BLE)
	for _, id := range []string{"01:00:00:00:00:01", "01:00:00:00:00:02", "01:00:00:00:00:03"} {
		require.NoError(t, provider.Emit(context.Background(), seen(radio.BLE, id)))
	}

	require.NoError(t, o.Stop(context.Background()))
	assert.Len(t, o.Snapshot(), 3)
}

func TestNextStartClearsRegistry(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE, seen(radio.BLE, "11:22:33:44:55:66")))

	o := New(testConfig(), ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(o.Snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	require.NoError(t, o.Stop(context.Background()))

	ps.set(radio.BLE, scripted(radio.BLE))
	_, err = o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	defer o.Stop(context.Background())
	assert.Empty(t, o.Snapshot())
}

func TestCancelPublishesNothingAfterReturn(t *testing.T) {
	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(testConfig(), ps.factory)
	c := collect(ctx, o)

	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)

	provider := ps.get(radio.BLE)
	emitCtx, stopEmitting := context.WithCancel(context.Background())
	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		for i := 0; ; i++ {
			ev := seen(radio.BLE, string(rune('A'+i%26))+"0:00:00:00:00:00")
			if provider.Emit(emitCtx, ev) != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return len(o.Snapshot()) > 0 }, waitFor, time.Millisecond)
	require.NoError(t, o.Cancel(context.Background()))
	stopEmitting()
	<-emitterDone

	assert.Equal(t, StateStopped, o.State())
	require.Eventually(t, func() bool {
		u, ok := c.last()
		return ok && u.State == StateStopped
	}, waitFor, time.Millisecond)

	delivered := len(c.all())
	devices := len(o.Snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, delivered, len(c.all()))
	assert.Equal(t, devices, len(o.Snapshot()))
}

func TestFixedWindowCompletesRun(t *testing.T) {
	cfg := testConfig()
	cfg.Technologies.UWB = config.TechnologyConfig{Mode: config.ModeFixed, Duration: 60 * time.Millisecond}

	ps := newProviders()
	ps.set(radio.UWB, scripted(radio.UWB, seen(radio.UWB, "UWB:0A:1B")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &recordingPublisher{}
	o := New(cfg, ps.factory, WithPublisher(publisher))
	c := collect(ctx, o)

	_, err := o.Start(context.Background(), mustScope(t, radio.UWB))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.State() == StateStopped }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		u, ok := c.last()
		return ok && u.State == StateStopped
	}, waitFor, time.Millisecond)

	updates := c.all()
	var previous float64
	var seq uint64
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.Progress, previous, "progress must not go backwards")
		assert.Greater(t, u.Seq, seq)
		previous, seq = u.Progress, u.Seq
	}
	assert.Equal(t, 1.0, previous)
	assert.Equal(t, 1, ps.get(radio.UWB).Stops())
	assert.Len(t, o.Snapshot(), 1)

	types := publisher.types()
	assert.Positive(t, types[telemetry.EventState])
	assert.Positive(t, types[telemetry.EventDevices])
	assert.Positive(t, types[telemetry.EventProgress])
}

func TestListenModeFirstBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Technologies.BLE = config.TechnologyConfig{
		Mode:             config.ModeListen,
		FirstBatchSize:   2,
		FirstBatchWindow: time.Hour,
	}

	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE,
		seen(radio.BLE, "11:22:33:44:55:66"),
		seen(radio.BLE, "11:22:33:44:55:66"),
		seen(radio.BLE, "AA:BB:CC:DD:EE:FF"),
	))

	o := New(cfg, ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	defer o.Stop(context.Background())

	require.Eventually(t, func() bool { return o.Status().Progress == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateRunning, o.State())
}

func TestTrackerSuspectIsLogged(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE,
		seen(radio.BLE, "aa:bb:cc:dd:ee:ff", 0x4C, 0x00, 0x12, 0x19),
		seen(radio.BLE, "11:22:33:44:55:66", 0x2D, 0x01),
	))

	o := New(testConfig(), ps.factory, WithLogger(logger))
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(o.Snapshot()) == 2 }, waitFor, 5*time.Millisecond)
	require.NoError(t, o.Stop(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"msg":"potential tracker detected"`)
	assert.Contains(t, out, `"device":"BLE/AA:BB:CC:DD:EE:FF"`)
	assert.NotContains(t, out, `"device":"BLE/11:22:33:44:55:66"`)

	var suspects int
	for _, d := range o.Snapshot() {
		if d.TrackerSuspect {
			suspects++
		}
	}
	assert.Equal(t, 1, suspects)
}

// flushingProvider holds its sightings back until Stop, then flushes them into
// an unbuffered stream before closing it. A non-nil hold makes Stop wait for it
// first, ignoring ctx, like a platform call that hangs.
type flushingProvider struct {
	tech    radio.Technology
	pending []radio.RawScanEvent
	hold    chan struct{}

	runCtx context.Context
	out    chan radio.RawScanEvent
}

func newFlushingProvider(t radio.Technology, n int) *flushingProvider {
	p := &flushingProvider{tech: t}
	for i := 0; i < n; i++ {
		p.pending = append(p.pending, seen(t, fmt.Sprintf("02:00:00:00:%02X:%02X", i/256, i%256)))
	}
	return p
}

func (p *flushingProvider) Technology() radio.Technology { return p.tech }

func (p *flushingProvider) Start(ctx context.Context) (<-chan radio.RawScanEvent, error) {
	p.runCtx = ctx
	p.out = make(chan radio.RawScanEvent)
	return p.out, nil
}

func (p *flushingProvider) Stop(context.Context) error {
	if p.hold != nil {
		<-p.hold
	}
	defer close(p.out)
	for _, ev := range p.pending {
		select {
		case p.out <- ev:
		case <-p.runCtx.Done():
			return p.runCtx.Err()
		}
	}
	return nil
}

// withProvider serves p for its technology and the fake providers of ps otherwise.
func withProvider(ps *providers, p radio.Provider) ProviderFactory {
	return func(t radio.Technology) (radio.Provider, error) {
		if t == p.Technology() {
			return p, nil
		}
		return ps.factory(t)
	}
}

func stopWithin(t *testing.T, stop func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- stop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
		return nil
	}
}

func TestStopMergesSightingsFlushedOnStop(t *testing.T) {
	cfg := testConfig()
	cfg.FanInBuffer = 1

	ps := newProviders()
	ps.set(radio.UWB, scripted(radio.UWB, seen(radio.UWB, "UWB:0A:1B")))
	flushing := newFlushingProvider(radio.BLE, 200)

	o := New(cfg, withProvider(ps, flushing))
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.UWB))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(o.Snapshot()) == 1 }, waitFor, 5*time.Millisecond)

	err = stopWithin(t, func() error { return o.Stop(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, StateStopped, o.State())
	assert.Len(t, o.Snapshot(), 201)
}

func TestCancelWithProviderFlushingOnStop(t *testing.T) {
	cfg := testConfig()
	cfg.FanInBuffer = 1

	flushing := newFlushingProvider(radio.BLE, 200)
	o := New(cfg, withProvider(newProviders(), flushing))
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)

	err = stopWithin(t, func() error { return o.Cancel(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, StateStopped, o.State())
	assert.Empty(t, o.Snapshot())
}

func TestSessionOrderIsPreserved(t *testing.T) {
	base := time.Now()
	sightings := make([]radio.RawScanEvent, 0, 3)
	for i, rssi := range []int{-80, -70, -60} {
		sightings = append(sightings, radio.RawScanEvent{
			Technology: radio.BLE,
			Identity:   "AA:BB:CC:DD:EE:FF",
			RSSI:       radio.DBm(rssi),
			ObservedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE, sightings...))
	ps.set(radio.UWB, scripted(radio.UWB, seen(radio.UWB, "UWB:0A:1B"), seen(radio.UWB, "UWB:0A:1C")))
	ps.set(radio.NFC, scripted(radio.NFC, seen(radio.NFC, "04A1B2C3")))

	o := New(testConfig(), ps.factory)
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.UWB, radio.NFC))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, d := range o.Snapshot() {
			if d.Technology() == radio.BLE && d.Sightings == 3 {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, o.Stop(context.Background()))

	devices := o.Snapshot()
	require.Len(t, devices, 4)
	var ble registry.Device
	for _, d := range devices {
		if d.Technology() == radio.BLE {
			ble = d
		}
	}
	require.NotNil(t, ble.RSSI)
	assert.Equal(t, -60, *ble.RSSI)
	assert.True(t, ble.FirstSeen.Equal(base))
	assert.True(t, ble.LastSeen.Equal(base.Add(2*time.Second)))
}

func TestProgressPublishedPerTechnology(t *testing.T) {
	cfg := testConfig()
	cfg.Technologies.BLE = config.TechnologyConfig{Mode: config.ModeListen, FirstBatchSize: 1, FirstBatchWindow: time.Hour}

	ps := newProviders()
	ps.set(radio.BLE, scripted(radio.BLE))
	ps.set(radio.UWB, scripted(radio.UWB))

	publisher := &recordingPublisher{}
	o := New(cfg, ps.factory, WithPublisher(publisher))
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE, radio.UWB))
	require.NoError(t, err)
	defer o.Stop(context.Background())

	require.NoError(t, ps.get(radio.BLE).Emit(context.Background(), seen(radio.BLE, "11:22:33:44:55:66")))
	require.Eventually(t, func() bool {
		for _, s := range o.Status().Statuses {
			if s.Technology == radio.BLE && s.Progress == 1 {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		for _, e := range publisher.events {
			statuses, ok := e.Data["statuses"].([]TechnologyStatus)
			if e.Type != telemetry.EventProgress || !ok {
				continue
			}
			for _, st := range statuses {
				if st.Technology == radio.BLE && st.Progress == 1 {
					return true
				}
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
}

func TestStopTimeoutAbandonsRun(t *testing.T) {
	cfg := testConfig()
	cfg.FanInBuffer = 1

	hung := newFlushingProvider(radio.BLE, 50)
	hung.hold = make(chan struct{})
	released := false
	release := func() {
		if !released {
			released = true
			close(hung.hold)
		}
	}
	t.Cleanup(release)

	audit := &recordingAudit{}
	o := New(cfg, withProvider(newProviders(), hung), WithAuditLogger(audit))
	_, err := o.Start(context.Background(), mustScope(t, radio.BLE))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = stopWithin(t, func() error { return o.Stop(ctx) })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, o.State())

	entries := audit.all()
	assert.Equal(t, auditEntry{"stop", "BLE", "TIMEOUT"}, entries[len(entries)-1])

	// Sightings the provider flushes after the timeout never reach the registry.
	release()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, o.Snapshot())
}
