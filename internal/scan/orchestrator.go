// Package scan runs discovery across radio technologies.
//
// The Orchestrator owns one radio.Session per technology in a scope, fans
// their streams into a single coordinator goroutine that is the only writer
// of the device registry, and reports progress and device snapshots to
// observers and the telemetry hub.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/unicro/uniscout/internal/config"
	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/registry"
	"github.com/unicro/uniscout/internal/telemetry"
	"github.com/unicro/uniscout/internal/tracer"
	"github.com/unicro/uniscout/internal/tracker"
)

// Orchestrator drives scan runs. Start, Stop and Cancel are serialized.
type Orchestrator struct {
	cfg      config.ScanConfig
	platform string
	factory  ProviderFactory
	registry *registry.Registry
	logger   *slog.Logger

	telemetryHub EventPublisher
	auditLogger  AuditLogger
	observers    *broadcaster

	// lifecycle serializes Start, Stop, Cancel and run completion.
	lifecycle sync.Mutex

	mu    sync.RWMutex
	state State
	run   *activeRun

	// publishMu orders updates: Seq order is delivery order.
	publishMu sync.Mutex
	seq       uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithPublisher sets the telemetry publisher.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.telemetryHub = p }
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a AuditLogger) Option {
	return func(o *Orchestrator) { o.auditLogger = a }
}

// WithPlatform selects the error token table used to normalize start failures.
func WithPlatform(platform string) Option {
	return func(o *Orchestrator) { o.platform = platform }
}

// WithRegistry replaces the default registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// New creates an idle orchestrator.
func New(cfg config.ScanConfig, factory ProviderFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		platform: "generic",
		factory:  factory,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = registry.New(tracker.Classify)
	}
	o.observers = newBroadcaster(cfg.ObserverBuffer)
	return o
}

// activeRun is the state of one run. Fields below mu are shared between the
// coordinator and lifecycle calls.
type activeRun struct {
	id        string
	scope     radio.Scope
	startedAt time.Time

	sessions []*runSession

	// ctx bounds the providers; pumpCtx bounds forwarding into in.
	ctx         context.Context
	cancel      context.CancelFunc
	pumpCtx     context.Context
	cancelPumps context.CancelFunc

	in        chan sighting
	coordDone chan struct{}
	discard   atomic.Bool

	mu            sync.Mutex
	statuses      map[radio.Technology]*TechnologyStatus
	progress      map[radio.Technology]*progressTracker
	lastAggregate float64
	lastProgress  map[radio.Technology]float64
}

type runSession struct {
	tech    radio.Technology
	session *radio.Session
	stream  <-chan radio.RawScanEvent
}

// sighting is one message on the fan-in channel; ended marks a closed stream.
type sighting struct {
	tech  radio.Technology
	event radio.RawScanEvent
	ended bool
}

func newActiveRun(scope radio.Scope, base context.Context, fanIn int) *activeRun {
	ctx, cancel := context.WithCancel(context.WithoutCancel(base))
	pumpCtx, cancelPumps := context.WithCancel(context.Background())

	run := &activeRun{
		id:          ulid.Make().String(),
		scope:       scope,
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		pumpCtx:     pumpCtx,
		cancelPumps: cancelPumps,
		in:          make(chan sighting, fanIn),
		coordDone:   make(chan struct{}),
		statuses:    make(map[radio.Technology]*TechnologyStatus),
		progress:    make(map[radio.Technology]*progressTracker),

		lastProgress: make(map[radio.Technology]float64),
	}
	for _, t := range scope.Technologies() {
		run.statuses[t] = &TechnologyStatus{Technology: t, State: radio.StateIdle}
	}
	return run
}

// Start begins a run over scope. Technologies that fail to start are
// reported in Run.Statuses; the run fails only when all of them do.
func (o *Orchestrator) Start(ctx context.Context, scope radio.Scope) (Run, error) {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "scan.start", tracer.StringAttr("scope", scope.String()))

	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if scope.IsZero() {
		err := fmt.Errorf("%w: scope is empty", ErrInvalidScope)
		o.logAudit(ctx, "start", scope.String(), "BAD_REQUEST", time.Since(start))
		tracer.End(span, err)
		return Run{}, err
	}

	if current := o.State(); !current.canStart() {
		o.logAudit(ctx, "start", scope.String(), "ALREADY_RUNNING", time.Since(start))
		tracer.End(span, ErrAlreadyRunning)
		return Run{}, ErrAlreadyRunning
	}

	o.registry.Clear()
	run := newActiveRun(scope, ctx, o.cfg.FanInBuffer)
	o.setState(StateStarting, run)
	o.emit(run, telemetry.EventState)

	o.startSessions(run)

	if len(run.sessions) == 0 {
		run.cancel()
		run.cancelPumps()
		o.setState(StateFailed, run)
		o.emit(run, telemetry.EventState)

		err := &StartError{Statuses: run.statusList()}
		o.logger.Error("scan failed to start", "run", run.id, "scope", scope.String(), "error", err)
		o.logAudit(ctx, "start", scope.String(), "SCAN_FAILED", time.Since(start))
		tracer.End(span, err)
		return Run{}, err
	}

	o.setState(StateRunning, run)

	var pumps sync.WaitGroup
	for _, rs := range run.sessions {
		pumps.Add(1)
		go o.pump(run, rs, &pumps)
	}
	go func() {
		pumps.Wait()
		close(run.in)
	}()
	go o.coordinate(run)

	o.emit(run, telemetry.EventState)

	result := "SUCCESS"
	if len(run.sessions) < scope.Len() {
		result = "PARTIAL"
	}
	o.logger.Info("scan started", "run", run.id, "scope", scope.String(),
		"running", len(run.sessions), "failed", scope.Len()-len(run.sessions))
	o.logAudit(ctx, "start", scope.String(), result, time.Since(start))
	span.SetAttributes(tracer.IntAttr("running", len(run.sessions)))
	tracer.End(span, nil)

	return run.describe(), nil
}

// startSessions starts one session per technology concurrently.
func (o *Orchestrator) startSessions(run *activeRun) {
	techs := run.scope.Technologies()
	started := make([]*runSession, len(techs))

	var g errgroup.Group
	for i, t := range techs {
		i, t := i, t
		g.Go(func() error {
			started[i] = o.startSession(run, t)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	run.mu.Lock()
	defer run.mu.Unlock()
	for _, rs := range started {
		if rs == nil {
			continue
		}
		run.sessions = append(run.sessions, rs)
		run.progress[rs.tech] = newProgressTracker(o.cfg.Technologies.For(rs.tech), now)
	}
}

func (o *Orchestrator) startSession(run *activeRun, t radio.Technology) *runSession {
	provider, err := o.factory(t)
	if err != nil {
		err = radio.NormalizePlatformErrorFor(t, err, o.platform)
		o.recordFailure(run, t, err)
		return nil
	}

	session := radio.NewSessionFor(provider, o.platform)
	stream, err := session.Start(run.ctx)
	if err != nil {
		o.recordFailure(run, t, err)
		return nil
	}

	run.mu.Lock()
	run.statuses[t].State = radio.StateRunning
	run.mu.Unlock()

	o.logger.Debug("radio session started", "run", run.id, "technology", t)
	return &runSession{tech: t, session: session, stream: stream}
}

func (o *Orchestrator) recordFailure(run *activeRun, t radio.Technology, err error) {
	reason := radio.ReasonOf(err)

	run.mu.Lock()
	status := run.statuses[t]
	status.State = radio.StateFailed
	status.Reason = reason
	status.Error = err.Error()
	run.mu.Unlock()

	o.logger.Warn("radio session failed to start", "run", run.id, "technology", t, "reason", reason, "error", err)
}

// pump forwards one session's stream into the fan-in channel, preserving its
// order. Fixed-mode sessions are stopped when their window elapses. A pump
// that gives up before its stream closes leaves a drain behind.
func (o *Orchestrator) pump(run *activeRun, rs *runSession, wg *sync.WaitGroup) {
	defer wg.Done()

	var window <-chan time.Time
	if tc := o.cfg.Technologies.For(rs.tech); tc.Mode == config.ModeFixed {
		timer := time.NewTimer(tc.Duration)
		defer timer.Stop()
		window = timer.C
	}

	for {
		select {
		case ev, ok := <-rs.stream:
			if !ok {
				o.forward(run, sighting{tech: rs.tech, ended: true})
				return
			}
			if !o.forward(run, sighting{tech: rs.tech, event: ev}) {
				go drain(run, rs.stream)
				return
			}
		case <-window:
			window = nil
			o.logger.Debug("scan window elapsed", "run", run.id, "technology", rs.tech)
			// The provider may flush into the stream while stopping; keep reading it.
			go o.stopOnWindow(run, rs)
		case <-run.pumpCtx.Done():
			go drain(run, rs.stream)
			return
		}
	}
}

func (o *Orchestrator) stopOnWindow(run *activeRun, rs *runSession) {
	ctx, cancel := context.WithTimeout(run.ctx, o.cfg.StopTimeout)
	defer cancel()
	if err := rs.session.Stop(ctx); err != nil {
		o.logger.Warn("radio session stop failed", "run", run.id, "technology", rs.tech, "error", err)
	}
}

// drain discards what is left on an abandoned stream until the provider
// closes it or the run is torn down.
func drain(run *activeRun, stream <-chan radio.RawScanEvent) {
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-run.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) forward(run *activeRun, s sighting) bool {
	select {
	case run.in <- s:
		return true
	case <-run.pumpCtx.Done():
		return false
	}
}

// coordinate is the single writer of the registry for a run.
func (o *Orchestrator) coordinate(run *activeRun) {
	defer close(run.coordDone)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-run.in:
			if !ok {
				if !run.discard.Load() {
					o.publishProgress(run)
					go o.complete(run)
				}
				return
			}
			if run.discard.Load() {
				continue
			}
			if s.ended {
				run.mu.Lock()
				if p := run.progress[s.tech]; p != nil {
					p.finish()
				}
				run.mu.Unlock()
				o.publishProgress(run)
				continue
			}
			o.absorb(run, s)
		case <-ticker.C:
			if run.discard.Load() {
				continue
			}
			o.publishProgress(run)
		}
	}
}

func (o *Orchestrator) absorb(run *activeRun, s sighting) {
	merged, err := o.registry.Merge(s.event)
	if err != nil {
		o.logger.Debug("sighting dropped", "run", run.id, "technology", s.tech, "error", err)
		return
	}

	run.mu.Lock()
	if p := run.progress[s.tech]; p != nil {
		p.observe(merged.Device.Key.Identity)
	}
	run.mu.Unlock()

	if merged.BecameSuspect {
		vendor := ""
		if sig, ok := tracker.Match(merged.Device.Payload); ok {
			vendor = sig.Vendor
		}
		o.logger.Info("potential tracker detected", "run", run.id, "device", merged.Device.Key.String(),
			"vendor", vendor, "rssi", merged.Device.RSSI)
	}

	o.emit(run, telemetry.EventDevices)
}

// publishProgress emits a progress update when the aggregate or any
// technology's progress changed since the last update.
func (o *Orchestrator) publishProgress(run *activeRun) {
	progress, statuses := run.report(time.Now())

	run.mu.Lock()
	changed := progress != run.lastAggregate
	for _, st := range statuses {
		if st.Progress != run.lastProgress[st.Technology] {
			changed = true
		}
	}
	run.mu.Unlock()

	if changed {
		o.emit(run, telemetry.EventProgress)
	}
}

// complete moves a run whose sessions all ended on their own to Stopped.
func (o *Orchestrator) complete(run *activeRun) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if o.run != run || o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.state = StateStopped
	o.mu.Unlock()

	run.cancel()
	run.cancelPumps()
	o.emit(run, telemetry.EventState)
	o.logger.Info("scan completed", "run", run.id, "devices", o.registry.Len())
}

// Stop stops every session, merges events already in flight and moves to
// Stopped. It is a no-op when idle or stopped. If ctx ends first, in-flight
// events are abandoned and ctx's error is returned after teardown.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.halt(ctx, "stop", false)
}

// Cancel is Stop without merging in-flight events. Once it returns no
// session is feeding the registry and no further update is published.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	return o.halt(ctx, "cancel", true)
}

func (o *Orchestrator) halt(ctx context.Context, action string, discard bool) error {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "scan."+action)

	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.RLock()
	state, run := o.state, o.run
	o.mu.RUnlock()

	scope := ""
	if run != nil {
		scope = run.scope.String()
	}

	switch state {
	case StateIdle, StateStopped:
		o.logAudit(ctx, action, scope, "NOOP", time.Since(start))
		tracer.End(span, nil)
		return nil
	case StateFailed:
		o.setState(StateStopped, run)
		o.emit(run, telemetry.EventState)
		o.logAudit(ctx, action, scope, "SUCCESS", time.Since(start))
		tracer.End(span, nil)
		return nil
	}

	if discard {
		run.discard.Store(true)
		run.cancelPumps()
	}
	o.setState(StateStopping, run)
	if !discard {
		o.emit(run, telemetry.EventState)
	}

	// Providers may block in Stop; ctx bounds the wait for them and for the drain.
	stopped := make(chan error, 1)
	go func() { stopped <- o.stopSessions(ctx, run) }()

	var waitErr error
	select {
	case err := <-stopped:
		if err != nil {
			o.logger.Warn("radio session stop failed", "run", run.id, "error", err)
		}
		select {
		case <-run.coordDone:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		run.discard.Store(true)
		run.cancelPumps()
		<-run.coordDone
	}
	run.cancel()
	run.cancelPumps()

	o.setState(StateStopped, run)
	o.emit(run, telemetry.EventState)

	result := "SUCCESS"
	if waitErr != nil {
		result = "TIMEOUT"
	}
	o.logger.Info("scan halted", "run", run.id, "action", action, "devices", o.registry.Len(), "discarded", run.discard.Load())
	o.logAudit(ctx, action, scope, result, time.Since(start))
	tracer.End(span, waitErr)

	if waitErr != nil {
		return fmt.Errorf("%s scan: %w", action, waitErr)
	}
	return nil
}

// stopSessions stops every session concurrently.
func (o *Orchestrator) stopSessions(ctx context.Context, run *activeRun) error {
	var g errgroup.Group
	for _, rs := range run.sessions {
		rs := rs
		g.Go(func() error {
			return rs.session.Stop(ctx)
		})
	}
	return g.Wait()
}

// Observe returns a stream of updates across runs, closed when ctx ends.
// A slow observer loses the oldest pending updates, never the latest.
func (o *Orchestrator) Observe(ctx context.Context) <-chan Update {
	return o.observers.subscribe(ctx)
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Current returns the latest run, if any.
func (o *Orchestrator) Current() (Run, bool) {
	o.mu.RLock()
	run := o.run
	o.mu.RUnlock()

	if run == nil {
		return Run{}, false
	}
	return run.describe(), true
}

// Status summarizes state, run, progress and device count.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	state, run := o.state, o.run
	o.mu.RUnlock()

	status := Status{State: state, Devices: o.registry.Len()}
	if run != nil {
		described := run.describe()
		status.Run = &described
		status.Progress, status.Statuses = run.report(time.Now())
	}
	return status
}

// Snapshot returns the devices of the latest run. They stay readable after
// the run ends, until the next Start.
func (o *Orchestrator) Snapshot() []registry.Device {
	return o.registry.Snapshot()
}

func (o *Orchestrator) setState(state State, run *activeRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	o.run = run
}

// emit builds an Update and delivers it to observers and telemetry.
func (o *Orchestrator) emit(run *activeRun, eventType string) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	now := time.Now()
	progress, statuses := run.report(now)

	run.mu.Lock()
	run.lastAggregate = progress
	for _, st := range statuses {
		run.lastProgress[st.Technology] = st.Progress
	}
	run.mu.Unlock()

	o.seq++
	u := Update{
		RunID:    run.id,
		Seq:      o.seq,
		State:    o.State(),
		Progress: progress,
		Devices:  o.registry.Snapshot(),
		Statuses: statuses,
		Counts:   o.registry.Counts(),
		At:       now,
	}
	o.observers.publish(u)
	o.publishEvent(eventType, u)
}

func (o *Orchestrator) publishEvent(eventType string, u Update) {
	if o.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"runId":    u.RunID,
		"seq":      u.Seq,
		"progress": u.Progress,
		"ts":       u.At.UTC().Format(time.RFC3339Nano),
	}
	switch eventType {
	case telemetry.EventDevices:
		data["devices"] = u.Devices
		data["counts"] = u.Counts
	case telemetry.EventProgress:
		data["statuses"] = u.Statuses
	case telemetry.EventState:
		data["state"] = u.State.String()
		data["statuses"] = u.Statuses
		data["counts"] = u.Counts
	}

	if err := o.telemetryHub.PublishRun(u.RunID, telemetry.Event{Type: eventType, Data: data}); err != nil {
		o.logger.Warn("telemetry publish failed", "run", u.RunID, "event", eventType, "error", err)
	}
}

func (o *Orchestrator) logAudit(ctx context.Context, action, scope, result string, latency time.Duration) {
	if o.auditLogger != nil {
		o.auditLogger.LogAction(ctx, action, scope, result, latency)
	}
}

// report computes per-technology progress at now and the aggregate over
// sessions that did not fail.
func (r *activeRun) report(now time.Time) (float64, []TechnologyStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make(map[radio.Technology]*radio.Session, len(r.sessions))
	for _, rs := range r.sessions {
		sessions[rs.tech] = rs.session
	}

	var sum float64
	var counted int
	out := make([]TechnologyStatus, 0, len(r.statuses))
	for _, t := range r.scope.Technologies() {
		status := r.statuses[t]
		if s, ok := sessions[t]; ok {
			status.State = s.State()
		}
		if p, ok := r.progress[t]; ok {
			status.Progress = p.at(now)
			sum += status.Progress
			counted++
		}
		out = append(out, *status)
	}

	if counted == 0 {
		return 0, out
	}
	return sum / float64(counted), out
}

func (r *activeRun) statusList() []TechnologyStatus {
	_, statuses := r.report(time.Now())
	return statuses
}

func (r *activeRun) describe() Run {
	return Run{
		ID:        r.id,
		Scope:     r.scope,
		StartedAt: r.startedAt,
		Statuses:  r.statusList(),
	}
}

// IsAlreadyRunning reports whether err is ErrAlreadyRunning.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}
