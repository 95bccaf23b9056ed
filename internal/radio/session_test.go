package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider is a minimal Provider with func hooks.
type stubProvider struct {
	tech      Technology
	startFunc func(ctx context.Context) (<-chan RawScanEvent, error)
	stopFunc  func(ctx context.Context) error
	stops     int
}

func (p *stubProvider) Technology() Technology { return p.tech }

func (p *stubProvider) Start(ctx context.Context) (<-chan RawScanEvent, error) {
	if p.startFunc != nil {
		return p.startFunc(ctx)
	}
	return make(chan RawScanEvent), nil
}

func (p *stubProvider) Stop(ctx context.Context) error {
	p.stops++
	if p.stopFunc != nil {
		return p.stopFunc(ctx)
	}
	return nil
}

func TestSessionStartAndStop(t *testing.T) {
	p := &stubProvider{tech: BLE}
	s := NewSession(p)
	assert.Equal(t, StateIdle, s.State())

	stream, err := s.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, BLE, s.Technology())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, p.stops)

	// Second stop is a no-op and does not reach the provider.
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, ReasonNone, s.Reason())
}

func TestSessionStartFailureIsNormalized(t *testing.T) {
	p := &stubProvider{
		tech: UWB,
		startFunc: func(context.Context) (<-chan RawScanEvent, error) {
			return nil, errors.New("UWB_RANGING permission not granted")
		},
	}
	s := NewSessionFor(p, "android")

	stream, err := s.Start(context.Background())
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, ReasonPermissionDenied, s.Reason())
	assert.ErrorIs(t, s.Err(), ErrPermissionDenied)

	// Stop on a failed session is a no-op.
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, p.stops)
}

func TestSessionNilStreamFails(t *testing.T) {
	p := &stubProvider{
		tech: NFC,
		startFunc: func(context.Context) (<-chan RawScanEvent, error) {
			return nil, nil
		},
	}
	s := NewSession(p)

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, ReasonInternal, s.Reason())
}

func TestSessionIsSingleUse(t *testing.T) {
	s := NewSession(&stubProvider{tech: WiFi})

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotIdle)
	assert.Equal(t, StateRunning, s.State())
}

func TestSessionStopFromIdle(t *testing.T) {
	p := &stubProvider{tech: BLE}
	s := NewSession(p)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, p.stops)

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotIdle)
}

func TestSessionStateReadableDuringProviderStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &stubProvider{
		tech: BLE,
		stopFunc: func(context.Context) error {
			close(entered)
			<-release
			return nil
		},
	}
	s := NewSession(p)
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()
	<-entered

	states := make(chan SessionState, 1)
	go func() { states <- s.State() }()
	select {
	case state := <-states:
		assert.Equal(t, StateStopped, state)
	case <-time.After(time.Second):
		t.Fatal("State blocked while the provider was stopping")
	}

	// A concurrent Stop does not wait for the provider either.
	require.NoError(t, s.Stop(context.Background()))

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, 1, p.stops)
}

func TestSessionStopReportsProviderError(t *testing.T) {
	p := &stubProvider{
		tech:     BLE,
		stopFunc: func(context.Context) error { return errors.New("controller hung") },
	}
	s := NewSession(p)
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	err = s.Stop(context.Background())
	assert.ErrorContains(t, err, "controller hung")
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionStateText(t *testing.T) {
	text, err := StateFailed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateRunning.Terminal())
}
