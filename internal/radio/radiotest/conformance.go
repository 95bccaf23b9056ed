// Package radiotest provides a technology-agnostic conformance suite for radio providers.
package radiotest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/unicro/uniscout/internal/radio"
)

// Capabilities describes what a provider under test is expected to do.
type Capabilities struct {
	Technology radio.Technology

	// MinEvents is how many sightings a healthy provider emits within Timeout.
	MinEvents int

	// Timeout bounds every wait in the suite. Defaults to one second.
	Timeout time.Duration

	// Platform selects the token table used when normalizing start errors.
	Platform string

	// Failing, when set, builds a provider whose Start fails with the given
	// normalized code. The suite checks the session maps it back to that code.
	Failing func(code error) radio.Provider
}

// ConformanceResult represents the result of a single conformance check.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport collects every result of a suite run.
type ConformanceReport struct {
	ProviderName  string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the conformance suite and fails t if any check fails.
func RunConformance(t *testing.T, newProvider func() radio.Provider, caps Capabilities) *ConformanceReport {
	t.Helper()
	if caps.Timeout <= 0 {
		caps.Timeout = time.Second
	}
	if caps.Platform == "" {
		caps.Platform = "generic"
	}

	startTime := time.Now()
	report := &ConformanceReport{
		ProviderName:  fmt.Sprintf("%s provider", caps.Technology),
		OverallPassed: true,
	}

	runTechnologyTests(newProvider, caps, report)
	runStreamTests(newProvider, caps, report)
	runStopTests(newProvider, caps, report)
	runCancellationTests(newProvider, caps, report)
	runFailureMappingTests(caps, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Errorf("%s conformance failed: %d of %d checks failed", report.ProviderName, report.FailedTests, report.TotalTests)
	}
	return report
}

func runTechnologyTests(newProvider func() radio.Provider, caps Capabilities, report *ConformanceReport) {
	result := ConformanceResult{TestName: "Technology_Declared", Details: map[string]interface{}{}}
	start := time.Now()

	got := newProvider().Technology()
	result.Duration = time.Since(start)

	switch {
	case !got.Valid():
		result.Error = fmt.Sprintf("Technology() returned unsupported %q", got)
	case got != caps.Technology:
		result.Error = fmt.Sprintf("Technology() = %s, want %s", got, caps.Technology)
	default:
		result.Passed = true
		result.Details["technology"] = got
	}
	report.addResult(result)
}

func runStreamTests(newProvider func() radio.Provider, caps Capabilities, report *ConformanceReport) {
	result := ConformanceResult{TestName: "Start_EmitsSightings", Details: map[string]interface{}{}}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), caps.Timeout)
	defer cancel()

	session := radio.NewSessionFor(newProvider(), caps.Platform)
	stream, err := session.Start(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("Start failed: %v", err)
		report.addResult(result)
		return
	}
	defer func() { _ = session.Stop(context.Background()) }()

	received := 0
	var problem string
	for received < caps.MinEvents && problem == "" {
		select {
		case ev, ok := <-stream:
			if !ok {
				problem = fmt.Sprintf("stream closed after %d sightings", received)
				break
			}
			problem = checkEvent(ev, caps.Technology)
			received++
		case <-ctx.Done():
			problem = fmt.Sprintf("received %d of %d sightings before timeout", received, caps.MinEvents)
		}
	}
	result.Duration = time.Since(start)

	if problem != "" {
		result.Error = problem
	} else {
		result.Passed = true
		result.Details["sightings"] = received
	}
	report.addResult(result)
}

func checkEvent(ev radio.RawScanEvent, tech radio.Technology) string {
	switch {
	case ev.Technology != tech:
		return fmt.Sprintf("sighting tagged %s, want %s", ev.Technology, tech)
	case strings.TrimSpace(ev.Identity) == "":
		return "sighting has empty identity"
	case ev.ObservedAt.IsZero():
		return "sighting has no observation time"
	}
	return ""
}

func runStopTests(newProvider func() radio.Provider, caps Capabilities, report *ConformanceReport) {
	result := ConformanceResult{TestName: "Stop_ClosesStream", Details: map[string]interface{}{}}
	start := time.Now()

	session := radio.NewSessionFor(newProvider(), caps.Platform)
	stream, err := session.Start(context.Background())
	if err != nil {
		result.Error = fmt.Sprintf("Start failed: %v", err)
		report.addResult(result)
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), caps.Timeout)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		result.Error = fmt.Sprintf("Stop failed: %v", err)
		report.addResult(result)
		return
	}

	closed := drained(stream, caps.Timeout)
	result.Duration = time.Since(start)
	if !closed {
		result.Error = "stream still open after Stop"
	} else {
		result.Passed = true
	}
	report.addResult(result)

	// Second stop must be a no-op.
	idem := ConformanceResult{TestName: "Stop_Idempotent", Details: map[string]interface{}{}}
	start = time.Now()
	err1 := session.Stop(context.Background())
	err2 := session.Stop(context.Background())
	idem.Duration = time.Since(start)
	if err1 != nil || err2 != nil {
		idem.Error = fmt.Sprintf("repeated Stop returned %v, %v", err1, err2)
	} else if session.State() != radio.StateStopped {
		idem.Error = fmt.Sprintf("state after repeated Stop = %s", session.State())
	} else {
		idem.Passed = true
		idem.Details["state"] = session.State().String()
	}
	report.addResult(idem)
}

func runCancellationTests(newProvider func() radio.Provider, caps Capabilities, report *ConformanceReport) {
	result := ConformanceResult{TestName: "Start_CancelledContext", Details: map[string]interface{}{}}
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := radio.NewSessionFor(newProvider(), caps.Platform)
	stream, err := session.Start(ctx)
	switch {
	case err != nil:
		result.Passed = true
		result.Details["error"] = err.Error()
	case drained(stream, caps.Timeout):
		result.Passed = true
		result.Details["stream"] = "closed"
	default:
		result.Error = "stream stayed open on a cancelled context"
	}
	_ = session.Stop(context.Background())
	result.Duration = time.Since(start)
	report.addResult(result)
}

func runFailureMappingTests(caps Capabilities, report *ConformanceReport) {
	if caps.Failing == nil {
		return
	}

	cases := []struct {
		name string
		code error
	}{
		{"PermissionDenied", radio.ErrPermissionDenied},
		{"HardwareAbsent", radio.ErrHardwareAbsent},
		{"HardwareDisabled", radio.ErrHardwareDisabled},
	}
	for _, tc := range cases {
		code := tc.code
		result := ConformanceResult{
			TestName: "FailureMapping_" + tc.name,
			Details:  map[string]interface{}{},
		}
		start := time.Now()

		session := radio.NewSessionFor(caps.Failing(code), caps.Platform)
		_, err := session.Start(context.Background())
		result.Duration = time.Since(start)

		var sessionErr *radio.SessionError
		switch {
		case err == nil:
			result.Error = "Start should have failed but succeeded"
		case !errors.As(err, &sessionErr):
			result.Error = fmt.Sprintf("Start error is %T, want *radio.SessionError", err)
		case !errors.Is(err, code):
			result.Error = fmt.Sprintf("Start error %v does not wrap %v", err, code)
		case session.State() != radio.StateFailed:
			result.Error = fmt.Sprintf("state after failed Start = %s", session.State())
		default:
			result.Passed = true
			result.Details["reason"] = string(sessionErr.Reason)
		}
		report.addResult(result)
	}
}

// drained reads until the stream closes, reporting false if it is still open after timeout.
func drained(stream <-chan radio.RawScanEvent, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Helper()
	t.Logf("%s", strings.Repeat("=", 72))
	t.Logf("PROVIDER CONFORMANCE: %s", report.ProviderName)
	t.Logf("Passed %d/%d in %v", report.PassedTests, report.TotalTests, report.Duration)
	t.Logf("%s", strings.Repeat("-", 72))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		details := result.Error
		if details == "" && len(result.Details) > 0 {
			parts := make([]string, 0, len(result.Details))
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}
		t.Logf("%-32s %-5s %-10s %s", result.TestName, status, result.Duration.Round(time.Microsecond), details)
	}
	t.Logf("%s", strings.Repeat("=", 72))
}
