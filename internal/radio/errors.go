package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized session start errors.
var (
	ErrPermissionDenied    = errors.New("PERMISSION_DENIED")
	ErrHardwareUnavailable = errors.New("HARDWARE_UNAVAILABLE")
	ErrInternal            = errors.New("INTERNAL")

	// ErrHardwareAbsent and ErrHardwareDisabled refine ErrHardwareUnavailable;
	// errors.Is(ErrHardwareAbsent, ErrHardwareUnavailable) holds.
	ErrHardwareAbsent   = fmt.Errorf("%w: hardware absent", ErrHardwareUnavailable)
	ErrHardwareDisabled = fmt.Errorf("%w: hardware disabled", ErrHardwareUnavailable)

	// ErrSessionNotIdle is returned when Start is called on a session that already ran.
	ErrSessionNotIdle = errors.New("session is not idle")
)

// FailureReason explains why a session ended in StateFailed.
type FailureReason string

// Failure reasons.
const (
	ReasonNone             FailureReason = ""
	ReasonPermissionDenied FailureReason = "permission_denied"
	ReasonHardwareAbsent   FailureReason = "hardware_absent"
	ReasonHardwareDisabled FailureReason = "hardware_disabled"
	ReasonInternal         FailureReason = "internal"
)

// PlatformMap lists the error tokens a platform uses for each failure class.
type PlatformMap struct {
	Permission []string // Tokens that map to PERMISSION_DENIED
	Absent     []string // Tokens that map to HARDWARE_UNAVAILABLE (absent)
	Disabled   []string // Tokens that map to HARDWARE_UNAVAILABLE (disabled)
}

// PlatformErrorMappings holds the token tables used to normalize platform errors
// that do not already wrap one of the sentinel errors. Unknown tokens map to INTERNAL.
// Platforms missing from the table fall back to "generic".
var PlatformErrorMappings = map[string]PlatformMap{
	"android": {
		Permission: []string{
			"SECURITYEXCEPTION",
			"BLUETOOTH_SCAN",
			"BLUETOOTH_CONNECT",
			"ACCESS_FINE_LOCATION",
			"UWB_RANGING",
			"PERMISSIONS NOT GRANTED",
		},
		Absent: []string{
			"FEATURE_BLUETOOTH_LE",
			"ANDROID.HARDWARE.UWB",
			"NFC ADAPTER IS NULL",
			"NOT SUPPORTED",
			"HARDWARE NOT PRESENT",
		},
		Disabled: []string{
			"BLUETOOTH IS DISABLED",
			"NFC IS DISABLED",
			"WIFI IS DISABLED",
			"STATE_OFF",
			"AIRPLANE_MODE",
		},
	},
	"linux": {
		Permission: []string{
			"EPERM",
			"EACCES",
			"OPERATION NOT PERMITTED",
			"ORG.BLUEZ.ERROR.NOTAUTHORIZED",
			"NOT AUTHORIZED",
		},
		Absent: []string{
			"NO DEFAULT CONTROLLER",
			"NO SUCH DEVICE",
			"ENODEV",
			"ADAPTER NOT FOUND",
		},
		Disabled: []string{
			"ORG.BLUEZ.ERROR.NOTREADY",
			"RFKILL",
			"POWERED OFF",
			"NETWORK IS DOWN",
		},
	},
	"generic": {
		Permission: []string{
			"PERMISSION",
			"UNAUTHORIZED",
			"FORBIDDEN",
			"NOT_GRANTED",
		},
		Absent: []string{
			"NOT_SUPPORTED",
			"UNSUPPORTED",
			"NOT_PRESENT",
			"ABSENT",
		},
		Disabled: []string{
			"DISABLED",
			"TURNED_OFF",
			"RADIO_OFF",
			"NOT_READY",
		},
	},
}

// SessionError wraps a start failure with its technology and original platform error.
type SessionError struct {
	Technology Technology
	Code       error // Normalized code
	Reason     FailureReason
	Original   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s session: %v (platform: %v)", e.Technology, e.Code, e.Original)
}

func (e *SessionError) Unwrap() error {
	return e.Code
}

// NormalizePlatformError maps a platform start error using the generic token table.
func NormalizePlatformError(t Technology, platformErr error) error {
	return NormalizePlatformErrorFor(t, platformErr, "generic")
}

// NormalizePlatformErrorFor maps a platform start error to a *SessionError.
// Errors that already wrap a sentinel keep it; others go through the token table.
func NormalizePlatformErrorFor(t Technology, platformErr error, platform string) error {
	if platformErr == nil {
		return nil
	}

	var sessionErr *SessionError
	if errors.As(platformErr, &sessionErr) {
		return sessionErr
	}

	code, reason := classifySentinel(platformErr)
	if code == nil {
		code, reason = mapPlatformErrorToCode(platformErr.Error(), platform)
	}

	return &SessionError{
		Technology: t,
		Code:       code,
		Reason:     reason,
		Original:   platformErr,
	}
}

// ReasonOf extracts the failure reason carried by err, ReasonInternal if none.
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ReasonNone
	}
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Reason
	}
	if _, reason := classifySentinel(err); reason != ReasonNone {
		return reason
	}
	return ReasonInternal
}

func classifySentinel(err error) (error, FailureReason) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrPermissionDenied, ReasonPermissionDenied
	case errors.Is(err, ErrHardwareDisabled):
		return ErrHardwareDisabled, ReasonHardwareDisabled
	case errors.Is(err, ErrHardwareAbsent):
		return ErrHardwareAbsent, ReasonHardwareAbsent
	case errors.Is(err, ErrHardwareUnavailable):
		return ErrHardwareUnavailable, ReasonHardwareAbsent
	}
	return nil, ReasonNone
}

// mapPlatformErrorToCode maps a platform error message using table-driven token matching.
func mapPlatformErrorToCode(msg string, platform string) (error, FailureReason) {
	platformMap, exists := PlatformErrorMappings[platform]
	if !exists {
		platformMap = PlatformErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	for _, token := range platformMap.Permission {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrPermissionDenied, ReasonPermissionDenied
		}
	}

	// Disabled is checked before absent.
	for _, token := range platformMap.Disabled {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrHardwareDisabled, ReasonHardwareDisabled
		}
	}

	for _, token := range platformMap.Absent {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrHardwareAbsent, ReasonHardwareAbsent
		}
	}

	return ErrInternal, ReasonInternal
}
