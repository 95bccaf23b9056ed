package radio

import (
	"strings"
	"time"
)

// RawScanEvent is one observation of a device on a specific technology.
// Producers must not mutate an event after sending it.
type RawScanEvent struct {
	Technology Technology `json:"technology"`
	Identity   string     `json:"identity"`
	Name       string     `json:"name,omitempty"`

	// RSSI is the received signal strength in dBm, nil when the radio does not report it.
	RSSI *int `json:"rssi,omitempty"`

	// Payload is the manufacturer-specific advertising data, company identifier first.
	Payload []byte `json:"payload,omitempty"`

	ObservedAt time.Time `json:"observedAt"`
}

// DBm returns a pointer to a signal strength value, for building events.
func DBm(v int) *int {
	return &v
}

// CanonicalIdentity normalizes a raw identity for keying. Hardware addresses and
// tag ids (BLE, UWB, NFC) are case-insensitive hex and are upper-cased; Wi-Fi
// identities are host or service names and only trimmed.
func CanonicalIdentity(t Technology, identity string) string {
	identity = strings.TrimSpace(identity)
	if t == WiFi {
		return identity
	}
	return strings.ToUpper(identity)
}

// HexID renders a tag id the way NFC readers print it, upper-case without separators.
func HexID(id []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(id)*2)
	for _, b := range id {
		out = append(out, digits[b>>4], digits[b&0x0f])
	}
	return string(out)
}
