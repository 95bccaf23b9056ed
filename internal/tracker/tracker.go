// Package tracker flags likely item trackers from BLE manufacturer data.
//
// The heuristic is a single company identifier match: any advertisement whose
// manufacturer-specific data starts with Apple's identifier (0x004C) is a
// suspect. This flags every Apple device that advertises manufacturer data
// (phones, watches, headphones) as well as AirTags and Find My accessories.
// Callers should present the result as "potential tracker", never as a
// confirmed one.
package tracker

import (
	"encoding/binary"
	"errors"
)

// AppleCompanyID is the Bluetooth SIG company identifier assigned to Apple.
const AppleCompanyID uint16 = 0x004C

// ErrInputMalformed is returned when a payload is too short to hold a company identifier.
var ErrInputMalformed = errors.New("CLASSIFIER_INPUT_MALFORMED")

// Signature is a company identifier whose advertisements are treated as tracker suspects.
type Signature struct {
	CompanyID uint16
	Vendor    string
}

// Signatures lists the company identifiers that mark a tracker suspect.
var Signatures = []Signature{
	{CompanyID: AppleCompanyID, Vendor: "Apple"},
}

// CompanyID reads the little-endian company identifier that prefixes
// manufacturer-specific advertising data.
func CompanyID(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, ErrInputMalformed
	}
	return binary.LittleEndian.Uint16(payload[:2]), nil
}

// Match returns the signature matched by payload. Malformed payloads never match.
func Match(payload []byte) (Signature, bool) {
	id, err := CompanyID(payload)
	if err != nil {
		return Signature{}, false
	}
	for _, sig := range Signatures {
		if sig.CompanyID == id {
			return sig, true
		}
	}
	return Signature{}, false
}

// Classify reports whether payload marks its sender as a tracker suspect.
// It is pure: the result depends only on payload.
func Classify(payload []byte) bool {
	_, ok := Match(payload)
	return ok
}
