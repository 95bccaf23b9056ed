// Package registry holds the deduplicated set of devices seen during a scan run.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/tracker"
)

// ErrInvalidEvent is returned for sightings without an identity or with an unknown technology.
var ErrInvalidEvent = errors.New("INVALID_EVENT")

// Key identifies a device within one technology.
type Key struct {
	Technology radio.Technology `json:"technology"`
	Identity   string           `json:"identity"`
}

func (k Key) String() string {
	return string(k.Technology) + "/" + k.Identity
}

// Device is the merged view of every sighting of one device.
type Device struct {
	Key            Key       `json:"key"`
	Name           string    `json:"name,omitempty"`
	RSSI           *int      `json:"rssi,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	TrackerSuspect bool      `json:"trackerSuspect"`
	Sightings      int       `json:"sightings"`
}

// Technology returns the technology the device was seen on.
func (d Device) Technology() radio.Technology {
	return d.Key.Technology
}

func (d Device) clone() Device {
	out := d
	if d.RSSI != nil {
		rssi := *d.RSSI
		out.RSSI = &rssi
	}
	if d.Payload != nil {
		out.Payload = append([]byte(nil), d.Payload...)
	}
	return out
}

// Merged reports what a single Merge did.
type Merged struct {
	Device Device

	// Created is true on a device's first sighting.
	Created bool

	// BecameSuspect is true when this merge flipped TrackerSuspect to true.
	BecameSuspect bool
}

// Classifier decides whether a payload marks a tracker suspect.
type Classifier func(payload []byte) bool

// Registry maps device keys to merged devices.
type Registry struct {
	mu       sync.RWMutex
	devices  map[Key]*Device
	classify Classifier
	version  uint64
}

// New creates an empty registry. A nil classifier uses tracker.Classify.
func New(classify Classifier) *Registry {
	if classify == nil {
		classify = tracker.Classify
	}
	return &Registry{
		devices:  make(map[Key]*Device),
		classify: classify,
	}
}

// Merge folds one sighting into the registry. Merging the same event twice
// leaves the device unchanged apart from its sighting count.
func (r *Registry) Merge(ev radio.RawScanEvent) (Merged, error) {
	if !ev.Technology.Valid() {
		return Merged{}, fmt.Errorf("%w: unknown technology %q", ErrInvalidEvent, ev.Technology)
	}
	identity := radio.CanonicalIdentity(ev.Technology, ev.Identity)
	if identity == "" {
		return Merged{}, fmt.Errorf("%w: empty %s identity", ErrInvalidEvent, ev.Technology)
	}
	key := Key{Technology: ev.Technology, Identity: identity}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++

	existing, ok := r.devices[key]
	if !ok {
		d := &Device{
			Key:       key,
			Name:      ev.Name,
			FirstSeen: ev.ObservedAt,
			LastSeen:  ev.ObservedAt,
			Sightings: 1,
		}
		if ev.RSSI != nil {
			rssi := *ev.RSSI
			d.RSSI = &rssi
		}
		if len(ev.Payload) > 0 {
			d.Payload = append([]byte(nil), ev.Payload...)
			d.TrackerSuspect = r.classify(d.Payload)
		}
		r.devices[key] = d
		return Merged{Device: d.clone(), Created: true, BecameSuspect: d.TrackerSuspect}, nil
	}

	wasSuspect := existing.TrackerSuspect

	// Signal strength follows the newest sighting only.
	if ev.RSSI != nil && !ev.ObservedAt.Before(existing.LastSeen) {
		rssi := *ev.RSSI
		existing.RSSI = &rssi
	}
	if ev.ObservedAt.After(existing.LastSeen) {
		existing.LastSeen = ev.ObservedAt
	}
	if existing.Name == "" && ev.Name != "" {
		existing.Name = ev.Name
	}
	if len(ev.Payload) > 0 && !bytes.Equal(ev.Payload, existing.Payload) {
		existing.Payload = append([]byte(nil), ev.Payload...)
		existing.TrackerSuspect = r.classify(existing.Payload)
	}
	existing.Sightings++

	return Merged{
		Device:        existing.clone(),
		BecameSuspect: existing.TrackerSuspect && !wasSuspect,
	}, nil
}

// Snapshot returns copies of every device ordered by first sighting, then key.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Get returns a copy of the device stored under key.
func (r *Registry) Get(key Key) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[key]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

// Counts returns the number of devices per technology.
func (r *Registry) Counts() map[radio.Technology]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[radio.Technology]int)
	for key := range r.devices {
		counts[key.Technology]++
	}
	return counts
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Version increases on every merge and clear.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Clear removes every device.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[Key]*Device)
	r.version++
}
