// Package notify implements the OFFLINE -> {ONLINE, STANDBY} edge
// detector and best-effort email delivery described in spec.md §4.9.
// No teacher ancestor exists for this (the teacher only printed state
// changes to the console); it is grounded on the state-machine
// book-keeping style of the doublezero liveness Session (capture the
// prior value before mutating, decide on the captured value, write
// unconditionally) applied to a (session, device) -> last-state map.
package notify

import (
	"sync"

	"github.com/quietline/presencewatch/internal/model"
)

type deviceKey struct {
	session model.SessionKey
	device  string
}

// Detector remembers the last observed state per (session_key,
// device_id) for the lifetime of the process (spec.md: "not persisted
// across restarts").
type Detector struct {
	mu   sync.Mutex
	last map[deviceKey]model.DeviceState
}

// New builds an empty Detector.
func New() *Detector {
	return &Detector{last: make(map[deviceKey]model.DeviceState)}
}

// Observe updates the last-seen state unconditionally and reports
// whether this observation is an OFFLINE -> {ONLINE, STANDBY} edge.
// notificationsEnabled gates the result without affecting the memory
// update, matching spec.md's "the write is unconditional" requirement —
// checking against a disabled contact must still advance the memory so a
// later enable doesn't replay a stale edge.
func (d *Detector) Observe(key model.SessionKey, deviceID string, newState model.DeviceState, notificationsEnabled bool) (fired bool) {
	dk := deviceKey{session: key, device: deviceID}

	d.mu.Lock()
	prev, known := d.last[dk]
	d.last[dk] = newState
	d.mu.Unlock()

	if !known {
		return false
	}
	if prev != model.StateOffline {
		return false
	}
	if newState != model.StateOnline && newState != model.StateStandby {
		return false
	}
	return notificationsEnabled
}

// Destroy drops memory for every device of a stopped session.
func (d *Detector) Destroy(key model.SessionKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dk := range d.last {
		if dk.session == key {
			delete(d.last, dk)
		}
	}
}
