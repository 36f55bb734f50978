package device

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrNotFound is returned by lookups for an unknown identifier.
var ErrNotFound = errors.New("device: not found")

// Registry owns the fleet's device records.
//
// The backing slice is replaced wholesale on every write and never mutated in
// place, so snapshots handed out by List or Filter stay valid while later
// updates land.
//
// Subscribers are called one at a time and always with the newest set, so
// they never observe an older snapshot after a newer one.
type Registry struct {
	mu      sync.RWMutex
	devices []Device
	index   map[string]int
	version uint64

	subsMu sync.RWMutex
	subs   []func([]Device)

	// deliverMu serializes notifications; delivered is the last version sent.
	deliverMu sync.Mutex
	delivered uint64

	logger *slog.Logger
}

// NewRegistry creates a registry holding the given devices in order.
// Duplicate identifiers keep the first occurrence.
func NewRegistry(devices []Device, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.devices, r.index = dedupe(devices)
	return r
}

func dedupe(in []Device) ([]Device, map[string]int) {
	out := make([]Device, 0, len(in))
	index := make(map[string]int, len(in))
	for _, d := range in {
		if _, dup := index[d.ID]; dup {
			continue
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	return out, index
}

// List returns every device in registry order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.devices)
}

// Filter returns the devices matching pred, in registry order.
func (r *Registry) Filter(pred func(Device) bool) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, d := range r.devices {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the device with the given identifier.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return Device{}, false
	}
	return r.devices[i], true
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// UpdateMany applies the same patch to every listed device in one atomic swap
// and returns the new full set. Unknown identifiers are skipped.
func (r *Registry) UpdateMany(ids []string, patch Patch) []Device {
	return r.UpdateEach(ids, func(Device) Patch { return patch })
}

// UpdateEach is UpdateMany with a per-device patch. fn runs under the registry
// write lock and must not call back into the registry.
func (r *Registry) UpdateEach(ids []string, fn func(Device) Patch) []Device {
	r.mu.Lock()
	next := slices.Clone(r.devices)
	changed := false
	for _, id := range ids {
		i, ok := r.index[id]
		if !ok {
			continue
		}
		if d, ok := r.patch(next[i], fn); ok {
			next[i] = d
			changed = true
		}
	}
	snapshot := r.commitLocked(next, changed)
	r.mu.Unlock()

	if changed {
		r.notify()
	}
	return snapshot
}

// UpdateWhere offers every device to fn in registry order under one write
// lock and returns the devices it changed, as patched. Selecting and
// patching happen atomically, so no device can change state in between.
func (r *Registry) UpdateWhere(fn func(Device) Patch) []Device {
	r.mu.Lock()
	next := slices.Clone(r.devices)
	var changed []Device
	for i := range next {
		if d, ok := r.patch(next[i], fn); ok {
			next[i] = d
			changed = append(changed, d)
		}
	}
	r.commitLocked(next, len(changed) > 0)
	r.mu.Unlock()

	if len(changed) > 0 {
		r.notify()
	}
	return changed
}

func (r *Registry) patch(cur Device, fn func(Device) Patch) (Device, bool) {
	p := fn(cur)
	if p.IsZero() {
		return cur, false
	}
	d, err := p.Apply(cur)
	if err != nil {
		r.logger.Warn("skipping device patch", "id", cur.ID, "error", err)
		return cur, false
	}
	return d, true
}

// commitLocked installs next when changed and returns a snapshot.
func (r *Registry) commitLocked(next []Device, changed bool) []Device {
	if changed {
		r.devices = next
		r.version++
	}
	return slices.Clone(r.devices)
}

// Reconnect moves an offline device back to connected. Devices that are
// already online are returned unchanged.
func (r *Registry) Reconnect(id string) (Device, error) {
	d, ok := r.Get(id)
	if !ok {
		return Device{}, ErrNotFound
	}
	if d.Status != StatusOffline {
		return d, nil
	}
	r.UpdateEach([]string{id}, func(cur Device) Patch {
		if cur.Status != StatusOffline {
			return Patch{}
		}
		return SetStatus(StatusConnected)
	})
	d, _ = r.Get(id)
	return d, nil
}

// Replace swaps in a whole new device set, e.g. after a config reload.
func (r *Registry) Replace(devices []Device) []Device {
	r.mu.Lock()
	r.devices, r.index = dedupe(devices)
	r.version++
	snapshot := slices.Clone(r.devices)
	r.mu.Unlock()

	r.notify()
	return snapshot
}

// Subscribe registers fn to receive the full device set after changes.
// fn must not write to the registry.
func (r *Registry) Subscribe(fn func([]Device)) {
	r.subsMu.Lock()
	r.subs = append(r.subs, fn)
	r.subsMu.Unlock()
}

// Watch calls fn with the current device set while no notification is in
// flight. Every change committed after the snapshot reaches subscribers
// after fn returns.
func (r *Registry) Watch(fn func([]Device)) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	fn(r.List())
}

// notify sends the newest set to subscribers. A caller whose change was
// already covered by an earlier delivery sends nothing.
func (r *Registry) notify() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.RLock()
	version := r.version
	devices := slices.Clone(r.devices)
	r.mu.RUnlock()
	if version == r.delivered {
		return
	}
	r.delivered = version

	r.subsMu.RLock()
	subs := slices.Clone(r.subs)
	r.subsMu.RUnlock()

	for _, fn := range subs {
		fn(devices)
	}
}

// IDs returns the identifiers of the given devices.
func IDs(devices []Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}

// Names returns the display names of the given devices.
func Names(devices []Device) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}
