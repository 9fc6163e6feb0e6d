package netinfo

import "sync"

// Change describes a move from one best address to another.
type Change struct {
	OldAddress string `json:"old_ip"`
	NewAddress string `json:"new_ip"`
	Type       Kind   `json:"type"`
}

// Monitor remembers the last observed best interface.
type Monitor struct {
	detector *Detector

	mu      sync.Mutex
	address string
	kind    Kind
}

func NewMonitor(d *Detector) *Monitor {
	addr, kind := d.Best()
	return &Monitor{detector: d, address: addr, kind: kind}
}

// Current returns the last observed address and kind.
func (m *Monitor) Current() (string, Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address, m.kind
}

// Check re-evaluates the best interface and reports whether it changed.
func (m *Monitor) Check() (Change, bool) {
	addr, kind := m.detector.Best()

	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == m.address && kind == m.kind {
		return Change{}, false
	}
	ch := Change{OldAddress: m.address, NewAddress: addr, Type: kind}
	m.address, m.kind = addr, kind
	return ch, true
}
