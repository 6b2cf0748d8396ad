package server

import "sync"

// Faults injects misbehaviour into SendRRData replies. Registration
// replies are never faulted. Counters run across all connections.
type Faults struct {
	// DropEveryN silently discards every Nth reply.
	DropEveryN int
	// CloseEveryN closes the connection instead of sending every Nth reply.
	CloseEveryN int
}

type faultState struct {
	mu      sync.Mutex
	cfg     Faults
	replies int
}

type faultAction struct {
	drop  bool
	close bool
}

func (f *faultState) set(cfg Faults) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.replies = 0
}

func (f *faultState) next() faultAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies++
	n := f.replies
	return faultAction{
		drop:  f.cfg.DropEveryN > 0 && n%f.cfg.DropEveryN == 0,
		close: f.cfg.CloseEveryN > 0 && n%f.cfg.CloseEveryN == 0,
	}
}
