package uplink

import (
	"fmt"
	"sync"
	"time"

	"github.com/itohio/lorameter/pkg/meter"
)

// State is the step of the iteration the scheduler is in.
type State uint8

const (
	Idle State = iota
	Sampling
	Estimating
	Encoding
	SelectingDataRate
	Sending
	InterpretingResult
	Pacing
)

var stateNames = [...]string{
	"idle",
	"sampling",
	"estimating",
	"encoding",
	"selecting_data_rate",
	"sending",
	"interpreting_result",
	"pacing",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status is a snapshot of the scheduler.
type Status struct {
	State       State
	Counter     Counter
	DataRate    DataRate // rate applied to the last send
	Iterations  uint64
	Sent        uint64
	Errors      uint64 // transmission errors
	Aborted     uint64 // iterations that failed before sending
	Measurement meter.Measurement
	LastResult  Result
	LastError   string
	LastStage   string // stage of the last aborted iteration
	UpdatedAt   time.Time
}

// statusBoard holds the latest status and fans updates out to listeners.
type statusBoard struct {
	mu     sync.RWMutex
	status Status

	cbMu      sync.RWMutex
	callbacks []func(Status)
}

func (b *statusBoard) get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *statusBoard) update(fn func(s *Status), notify bool) {
	b.mu.Lock()
	fn(&b.status)
	snapshot := b.status
	b.mu.Unlock()

	if !notify {
		return
	}

	b.cbMu.RLock()
	callbacks := make([]func(Status), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.cbMu.RUnlock()

	// invoke without holding any lock
	for _, cb := range callbacks {
		if cb != nil {
			cb(snapshot)
		}
	}
}

func (b *statusBoard) onUpdate(cb func(Status)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}
