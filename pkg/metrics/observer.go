package metrics

import (
	"sync"

	"github.com/itohio/lorameter/pkg/uplink"
)

// Observer turns scheduler status updates into collector changes.
type Observer struct {
	mu   sync.Mutex
	prev uplink.Status
}

// NewObserver creates an observer.
func NewObserver() *Observer {
	return &Observer{}
}

// Update records the difference between st and the previous update.
// Register it with uplink.Scheduler.OnUpdate.
func (o *Observer) Update(st uplink.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()

	SweepCounter.Set(float64(st.Counter))

	if st.Aborted > o.prev.Aborted && st.LastStage != "" {
		IterationErrorCounter.WithLabelValues(st.LastStage).Add(float64(st.Aborted - o.prev.Aborted))
	}

	if st.Sent > o.prev.Sent {
		UplinkCounter.WithLabelValues(resultLabel(st.LastResult.Kind)).Inc()
		SpreadingFactor.Set(float64(st.DataRate.SpreadingFactor()))
		RMSCurrent.Set(float64(st.Measurement.RMSCurrent))
		ApparentPower.Set(float64(st.Measurement.ApparentPower))
		SampleDuration.Observe(st.Measurement.SampleDuration.Seconds())
	}

	o.prev = st
}

func resultLabel(k uplink.ResultKind) string {
	switch k {
	case uplink.TransmissionError:
		return ResultError
	case uplink.DownlinkReceived:
		return ResultDownlink
	}
	return ResultNoDownlink
}
