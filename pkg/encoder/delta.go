package encoder

// DeltaTracker turns a running pulse count into per-cycle deltas.  The first
// sample only establishes the baseline.
type DeltaTracker struct {
	doneFirstPoll bool
	last          int64
}

// Delta records a new running total and returns the pulses since the
// previous call.
func (d *DeltaTracker) Delta(total int64) int64 {
	if !d.doneFirstPoll {
		d.last = total
		d.doneFirstPoll = true
		return 0
	}
	delta := total - d.last
	d.last = total
	return delta
}
