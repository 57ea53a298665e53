package client

import "time"

// sendWindow keeps the timestamps of the most recent successful sends,
// oldest first, never more than capacity.
type sendWindow struct {
	times    []time.Time
	capacity int
}

func newSendWindow(capacity int) *sendWindow {
	return &sendWindow{
		times:    make([]time.Time, 0, capacity),
		capacity: capacity,
	}
}

func (w *sendWindow) push(t time.Time) {
	if len(w.times) == w.capacity {
		copy(w.times, w.times[1:])
		w.times = w.times[:w.capacity-1]
	}
	w.times = append(w.times, t)
}

func (w *sendWindow) oldest() (time.Time, bool) {
	if len(w.times) == 0 {
		return time.Time{}, false
	}
	return w.times[0], true
}

func (w *sendWindow) len() int {
	return len(w.times)
}
