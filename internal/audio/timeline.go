package audio

import (
	"sync"
	"time"
)

// Timeline schedules playback chunks back to back so consecutive model audio
// plays gaplessly: each chunk starts at max(now, end of the previous chunk).
// The zero value is not usable; construct with NewTimeline.
type Timeline struct {
	mu     sync.Mutex
	now    func() time.Time
	epoch  time.Time
	cursor time.Time
	ends   []time.Time // end instants of scheduled chunks, oldest first
}

// NewTimeline creates a playback timeline. A nil clock defaults to time.Now.
func NewTimeline(clock func() time.Time) *Timeline {
	if clock == nil {
		clock = time.Now
	}
	t := &Timeline{now: clock}
	t.epoch = clock()
	t.cursor = t.epoch
	return t
}

// Schedule reserves a slot for a chunk of pcmLen bytes in the given format and
// returns the chunk's start offset (relative to the timeline epoch) and its
// duration. A chunk arriving while the previous one is still notionally
// playing starts exactly at the previous end; a chunk arriving after a gap
// starts immediately.
func (t *Timeline) Schedule(format Format, pcmLen int) (offset, duration time.Duration) {
	duration = DurationFromBytes(format, pcmLen)

	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now()
	t.prune(start)
	if t.cursor.After(start) {
		start = t.cursor
	}
	t.cursor = start.Add(duration)
	t.ends = append(t.ends, t.cursor)
	return start.Sub(t.epoch), duration
}

// Interrupt abandons all scheduled playback: the cursor snaps back to now so
// the next chunk starts immediately. Returns how many chunks were actually cut
// off, i.e. still playing or queued when the interrupt landed.
func (t *Timeline) Interrupt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	cut := len(t.ends)
	t.ends = nil
	t.cursor = now
	return cut
}

// Pending reports how many scheduled chunks are still playing or queued.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.ends)
}

// Remaining reports how much scheduled audio is still ahead of now.
func (t *Timeline) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	rem := t.cursor.Sub(t.now())
	if rem < 0 {
		return 0
	}
	return rem
}

// prune drops chunks whose scheduled playback has already finished.
func (t *Timeline) prune(now time.Time) {
	i := 0
	for i < len(t.ends) && !t.ends[i].After(now) {
		i++
	}
	if i > 0 {
		t.ends = t.ends[i:]
	}
}
