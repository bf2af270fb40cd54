package clock

import (
	"sync"
	"time"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

// System derives slots from wall time: slot = (now - genesis) / slotDuration.
type System struct {
	genesis  time.Time
	duration time.Duration
	now      func() time.Time
}

// NewSystem creates a wall-clock slot source. A non-positive duration
// defaults to one second per slot.
func NewSystem(genesis time.Time, slotDuration time.Duration) *System {
	if slotDuration <= 0 {
		slotDuration = time.Second
	}
	return &System{genesis: genesis, duration: slotDuration, now: time.Now}
}

func (c *System) Now() domain.Now {
	wall := c.now()
	elapsed := wall.Sub(c.genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	return domain.Now{Slot: quant.Slot(elapsed / c.duration), Wall: wall}
}

// Manual is a clock advanced explicitly. Safe for concurrent use.
type Manual struct {
	mu   sync.Mutex
	slot quant.Slot
	wall time.Time
	step time.Duration
}

// NewManual starts at slot with a fixed wall time advancing by one second per slot.
func NewManual(slot quant.Slot) *Manual {
	return &Manual{slot: slot, wall: time.Unix(1_700_000_000, 0).UTC(), step: time.Second}
}

func (c *Manual) Now() domain.Now {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Now{Slot: c.slot, Wall: c.wall}
}

// Advance moves the clock forward by n slots. Negative n is ignored.
func (c *Manual) Advance(n quant.Slot) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot += n
	c.wall = c.wall.Add(time.Duration(n) * c.step)
}

// Set jumps to slot if it is not behind the current slot.
func (c *Manual) Set(slot quant.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot > c.slot {
		c.wall = c.wall.Add(time.Duration(slot-c.slot) * c.step)
		c.slot = slot
	}
}
