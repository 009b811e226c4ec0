package vm

import (
	"time"

	"github.com/dop251/goja"
)

const (
	// minInterval clamps setInterval so a zero delay cannot spin.
	minInterval = 4 * time.Millisecond
	// maxFiresPerAdvance bounds the work one Advance may do.
	maxFiresPerAdvance = 1000
)

type timer struct {
	id       int64
	due      time.Duration
	interval time.Duration
	fn       goja.Callable
	code     string
	args     []goja.Value
	frame    bool
}

// clock is a virtual timeline. Time only moves when the poller advances it,
// so page timers fire in order without any goroutines.
type clock struct {
	now    time.Duration
	nextID int64
	timers map[int64]*timer
}

func newClock() *clock {
	return &clock{timers: make(map[int64]*timer)}
}

func (c *clock) add(t *timer, delay time.Duration) int64 {
	if delay < 0 {
		delay = 0
	}
	if t.interval > 0 && t.interval < minInterval {
		t.interval = minInterval
	}
	c.nextID++
	t.id = c.nextID
	t.due = c.now + delay
	c.timers[t.id] = t
	return t.id
}

func (c *clock) clear(id int64) {
	delete(c.timers, id)
}

// next returns the earliest timer due at or before limit. Ties go to the
// timer registered first.
func (c *clock) next(limit time.Duration) *timer {
	var best *timer
	for _, t := range c.timers {
		if t.due > limit {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && t.id < best.id) {
			best = t
		}
	}
	return best
}

// pop removes t from the queue, or reschedules it when it repeats.
func (c *clock) pop(t *timer) {
	c.now = t.due
	if t.interval > 0 {
		t.due += t.interval
		return
	}
	delete(c.timers, t.id)
}

func (s *Session) installTimers(g *goja.Object) {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			t := &timer{}
			if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
				t.fn = fn
			} else {
				t.code = call.Argument(0).String()
			}
			delay := time.Duration(toInt(call.Argument(1))) * time.Millisecond
			if len(call.Arguments) > 2 {
				t.args = append([]goja.Value(nil), call.Arguments[2:]...)
			}
			if repeat {
				t.interval = delay
			}
			return s.rt.ToValue(s.clock.add(t, delay))
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		s.clock.clear(toInt(call.Argument(0)))
		return goja.Undefined()
	}

	g.Set("setTimeout", schedule(false))
	g.Set("setInterval", schedule(true))
	g.Set("clearTimeout", cancel)
	g.Set("clearInterval", cancel)
	g.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return s.rt.ToValue(0)
		}
		return s.rt.ToValue(s.clock.add(&timer{fn: fn, frame: true}, 16*time.Millisecond))
	})
	g.Set("cancelAnimationFrame", cancel)
	g.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		return s.rt.ToValue(s.clock.add(&timer{fn: fn}, 0))
	})
}

// fireTimers runs every timer due up to now+d, then moves the clock to now+d.
func (s *Session) fireTimers(d time.Duration) {
	target := s.clock.now + d
	for fired := 0; fired < maxFiresPerAdvance && !s.broken; fired++ {
		t := s.clock.next(target)
		if t == nil {
			break
		}
		s.clock.pop(t)

		err := s.run("timer", func() error {
			if t.fn != nil {
				args := t.args
				if t.frame {
					args = []goja.Value{s.rt.ToValue(s.clock.now.Milliseconds())}
				}
				_, err := t.fn(goja.Undefined(), args...)
				return err
			}
			_, err := s.rt.RunString(t.code)
			return err
		})
		if err != nil {
			s.absorb("timer", err)
		}
	}
	s.clock.now = target
}

func toInt(v goja.Value) int64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToInteger()
}
