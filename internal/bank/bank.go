// internal/bank/bank.go
package bank

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modsim/internal/schema"
)

var (
	// ErrOutOfRange maps to Modbus exception 02 (illegal data address).
	ErrOutOfRange = errors.New("bank: address out of range")

	// ErrNotWritable maps to Modbus exception 02: the written span is
	// not exactly covered by writable registers.
	ErrNotWritable = errors.New("bank: span not covered by writable registers")

	// ErrBadValue maps to Modbus exception 03 (illegal data value).
	ErrBadValue = errors.New("bank: value not representable")
)

// Bank is one simulation's register store: the wire-level word array,
// the authoritative scaled values, and the globals table fed by
// writable registers. All access is serialized by a single lock; a
// tick holds it for the whole walk, so readers observe either the
// pre-tick or the post-tick state.
type Bank struct {
	set *schema.Set
	log zerolog.Logger

	mu       sync.Mutex
	raw      []uint16
	scaled   map[string]float64
	globals  map[string]float64
	lastTick time.Time
	ticked   bool
}

// New builds a bank with every register at its initial value
// (base_value, or zero) and the wire words already encoded.
func New(set *schema.Set, log zerolog.Logger) *Bank {
	b := &Bank{
		set:     set,
		log:     log,
		raw:     make([]uint16, set.Limit),
		scaled:  make(map[string]float64, len(set.ByAddr)),
		globals: make(map[string]float64, len(set.Globals)),
	}

	for _, s := range set.ByAddr {
		v := clampScaled(s, s.BaseValue)
		b.scaled[s.Name] = v
		b.encodeLocked(s)
		if s.Role == schema.Writable {
			b.globals[s.VariableName] = v
		}
	}

	return b
}

// ReadWords returns a copy of the current wire view.
func (b *Bank) ReadWords(start, count uint16) ([]uint16, error) {
	if count == 0 || int(start)+int(count) > len(b.raw) {
		return nil, fmt.Errorf("%w: %d+%d exceeds %d words", ErrOutOfRange, start, count, len(b.raw))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]uint16, count)
	copy(out, b.raw[start:int(start)+int(count)])
	return out, nil
}

// WriteWords accepts a write only if the span is exactly covered by
// one or more contiguous writable registers, each fully covered. A
// single-word write into half of a 32-bit register is rejected. The
// write is all-or-nothing: validation of the whole span happens
// before any register changes.
func (b *Bank) WriteWords(start uint16, words []uint16) error {
	if len(words) == 0 || int(start)+len(words) > len(b.raw) {
		return fmt.Errorf("%w: %d+%d exceeds %d words", ErrOutOfRange, start, len(words), len(b.raw))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	end := int(start) + len(words)
	var targets []*schema.Spec
	for cur := int(start); cur < end; {
		s, ok := b.set.ByStart[uint16(cur)]
		if !ok || s.Role != schema.Writable {
			return fmt.Errorf("%w: address %d", ErrNotWritable, cur)
		}
		if cur+s.Words() > end {
			return fmt.Errorf("%w: register %q only partially covered", ErrNotWritable, s.Name)
		}
		targets = append(targets, s)
		cur += s.Words()
	}

	values := make([]float64, len(targets))
	for i, s := range targets {
		off := int(s.Address) - int(start)
		v := decodeWords(s.Type, s.Scale, words[off:off+s.Words()])
		if math.IsNaN(v) {
			return fmt.Errorf("%w: register %q: NaN", ErrBadValue, s.Name)
		}
		values[i] = v
	}

	for i, s := range targets {
		v := clampScaled(s, values[i])
		if v != values[i] {
			b.log.Warn().
				Str("register", s.Name).
				Float64("requested", values[i]).
				Float64("stored", v).
				Msg("write clamped to register bounds")
		}
		b.setScaledLocked(s, v)
	}

	return nil
}

// GetScaled returns the authoritative scaled value of a register.
func (b *Bank) GetScaled(name string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.scaled[name]
	return v, ok
}

// SetScaled clamps and stores a scaled value and re-encodes the wire
// words.
func (b *Bank) SetScaled(name string, v float64) error {
	s, ok := b.set.ByName[name]
	if !ok {
		return fmt.Errorf("bank: unknown register %q", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.setScaledLocked(s, clampScaled(s, v))
	return nil
}

// Snapshot returns a copy of every register's scaled value.
func (b *Bank) Snapshot() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]float64, len(b.scaled))
	for k, v := range b.scaled {
		out[k] = v
	}
	return out
}

func (b *Bank) setScaledLocked(s *schema.Spec, v float64) {
	b.scaled[s.Name] = v
	b.encodeLocked(s)
	if s.Role == schema.Writable {
		b.globals[s.VariableName] = v
	}
}

func (b *Bank) encodeLocked(s *schema.Spec) {
	copy(b.raw[s.Address:int(s.Address)+s.Words()], encodeWords(s.Type, s.Scale, b.scaled[s.Name]))
}

// ---- tick transaction ----

// Tx is the update loop's view of the bank for one tick. It is only
// valid inside the RunTick callback.
type Tx struct {
	b     *Bank
	dt    float64
	dirty map[string]struct{}
}

// RunTick executes one tick under the bank's exclusive lock: it
// computes dt from the previous tick, refreshes the globals table
// from current writable values, runs step, then re-encodes every
// changed register. The first tick uses dt = 0.
func (b *Bank) RunTick(now time.Time, step func(tx *Tx)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dt float64
	if b.ticked {
		dt = now.Sub(b.lastTick).Seconds()
		if dt < 0 {
			dt = 0
		}
	}
	b.ticked = true
	b.lastTick = now

	for vname, rname := range b.set.Globals {
		b.globals[vname] = b.scaled[rname]
	}

	tx := &Tx{b: b, dt: dt, dirty: make(map[string]struct{})}
	step(tx)

	for name := range tx.dirty {
		b.encodeLocked(b.set.ByName[name])
	}
}

// Dt is the elapsed time since the previous tick, in seconds.
func (tx *Tx) Dt() float64 { return tx.dt }

// Get returns a register's current scaled value.
func (tx *Tx) Get(name string) float64 { return tx.b.scaled[name] }

// Set clamps and stores a scaled value; the wire words are re-encoded
// when the tick completes.
func (tx *Tx) Set(name string, v float64) {
	s, ok := tx.b.set.ByName[name]
	if !ok {
		return
	}
	v = clampScaled(s, v)
	tx.b.scaled[s.Name] = v
	if s.Role == schema.Writable {
		tx.b.globals[s.VariableName] = v
	}
	tx.dirty[s.Name] = struct{}{}
}

// Lookup resolves an expression identifier: register names first,
// then globals. Implements expr.Env.
func (tx *Tx) Lookup(name string) (float64, bool) {
	if v, ok := tx.b.scaled[name]; ok {
		return v, ok
	}
	v, ok := tx.b.globals[name]
	return v, ok
}
