// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modsim/internal/bank"
	"github.com/tamzrod/modsim/internal/plan"
	"github.com/tamzrod/modsim/internal/schema"
)

// Engine advances one simulation's rule-driven registers. It is a
// dumb, clock-driven walker: all ordering decisions were made by the
// planner at build time.
type Engine struct {
	bank     *bank.Bank
	order    []*schema.Spec
	interval time.Duration
	rng      *rand.Rand
	log      zerolog.Logger
}

// New plans the evaluation order and creates an engine with immutable
// config. Planning failures (dependency cycles) surface here.
func New(set *schema.Set, b *bank.Bank, interval time.Duration, log zerolog.Logger) (*Engine, error) {
	if b == nil {
		return nil, errors.New("engine: bank required")
	}
	if interval <= 0 {
		return nil, errors.New("engine: interval must be > 0")
	}

	names, err := plan.Order(set)
	if err != nil {
		return nil, err
	}
	order := make([]*schema.Spec, len(names))
	for i, name := range names {
		order[i] = set.ByName[name]
	}

	return &Engine{
		bank:     b,
		order:    order,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
	}, nil
}

// Run starts the ticker loop. One goroutine per simulation. A tick
// that overruns simply shortens the following sleep.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.TickOnce(now)
		}
	}
}

// TickOnce performs exactly one tick: walk every register in
// evaluation order, then re-encode the wire words. The whole walk
// runs under the bank's exclusive lock, so servers observe either
// the pre-tick or the post-tick state.
func (e *Engine) TickOnce(now time.Time) {
	e.bank.RunTick(now, func(tx *bank.Tx) {
		for _, s := range e.order {
			switch s.Role {
			case schema.Random:
				u := e.rng.Float64()*2 - 1 // uniform in [-1, 1)
				tx.Set(s.Name, s.BaseValue*(1+u*s.Fluctuation))

			case schema.Expression:
				v := s.Program.Eval(tx)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					// keep the prior value
					e.log.Warn().
						Str("register", s.Name).
						Str("expression", s.Expression).
						Float64("value", v).
						Msg("expression not finite, value retained")
					continue
				}
				tx.Set(s.Name, v)

			case schema.Accumulator:
				rate := tx.Get(s.Source)
				if math.IsNaN(rate) || math.IsInf(rate, 0) {
					e.log.Warn().
						Str("register", s.Name).
						Str("source", s.Source).
						Float64("rate", rate).
						Msg("accumulator source not finite, value retained")
					continue
				}
				// the source is a per-hour rate
				tx.Set(s.Name, tx.Get(s.Name)+rate*tx.Dt()/3600)

			case schema.Constant, schema.Writable:
				// no internal evolution
			}
		}
	})
}
