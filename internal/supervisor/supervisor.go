// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modsim/internal/bank"
	"github.com/tamzrod/modsim/internal/engine"
	"github.com/tamzrod/modsim/internal/schema"
	"github.com/tamzrod/modsim/internal/slave"
)

// Supervisor owns the collection of simulations built from one shared
// schema. Each simulation has a private bank, update loop, endpoint,
// and globals table: a variable_name written on one endpoint is never
// visible to another simulation's expressions.
type Supervisor struct {
	set      *schema.Set
	interval time.Duration
	log      zerolog.Logger

	mu   sync.RWMutex
	sims map[string]*simulation
}

type simulation struct {
	id      string
	ip      string
	port    int
	slaveID uint8

	bank     *bank.Bank
	endpoint *slave.Endpoint
	cancel   context.CancelFunc
	done     chan struct{}
}

// Info describes one running simulation.
type Info struct {
	ID      string
	IP      string
	Port    int
	SlaveID uint8
}

// RegisterSnapshot is one presentation row: exactly what the
// dashboard collaborator renders. It contains no logic and no memory
// of the past beyond current state.
type RegisterSnapshot struct {
	Name           string
	Description    string
	Address        uint16
	DisplayAddress int // 4xxxx convention
	Words          []uint16
	Scaled         float64
	Writable       bool
}

// New creates a supervisor over a frozen schema.
func New(set *schema.Set, interval time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		set:      set,
		interval: interval,
		log:      log,
		sims:     make(map[string]*simulation),
	}
}

// Add builds and starts one simulation: bank, one forced tick so
// expressions see consistent inputs, then the endpoint, then the
// update loop. On any failure nothing is left running.
func (s *Supervisor) Add(ip string, port int, slaveID uint8) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sim := range s.sims {
		if sim.ip == ip && sim.port == port {
			return "", fmt.Errorf("supervisor: %s:%d already bound by simulation %s", ip, port, sim.id)
		}
	}

	id := uuid.NewString()
	slog := s.log.With().
		Str("sim", id).
		Str("ip", ip).
		Int("port", port).
		Uint8("slave_id", slaveID).
		Logger()

	b := bank.New(s.set, slog)
	eng, err := engine.New(s.set, b, s.interval, slog)
	if err != nil {
		return "", err
	}
	eng.TickOnce(time.Now())

	ep, err := slave.New(slave.Config{IP: ip, Port: port, SlaveID: slaveID}, b, slog)
	if err != nil {
		return "", err
	}
	if err := ep.Start(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sim := &simulation{
		id:       id,
		ip:       ip,
		port:     port,
		slaveID:  slaveID,
		bank:     b,
		endpoint: ep,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(sim.done)
		eng.Run(ctx)
	}()

	s.sims[id] = sim
	slog.Info().Msg("simulation started")
	return id, nil
}

// Remove stops one simulation: the update loop exits after its
// current tick, then the endpoint drains and closes.
func (s *Supervisor) Remove(id string) error {
	s.mu.Lock()
	sim, ok := s.sims[id]
	if ok {
		delete(s.sims, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("supervisor: unknown simulation %s", id)
	}

	sim.cancel()
	<-sim.done
	return sim.endpoint.Stop()
}

// List returns the running simulations in a stable order.
func (s *Supervisor) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.sims))
	for _, sim := range s.sims {
		out = append(out, Info{ID: sim.id, IP: sim.ip, Port: sim.port, SlaveID: sim.slaveID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IP != out[j].IP {
			return out[i].IP < out[j].IP
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// Snapshot returns one simulation's registers in address order.
func (s *Supervisor) Snapshot(id string) ([]RegisterSnapshot, error) {
	s.mu.RLock()
	sim, ok := s.sims[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("supervisor: unknown simulation %s", id)
	}

	out := make([]RegisterSnapshot, 0, len(s.set.ByAddr))
	for _, spec := range s.set.ByAddr {
		words, err := sim.bank.ReadWords(spec.Address, uint16(spec.Words()))
		if err != nil {
			return nil, err
		}
		scaled, _ := sim.bank.GetScaled(spec.Name)
		out = append(out, RegisterSnapshot{
			Name:           spec.Name,
			Description:    spec.Description,
			Address:        spec.Address,
			DisplayAddress: spec.DisplayAddress(),
			Words:          words,
			Scaled:         scaled,
			Writable:       spec.Role == schema.Writable,
		})
	}
	return out, nil
}

// Shutdown removes every simulation concurrently and waits for all
// of them to finish.
func (s *Supervisor) Shutdown() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sims))
	for id := range s.sims {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Remove(id); err != nil {
				s.log.Error().Err(err).Str("sim", id).Msg("shutdown remove failed")
			}
		}(id)
	}
	wg.Wait()
}
