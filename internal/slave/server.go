// internal/slave/server.go
package slave

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/simonvetter/modbus"

	"github.com/tamzrod/modsim/internal/bank"
)

const (
	// DefaultTimeout closes idle client connections.
	DefaultTimeout = 30 * time.Second

	// DefaultGrace is how long in-flight requests get on shutdown.
	DefaultGrace = 500 * time.Millisecond

	maxClients = 16
)

// Config is the minimal endpoint config.
type Config struct {
	IP      string
	Port    int
	SlaveID uint8
	Timeout time.Duration // 0 means DefaultTimeout
	Grace   time.Duration // 0 means DefaultGrace
}

// Endpoint is one simulation's Modbus/TCP listener. The framing,
// per-connection goroutines, and exception encoding belong to the
// server library; the endpoint maps holding-register requests onto
// the bank.
type Endpoint struct {
	cfg Config
	srv *modbus.ModbusServer
	log zerolog.Logger
}

// New creates an unbound endpoint serving one slave id.
func New(cfg Config, b *bank.Bank, log zerolog.Logger) (*Endpoint, error) {
	if b == nil {
		return nil, errors.New("slave: bank required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://%s:%d", cfg.IP, cfg.Port),
		Timeout:    cfg.Timeout,
		MaxClients: maxClients,
	}, &handler{slaveID: cfg.SlaveID, bank: b, log: log})
	if err != nil {
		return nil, fmt.Errorf("slave: %w", err)
	}

	return &Endpoint{cfg: cfg, srv: srv, log: log}, nil
}

// Start binds the listener and begins accepting connections. A port
// held by this process or any other surfaces as the returned error.
func (e *Endpoint) Start() error {
	if err := e.srv.Start(); err != nil {
		return fmt.Errorf("slave: bind %s:%d: %w", e.cfg.IP, e.cfg.Port, err)
	}
	e.log.Info().Msg("listening")
	return nil
}

// Stop shuts the endpoint down: in-flight requests get the grace
// window, then the listener and every connection are closed.
func (e *Endpoint) Stop() error {
	time.Sleep(e.cfg.Grace)
	err := e.srv.Stop()
	e.log.Info().Msg("stopped")
	return err
}

// ---- request handler ----

// handler is called by the server library, one goroutine per client.
// All shared state lives in the bank, which does its own locking.
type handler struct {
	slaveID uint8
	bank    *bank.Bank
	log     zerolog.Logger
}

// HandleHoldingRegisters serves FC 3 (read), FC 6 (write single) and
// FC 16 (write multiple). Writes are validated and clamped by the
// bank; a successful write response reads the span back, so the
// client sees the value actually stored.
func (h *handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.UnitId != h.slaveID {
		return nil, modbus.ErrIllegalFunction
	}

	if req.IsWrite {
		if err := h.bank.WriteWords(req.Addr, req.Args); err != nil {
			h.log.Warn().
				Err(err).
				Str("client", req.ClientAddr).
				Uint16("addr", req.Addr).
				Int("words", len(req.Args)).
				Msg("write rejected")
			return nil, mapBankError(err)
		}
		h.log.Debug().
			Str("client", req.ClientAddr).
			Uint16("addr", req.Addr).
			Int("words", len(req.Args)).
			Msg("write accepted")
	}

	words, err := h.bank.ReadWords(req.Addr, req.Quantity)
	if err != nil {
		return nil, mapBankError(err)
	}
	return words, nil
}

// Coils are not simulated.
func (h *handler) HandleCoils(*modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// Discrete inputs are not simulated.
func (h *handler) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// Input registers are not simulated.
func (h *handler) HandleInputRegisters(*modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func mapBankError(err error) error {
	switch {
	case errors.Is(err, bank.ErrBadValue):
		return modbus.ErrIllegalDataValue
	case errors.Is(err, bank.ErrOutOfRange), errors.Is(err, bank.ErrNotWritable):
		return modbus.ErrIllegalDataAddress
	default:
		return modbus.ErrServerDeviceFailure
	}
}
