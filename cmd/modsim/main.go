// cmd/modsim/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modsim/internal/config"
	"github.com/tamzrod/modsim/internal/schema"
	"github.com/tamzrod/modsim/internal/supervisor"
)

type options struct {
	Config string `short:"c" long:"config" default:"config.yaml" description:"Path to the YAML configuration"`
	Log    string `long:"log" default:"modsim.log" description:"Log file path"`
	Count  int    `short:"n" long:"count" default:"1" description:"Number of simulations to start (port and slave id increment per simulation)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logFile, err := os.OpenFile(opts.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := zerolog.New(logFile).With().Timestamp().Logger()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fatal(log, "config load failed", err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(log, "config validation failed", err)
	}
	config.Normalize(cfg)

	set, err := schema.Build(cfg.Registers)
	if err != nil {
		fatal(log, "schema build failed", err)
	}

	// --------------------
	// Start simulations
	// --------------------

	interval := time.Duration(cfg.Defaults.UpdateIntervalMs) * time.Millisecond
	sup := supervisor.New(set, interval, log)

	if opts.Count < 1 {
		opts.Count = 1
	}
	for i := 0; i < opts.Count; i++ {
		port := cfg.Defaults.Port + i
		slaveID := cfg.Defaults.SlaveID + i
		if port > 65535 || slaveID > 247 {
			fatal(log, "simulation endpoint out of range",
				fmt.Errorf("port=%d slave_id=%d", port, slaveID))
		}

		id, err := sup.Add(cfg.Defaults.IP, port, uint8(slaveID))
		if err != nil {
			fatal(log, "simulation start failed", err)
		}
		fmt.Printf("simulation %s listening on %s:%d (slave id %d)\n",
			id, cfg.Defaults.IP, port, slaveID)
	}

	// --------------------
	// Run until interrupted
	// --------------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	fmt.Println("shutting down")
	sup.Shutdown()
}

func fatal(log zerolog.Logger, msg string, err error) {
	log.Error().Err(err).Msg(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
