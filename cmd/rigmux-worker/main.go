// Command rigmux-worker owns one exclusive rig session and serves
// line-delimited JSON commands on stdin/stdout. It is normally spawned and
// supervised by the rigmux manager, but runs standalone for debugging:
//
//	rigmux-worker --mock --session bench-1
//
// Stdout carries the wire protocol; all logging goes to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/worker"
)

// version is the worker build version, overridable at link time with
// -ldflags "-X main.version=...".
var version = "0.3.0"

func main() {
	var (
		endpoint    = flag.String("endpoint", "", "rig endpoint, e.g. mock://rig0 or rp://10.0.0.17")
		session     = flag.String("session", "", "session name reported in the ready event")
		mock        = flag.Bool("mock", false, "force the mock driver regardless of endpoint scheme")
		logLevel    = flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
		logPretty   = flag.Bool("log-pretty", false, "human-readable log output instead of JSON lines")
		configPath  = flag.String("config", "", "optional TOML config file; flags override its values")
		showVersion = flag.Bool("version", false, "print version and protocol, then exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(versionString())
		return
	}

	cfg := defaultConfig()

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "rigmux-worker: %v\n", err)
			os.Exit(2)
		}
	}

	cfg.applyFlags(flagsSeen(), *endpoint, *session, *mock, *logLevel, *logPretty)

	if err := cfg.resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "rigmux-worker: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	log := cfg.newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", version).
		Int("protocol", protocol.Version).
		Str("endpoint", cfg.Endpoint).
		Str("session", cfg.Session).
		Bool("mock", cfg.Mock).
		Msg("Worker starting")

	w := worker.New(worker.Config{
		Endpoint: cfg.Endpoint,
		Session:  cfg.Session,
		Mock:     cfg.Mock,
	}, log)

	if err := w.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Worker failed")
		os.Exit(1)
	}
}

// versionString is the --version output. The manager's discovery probe
// parses the protocol number out of it, so the "(protocol N)" suffix is
// part of the contract.
func versionString() string {
	return fmt.Sprintf("rigmux-worker %s (protocol %d)", version, protocol.Version)
}

// flagsSeen reports which flags were set explicitly on the command line.
func flagsSeen() map[string]bool {
	seen := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		seen[f.Name] = true
	})

	return seen
}
