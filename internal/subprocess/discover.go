package subprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/openrig/rigmux/internal/errors"
	"github.com/openrig/rigmux/internal/protocol"
)

const (
	// workerBinaryName is the binary searched for in PATH and common
	// installation directories.
	workerBinaryName = "rigmux-worker"

	// EnvWorkerPath names the environment variable holding an explicit
	// worker binary path. It is consulted after Options.WorkerPath and
	// before the PATH search.
	EnvWorkerPath = "RIGMUX_WORKER"

	// EnvSkipVersionCheck disables the protocol version probe when set.
	EnvSkipVersionCheck = "RIGMUX_SKIP_VERSION_CHECK"

	// VersionCheckTimeout is the timeout for the worker version probe.
	VersionCheckTimeout = 2 * time.Second
)

// protocolPattern extracts the protocol version from the worker's
// --version output, e.g. "rigmux-worker 0.3.0 (protocol 1)".
var protocolPattern = regexp.MustCompile(`protocol ([0-9]+)`)

// DiscoveryConfig holds configuration for worker binary discovery.
type DiscoveryConfig struct {
	// WorkerPath is an explicit binary path that skips the search.
	// If empty, discovery searches RIGMUX_WORKER, PATH, and common
	// locations.
	WorkerPath string

	// SkipVersionCheck skips protocol validation during discovery.
	// Can also be controlled via the RIGMUX_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates and validates the worker binary.
type Discoverer interface {
	// Discover locates the worker binary and checks its protocol version.
	// Returns the path to the binary or an error.
	Discover(ctx context.Context) (string, error)
}

// discoverer implements the Discoverer interface.
type discoverer struct {
	cfg *DiscoveryConfig
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new worker discoverer with the given configuration.
func NewDiscoverer(cfg *DiscoveryConfig) Discoverer {
	if cfg == nil {
		cfg = &DiscoveryConfig{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return &discoverer{
		cfg: cfg,
		log: log,
	}
}

// Discover locates the worker binary and checks its protocol version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering worker binary")

	workerPath, err := d.findWorker()
	if err != nil {
		d.log.Error("Failed to find worker binary", "error", err)

		return "", err
	}

	d.log.Debug("Found worker binary", "worker_path", workerPath)

	d.checkProtocol(ctx, workerPath)

	return workerPath, nil
}

// findWorker locates the worker binary.
func (d *discoverer) findWorker() (string, error) {
	// If explicit path provided, use it and only it
	if d.cfg.WorkerPath != "" {
		d.log.Debug("Using explicit worker path", "worker_path", d.cfg.WorkerPath)

		if _, err := os.Stat(d.cfg.WorkerPath); err == nil {
			return d.cfg.WorkerPath, nil
		}

		d.log.Debug("Explicit worker path not found", "worker_path", d.cfg.WorkerPath)

		return "", &errors.WorkerNotFoundError{SearchedPaths: []string{d.cfg.WorkerPath}}
	}

	searchedPaths := make([]string, 0, 5)

	// RIGMUX_WORKER environment variable
	if envPath := os.Getenv(EnvWorkerPath); envPath != "" {
		d.log.Debug("Checking RIGMUX_WORKER path", "path", envPath)

		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}

		searchedPaths = append(searchedPaths, "$"+EnvWorkerPath)
	}

	// Search in PATH
	d.log.Debug("Searching for worker in PATH", "binary", workerBinaryName)

	if path, err := exec.LookPath(workerBinaryName); err == nil {
		d.log.Debug("Found worker in PATH", "path", path)

		return path, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")

	// Check common locations
	commonPaths := []string{
		"/usr/local/bin/" + workerBinaryName,
		"/usr/bin/" + workerBinaryName,
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths, filepath.Join(homeDir, ".local/bin", workerBinaryName))
	}

	for _, path := range commonPaths {
		searchedPaths = append(searchedPaths, path)
		d.log.Debug("Checking common path", "path", path)

		if _, err := os.Stat(path); err == nil {
			d.log.Debug("Found worker at common path", "path", path)

			return path, nil
		}
	}

	d.log.Warn("Worker binary not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.WorkerNotFoundError{SearchedPaths: searchedPaths}
}

// checkProtocol probes the worker's protocol version and warns on mismatch.
// A mismatched worker still gets spawned; the warning is the only signal.
// Probe errors are silently ignored.
func (d *discoverer) checkProtocol(ctx context.Context, workerPath string) {
	// Skip if configured
	if d.cfg.SkipVersionCheck {
		d.log.Debug("Skipping worker protocol check (configured)")

		return
	}

	// Skip if env var is set
	if os.Getenv(EnvSkipVersionCheck) != "" {
		d.log.Debug("Skipping worker protocol check (RIGMUX_SKIP_VERSION_CHECK set)")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, workerPath, "--version")

	output, err := cmd.Output()
	if err != nil {
		// Silently ignore errors
		d.log.Debug("Worker version probe failed", "error", err)

		return
	}

	match := protocolPattern.FindStringSubmatch(string(output))
	if match == nil {
		d.log.Debug("Could not parse worker version output", "output", string(output))

		return
	}

	workerProtocol, err := strconv.Atoi(match[1])
	if err != nil {
		return
	}

	if workerProtocol != protocol.Version {
		d.log.Warn("Worker protocol version mismatch",
			"worker_protocol", workerProtocol,
			"expected", protocol.Version,
		)

		fmt.Fprintf(os.Stderr,
			"Warning: rigmux-worker at %s speaks protocol %d, manager expects %d. "+
				"Rebuild or reinstall the worker binary.\n",
			workerPath, workerProtocol, protocol.Version,
		)
	} else {
		d.log.Debug("Worker protocol check passed", "protocol", workerProtocol)
	}
}
