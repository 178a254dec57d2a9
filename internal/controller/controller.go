// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controller drives the supervised daemon through its lifecycle:
// provision the binaries, launch the daemon, gate on readiness, apply the
// one-shot configuration command, then keep the process alive with
// periodic liveness probing until a termination signal or a fatal
// condition ends the run.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/tether/internal/config"
	"github.com/tombee/tether/internal/control"
	"github.com/tombee/tether/internal/httpclient"
	"github.com/tombee/tether/internal/lifecycle"
	tetherlog "github.com/tombee/tether/internal/log"
	"github.com/tombee/tether/internal/provision"
	tethererrors "github.com/tombee/tether/pkg/errors"
)

// Names of the provisioned artifact and its binaries.
const (
	ArtifactName = "mesh"
	DaemonBinary = "meshd"
	ClientBinary = "mesh"
)

// healthProbeTimeout bounds a single diagnostic probe; the archive
// download timeout would let a wedged probe stall a whole tick.
const healthProbeTimeout = 5 * time.Second

// Provisioner ensures the daemon binaries are installed.
type Provisioner interface {
	Ensure(ctx context.Context, spec provision.Spec) (string, error)
}

// Supervisor launches and stops the daemon process.
type Supervisor interface {
	Launch(program string, args []string, opts lifecycle.LaunchOptions) (*lifecycle.Handle, error)
	Stop(handle *lifecycle.Handle, timeout time.Duration) error
}

// CommandRunner executes one-shot control commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd control.Command) error
}

// Options allows replacing collaborators, mainly for tests. Nil fields
// get real implementations.
type Options struct {
	Provisioner Provisioner
	Supervisor  Supervisor
	Runner      CommandRunner
	Events      *lifecycle.EventLog
	Health      *lifecycle.HealthChecker
}

// Controller owns the lifecycle state machine. The process handle is
// explicit state shared between the main control flow and the shutdown
// path; the shutdown transition runs exactly once no matter how many
// paths reach it.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger

	provisioner Provisioner
	supervisor  Supervisor
	runner      CommandRunner
	events      *lifecycle.EventLog
	health      *lifecycle.HealthChecker

	mu     sync.Mutex
	state  State
	handle *lifecycle.Handle

	teardownOnce sync.Once

	sigMu  sync.Mutex
	signal os.Signal
}

// New creates a controller for the given validated configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Controller, error) {
	c := &Controller{
		cfg:         cfg,
		logger:      logger,
		provisioner: opts.Provisioner,
		supervisor:  opts.Supervisor,
		runner:      opts.Runner,
		events:      opts.Events,
		health:      opts.Health,
		state:       StateUninitialized,
	}

	if c.provisioner == nil {
		client, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build download client: %w", err)
		}
		c.provisioner = provision.New(client, tetherlog.WithComponent(logger, "provision"))
	}
	if c.supervisor == nil {
		c.supervisor = lifecycle.NewSupervisor(tetherlog.WithComponent(logger, "supervisor"))
	}
	if c.runner == nil {
		c.runner = control.NewRunner(tetherlog.WithComponent(logger, "control"))
	}
	if c.events == nil {
		c.events = lifecycle.NewEventLog(filepath.Join(cfg.StateDir, "lifecycle.log"))
	}
	if c.health == nil && cfg.HealthAddr != "" {
		probeCfg := httpclient.DefaultConfig()
		probeCfg.Timeout = healthProbeTimeout
		probeClient, err := httpclient.New(probeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build health probe client: %w", err)
		}
		c.health = lifecycle.NewHealthChecker(healthEndpoint(cfg.HealthAddr)).
			WithHTTPClient(probeClient)
	}

	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition advances the state machine. Backward or repeated requests
// are ignored, which is what makes the shutdown path idempotent.
func (c *Controller) transition(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to <= c.state {
		return
	}
	c.logger.Info("state transition",
		tetherlog.String("from", c.state.String()),
		tetherlog.String(tetherlog.StateKey, to.String()),
	)
	c.state = to
}

// Run drives the state machine to completion. It returns nil only for a
// graceful, signal-driven (or context-driven) shutdown; every fatal
// condition is returned as an error. The supervised process is stopped
// exactly once on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	watcherDone := make(chan struct{})
	defer close(watcherDone)

	// First signal triggers the shutdown path; later signals land here
	// too and are deliberately absorbed without re-entering teardown.
	// The watcher ends with Run so repeated Runs do not pile up parked
	// goroutines.
	go func() {
		for {
			var sig os.Signal
			select {
			case sig = <-sigCh:
			case <-watcherDone:
				return
			}
			c.sigMu.Lock()
			first := c.signal == nil
			if first {
				c.signal = sig
			}
			c.sigMu.Unlock()
			if first {
				c.logger.Info("termination signal received", tetherlog.String("signal", sig.String()))
				cancel()
			} else {
				c.logger.Debug("ignoring repeated termination signal", tetherlog.String("signal", sig.String()))
			}
		}
	}()

	// The one guaranteed teardown, regardless of which state the run
	// ends in.
	defer c.teardown()

	err := c.run(ctx)
	if err != nil {
		c.audit("fatal", func() error { return c.events.LogFatal(err) })
	}
	return err
}

// run executes the forward half of the state machine.
func (c *Controller) run(ctx context.Context) error {
	// provisioning
	c.transition(StateProvisioning)
	spec := c.provisionSpec()
	dir, err := c.provisioner.Ensure(ctx, spec)
	if err != nil {
		if c.interrupted() {
			return nil
		}
		if tethererrors.IsProvisionError(err) {
			return err
		}
		return tethererrors.Wrapf(err, "provisioning %s %s", spec.Name, spec.Version)
	}
	c.audit("provisioned", func() error { return c.events.LogProvisioned(spec.Version, dir) })

	// launching
	c.transition(StateLaunching)
	if err := os.MkdirAll(filepath.Dir(c.cfg.SocketPath), 0o755); err != nil {
		return tethererrors.Wrap(err, "failed to create socket directory")
	}
	handle, err := c.supervisor.Launch(
		filepath.Join(dir, DaemonBinary),
		c.daemonArgs(),
		lifecycle.LaunchOptions{Dir: c.cfg.StateDir},
	)
	if err != nil {
		return err
	}
	c.setHandle(handle)

	c.audit("launched", func() error { return c.events.LogLaunched(handle.PID, handle.Program) })

	// awaiting readiness
	c.transition(StateAwaitingReadiness)
	start := time.Now()
	ready := lifecycle.AwaitReady(ctx,
		lifecycle.SocketExists(c.cfg.SocketPath),
		c.cfg.ReadyInterval,
		c.cfg.ReadyAttempts,
	)
	if !ready {
		if c.interrupted() {
			return nil
		}
		return &tethererrors.ReadinessTimeoutError{
			Target:   c.cfg.SocketPath,
			Attempts: c.cfg.ReadyAttempts,
			Elapsed:  time.Since(start),
		}
	}
	elapsed := time.Since(start)
	c.logger.Info("daemon ready",
		tetherlog.Int(tetherlog.PIDKey, handle.PID),
		slog.Int64(tetherlog.DurationKey, elapsed.Milliseconds()),
	)
	c.audit("ready", func() error { return c.events.LogReady(handle.PID, elapsed) })

	// configuring
	c.transition(StateConfiguring)
	if err := c.runner.Run(ctx, c.upCommand(filepath.Join(dir, ClientBinary))); err != nil {
		if c.interrupted() {
			return nil
		}
		return err
	}
	c.audit("configured", func() error { return c.events.LogConfigured(handle.PID) })

	// running
	c.transition(StateRunning)
	c.logger.Info("daemon configured and running",
		tetherlog.Int(tetherlog.PIDKey, handle.PID),
		tetherlog.String("socket", c.cfg.SocketPath),
	)
	return c.keepAlive(ctx, handle)
}

// keepAlive is the running-state loop: liveness probe on every tick, plus
// a best-effort health probe that is diagnostic only and never changes
// state.
func (c *Controller) keepAlive(ctx context.Context, handle *lifecycle.Handle) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-handle.Exited():
			return c.unexpectedExit(handle)
		case <-ticker.C:
			if !handle.Alive() {
				return c.unexpectedExit(handle)
			}
			c.probeHealth(ctx, handle)
		}
	}
}

func (c *Controller) unexpectedExit(handle *lifecycle.Handle) error {
	if c.interrupted() {
		// The daemon going away while we are shutting down anyway is
		// not a failure.
		return nil
	}
	err := &tethererrors.UnexpectedExitError{PID: handle.PID, Uptime: handle.Uptime()}
	c.audit("unexpected_exit", func() error { return c.events.LogUnexpectedExit(handle.PID, handle.Uptime()) })
	return err
}

// probeHealth runs the optional diagnostic probe. Failure is logged and
// otherwise discarded.
func (c *Controller) probeHealth(ctx context.Context, handle *lifecycle.Handle) {
	if c.health == nil {
		return
	}
	result := c.health.Check(ctx)
	if result.Success {
		c.logger.Debug("health probe ok",
			tetherlog.Int("status", result.StatusCode),
			tetherlog.Duration("response", result.ResponseTime.Milliseconds()),
		)
		return
	}
	c.logger.Warn("health probe failed",
		tetherlog.String("endpoint", c.health.Endpoint()),
		tetherlog.Int("status", result.StatusCode),
		tetherlog.Error(result.Error),
	)
	c.audit("health_probe_failed", func() error { return c.events.LogHealthProbeFailed(handle.PID, c.health.Endpoint(), result.Error) })
}

// teardown stops the supervised process and runs the optional external
// hook. It executes at most once; later invocations (a second signal, an
// error path racing the signal path) are no-ops.
func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		c.transition(StateShuttingDown)

		c.runTeardownHook()

		handle := c.getHandle()
		if handle != nil {
			if err := c.supervisor.Stop(handle, c.cfg.StopTimeout); err != nil {
				c.logger.Warn("daemon did not stop cleanly",
					tetherlog.Int(tetherlog.PIDKey, handle.PID),
					tetherlog.Error(err),
				)
			}
			c.audit("shutdown", func() error { return c.events.LogShutdown(handle.PID, c.trigger()) })
			c.setHandle(nil)
		}

		c.transition(StateTerminated)
	})
}

// runTeardownHook invokes the optional external teardown executable.
// A missing hook is normal; a failing hook is a warning, never fatal.
func (c *Controller) runTeardownHook() {
	hook := c.cfg.TeardownHook
	if hook == "" {
		return
	}
	info, err := os.Stat(hook)
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return
	}

	c.logger.Info("running teardown hook", tetherlog.String("hook", hook))
	output, err := exec.Command(hook).CombinedOutput()
	if err != nil {
		c.logger.Warn("teardown hook failed",
			tetherlog.String("hook", hook),
			tetherlog.String("output", strings.TrimSpace(string(output))),
			tetherlog.Error(err),
		)
	}
}

// trigger names what ended the run, for the audit log.
func (c *Controller) trigger() string {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	if c.signal != nil {
		return c.signal.String()
	}
	return "controller"
}

// interrupted reports whether a termination signal has been received.
func (c *Controller) interrupted() bool {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return c.signal != nil
}

func (c *Controller) setHandle(handle *lifecycle.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = handle
}

func (c *Controller) getHandle() *lifecycle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// audit writes a lifecycle event, demoting failure to a warning.
func (c *Controller) audit(event string, write func() error) {
	if err := write(); err != nil {
		c.logger.Warn("failed to write lifecycle event",
			tetherlog.String(tetherlog.EventKey, event),
			tetherlog.Error(err),
		)
	}
}

// provisionSpec builds the immutable artifact description for this run.
func (c *Controller) provisionSpec() provision.Spec {
	return provision.Spec{
		Name:       ArtifactName,
		Version:    c.cfg.AgentVersion,
		Arch:       c.cfg.Arch,
		BaseURL:    c.cfg.DownloadBaseURL,
		Channel:    c.cfg.DownloadChannel,
		InstallDir: filepath.Join(c.cfg.StateDir, "bin"),
		Binaries:   []string{DaemonBinary, ClientBinary},
	}
}

// daemonArgs are the launch arguments for the supervised daemon. The
// control socket passed here is the same one every one-shot command
// addresses later.
func (c *Controller) daemonArgs() []string {
	return []string{
		"--state=" + filepath.Join(c.cfg.StateDir, "meshd.state"),
		"--socket=" + c.cfg.SocketPath,
	}
}

// upCommand is the one-shot configuration command. Flag order is fixed by
// declaration; each optional flag is gated on its own condition and
// nothing else.
func (c *Controller) upCommand(clientPath string) control.Command {
	return control.Command{
		Program: clientPath,
		Base:    []string{"--socket=" + c.cfg.SocketPath, "up"},
		Flags: []control.Flag{
			control.StringFlag("authkey", c.cfg.AuthKey),
			control.StringFlag("hostname", c.cfg.Hostname),
			control.BoolFlag("ssh", c.cfg.AdvertiseSSH),
			control.BoolFlag("advertise-exit-node", c.cfg.AdvertiseExitNode),
			control.StringFlag("advertise-tags", c.cfg.AdvertiseTags),
		},
	}
}

// healthEndpoint normalizes the configured health address into a URL.
func healthEndpoint(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr + "/healthz"
}
