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

package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// LaunchOptions configures how the supervised process is started.
type LaunchOptions struct {
	// Dir is the working directory for the process. Empty inherits ours.
	Dir string

	// Env is the environment for the process. Nil inherits ours.
	Env []string

	// LogPath redirects the process's stdout/stderr to an append-only
	// file. Empty inherits our stdout/stderr, which in a container is
	// usually what the operator wants.
	LogPath string
}

// Handle identifies a launched process. It is exclusively owned by the
// Supervisor that created it and stays valid after the process exits
// (liveness queries simply report false).
type Handle struct {
	// PID of the launched process.
	PID int

	// Program is the launched executable.
	Program string

	// Args are the arguments the process was started with.
	Args []string

	// StartedAt is when the process was spawned.
	StartedAt time.Time

	done    chan struct{}
	exitErr error
	once    sync.Once
}

// markExited records the process exit. Safe to call more than once.
func (h *Handle) markExited(err error) {
	h.once.Do(func() {
		h.exitErr = err
		close(h.done)
	})
}

// Alive performs a non-blocking liveness probe. It never errors: a
// process that already exited simply reports false.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	// The reaper goroutine collects the exit status the moment the
	// process dies, so the signal-0 probe here never sees a zombie.
	return IsProcessRunning(h.PID)
}

// Uptime is how long the process has been (or was) running.
func (h *Handle) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}

// Exited returns a channel closed when the process has exited.
func (h *Handle) Exited() <-chan struct{} {
	return h.done
}

// Supervisor launches and stops long-running background processes. Each
// Launch produces an independent handle; launching again does not
// implicitly stop an earlier process.
type Supervisor struct {
	logger *slog.Logger
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Launch starts the program as a detached background process and returns
// a handle without blocking on completion. The process runs in its own
// process group and session so terminal signals aimed at us do not reach
// it directly; shutdown is the supervisor's job.
func (s *Supervisor) Launch(program string, args []string, opts LaunchOptions) (*Handle, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	var logFile *os.File
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		Program:   program,
		Args:      args,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	s.logger.Info("process launched",
		slog.Int("pid", handle.PID),
		slog.String("program", program),
	)

	// Reap the child as soon as it exits so the liveness probe never
	// reports a zombie as alive.
	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		handle.markExited(err)
	}()

	return handle, nil
}

// Stop sends SIGTERM and blocks up to timeout for the process to exit.
// Stopping an already-dead process succeeds immediately. If the process
// is still running when the timeout expires, ErrShutdownTimeout is
// returned; there is deliberately no SIGKILL escalation.
func (s *Supervisor) Stop(handle *Handle, timeout time.Duration) error {
	if !handle.Alive() {
		return nil
	}

	if err := SendSignal(handle.PID, syscall.SIGTERM); err != nil {
		// The process may have exited between the probe and the signal.
		if !handle.Alive() {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	s.logger.Info("waiting for process to exit",
		slog.Int("pid", handle.PID),
		slog.Duration("timeout", timeout),
	)

	select {
	case <-handle.done:
		return nil
	case <-time.After(timeout):
		// The survivor's actual command line beats the launch-time
		// arguments when an operator has to work out what is wedged.
		s.logger.Warn("process ignored SIGTERM",
			slog.Int("pid", handle.PID),
			slog.String("command", GetProcessCommand(handle.PID)),
		)
		return ErrShutdownTimeout
	}
}
