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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event (launch, ready, shutdown, etc.).
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Event     string    `json:"event"` // "provisioned", "launched", "ready", ...
	PID       int       `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLog appends lifecycle events to a JSON-lines audit file. Every
// event from one tether run carries the same generated run identifier so
// restarts are easy to tell apart. Writing is best-effort: callers treat
// a write failure as a warning, never as a reason to change state.
type EventLog struct {
	logPath string
	runID   string
}

// NewEventLog creates an event log writing to logPath.
func NewEventLog(logPath string) *EventLog {
	return &EventLog{
		logPath: logPath,
		runID:   uuid.NewString(),
	}
}

// RunID returns the identifier stamped on every event of this run.
func (l *EventLog) RunID() string {
	return l.runID
}

// LogProvisioned records successful binary provisioning.
func (l *EventLog) LogProvisioned(version, dir string) error {
	return l.write(Event{
		Event:   "provisioned",
		Success: true,
		Message: fmt.Sprintf("Binaries version %s available at %s", version, dir),
	})
}

// LogLaunched records the daemon spawn.
func (l *EventLog) LogLaunched(pid int, program string) error {
	return l.write(Event{
		Event:   "launched",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Daemon %s launched", program),
	})
}

// LogReady records a successful readiness gate.
func (l *EventLog) LogReady(pid int, elapsed time.Duration) error {
	return l.write(Event{
		Event:   "ready",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Daemon ready after %v", elapsed),
	})
}

// LogConfigured records a successful one-shot configuration command.
func (l *EventLog) LogConfigured(pid int) error {
	return l.write(Event{
		Event:   "configured",
		PID:     pid,
		Success: true,
		Message: "Configuration command applied",
	})
}

// LogHealthProbeFailed records a failed (non-fatal) health probe.
func (l *EventLog) LogHealthProbeFailed(pid int, endpoint string, err error) error {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return l.write(Event{
		Event:   "health_probe_failed",
		PID:     pid,
		Success: false,
		Message: fmt.Sprintf("Health probe against %s failed", endpoint),
		Error:   errMsg,
	})
}

// LogUnexpectedExit records the daemon dying while supervised.
func (l *EventLog) LogUnexpectedExit(pid int, uptime time.Duration) error {
	return l.write(Event{
		Event:   "unexpected_exit",
		PID:     pid,
		Success: false,
		Message: fmt.Sprintf("Daemon exited unexpectedly after %v", uptime),
	})
}

// LogShutdown records a graceful shutdown.
func (l *EventLog) LogShutdown(pid int, trigger string) error {
	return l.write(Event{
		Event:   "shutdown",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Shutdown triggered by %s", trigger),
	})
}

// LogFatal records the error that terminated the run.
func (l *EventLog) LogFatal(err error) error {
	return l.write(Event{
		Event:   "fatal",
		Success: false,
		Message: "Run terminated",
		Error:   err.Error(),
	})
}

// write appends an event to the log file.
func (l *EventLog) write(event Event) error {
	event.Timestamp = time.Now()
	event.RunID = l.runID

	logDir := filepath.Dir(l.logPath)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}
