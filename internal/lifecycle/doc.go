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

/*
Package lifecycle manages the supervised daemon's process lifecycle.

This package provides detached process launching with a tracked handle,
non-blocking liveness probes, bounded graceful shutdown, a readiness gate,
a diagnostic health prober, and lifecycle event logging.

# Process Supervision

Launch starts the daemon as a detached background process and returns a
handle. The handle answers liveness queries without blocking and without
ever erroring on an already-dead process:

	sup := lifecycle.NewSupervisor(logger)
	handle, err := sup.Launch("/opt/mesh/meshd", args, lifecycle.LaunchOptions{})
	if err != nil {
	    // Handle error
	}

	if handle.Alive() {
	    // daemon still running
	}

Stop sends SIGTERM and waits up to a timeout for the process to exit.
There is no SIGKILL escalation: a process that ignores SIGTERM past the
timeout is reported via ErrShutdownTimeout and left to the outer
supervisor.

# Readiness Gate

AwaitReady polls a predicate at a fixed interval with a bounded attempt
budget. It reports outcome; deciding whether exhaustion is fatal is the
caller's business:

	ready := lifecycle.AwaitReady(ctx, lifecycle.SocketExists(sock), 500*time.Millisecond, 20)
	if !ready {
	    // stop the daemon, abort startup
	}

# Lifecycle Logging

All lifecycle events are appended to a JSON-lines audit log, correlated
by a per-run identifier:

	events := lifecycle.NewEventLog(logPath)
	events.LogLaunched(pid, program)
*/
package lifecycle
