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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ConfigError represents configuration problems.
// Use this for missing required settings or malformed config values.
// Config errors are always fatal and are detected before any process
// is provisioned or launched.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "auth_key")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// DownloadError represents a failed artifact download.
// Use this when the transfer itself fails or the server returns a
// non-success status.
type DownloadError struct {
	// URL is the artifact URL that failed
	URL string

	// StatusCode is the HTTP status code (0 if the transport failed)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("download failed [HTTP %d]: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("download failed: %s: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// ExtractionError represents a corrupt or incomplete archive.
// Use this when unpacking fails or an expected entry is missing.
type ExtractionError struct {
	// Archive identifies the archive being unpacked
	Archive string

	// Reason explains what went wrong
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.Archive, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// ReadinessTimeoutError is returned when the supervised process never
// reaches an operable state within the readiness budget.
type ReadinessTimeoutError struct {
	// Target describes what was polled (e.g., a socket path)
	Target string

	// Attempts is how many polls were performed
	Attempts int

	// Elapsed is the total time spent polling
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("readiness check for %s exhausted after %d attempts (%v)", e.Target, e.Attempts, e.Elapsed)
}

// CommandError represents a one-shot control command that exited non-zero.
// It carries the captured diagnostic output so the operator can see what
// the wrapped binary reported. Whether a CommandError is fatal is the
// caller's decision.
type CommandError struct {
	// Program is the executed binary
	Program string

	// Args are the arguments the command was invoked with
	Args []string

	// ExitCode is the command's exit code
	ExitCode int

	// Output is the captured combined stdout/stderr
	Output string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s exited with code %d", e.Program, strings.Join(e.Args, " "), e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s: %s", msg, out)
	}
	return msg
}

// UnexpectedExitError is returned when the supervised process dies while
// the controller is in the running state.
type UnexpectedExitError struct {
	// PID is the process that died
	PID int

	// Uptime is how long the process had been running
	Uptime time.Duration
}

// Error implements the error interface.
func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("supervised process %d exited unexpectedly after %v", e.PID, e.Uptime)
}
