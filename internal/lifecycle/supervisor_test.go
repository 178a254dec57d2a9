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
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisorLaunch(t *testing.T) {
	t.Run("returns a live handle without blocking", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		start := time.Now()
		handle, err := sup.Launch("sleep", []string{"60"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		defer SendSignal(handle.PID, syscall.SIGKILL)

		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("Launch() blocked for %v", elapsed)
		}
		if handle.PID <= 0 {
			t.Errorf("Launch() PID = %d, want positive", handle.PID)
		}
		if !handle.Alive() {
			t.Error("Alive() = false immediately after launch, want true")
		}
		if handle.StartedAt.IsZero() {
			t.Error("StartedAt is zero")
		}
	})

	t.Run("returns error for missing binary", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		_, err := sup.Launch("/nonexistent/definitely-not-a-binary", nil, LaunchOptions{})
		if err == nil {
			t.Fatal("Launch() of missing binary succeeded, want error")
		}
	})

	t.Run("redirects output to log file", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())
		logPath := filepath.Join(t.TempDir(), "logs", "daemon.log")

		handle, err := sup.Launch("sh", []string{"-c", "echo hello-from-daemon"}, LaunchOptions{LogPath: logPath})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}

		select {
		case <-handle.Exited():
		case <-time.After(5 * time.Second):
			t.Fatal("process did not exit")
		}

		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if string(data) != "hello-from-daemon\n" {
			t.Errorf("log file content = %q", string(data))
		}
	})

	t.Run("second launch does not stop the first", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		first, err := sup.Launch("sleep", []string{"60"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		defer SendSignal(first.PID, syscall.SIGKILL)

		second, err := sup.Launch("sleep", []string{"60"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		defer SendSignal(second.PID, syscall.SIGKILL)

		if !first.Alive() {
			t.Error("first handle died after second launch")
		}
		if !second.Alive() {
			t.Error("second handle not alive")
		}
		if first.PID == second.PID {
			t.Error("handles share a PID")
		}
	})
}

func TestHandleAlive(t *testing.T) {
	t.Run("reports false after exit without erroring", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		handle, err := sup.Launch("sh", []string{"-c", "exit 0"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}

		select {
		case <-handle.Exited():
		case <-time.After(5 * time.Second):
			t.Fatal("process did not exit")
		}

		if handle.Alive() {
			t.Error("Alive() = true for exited process, want false")
		}
	})
}

func TestSupervisorStop(t *testing.T) {
	t.Run("stops a running process", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		handle, err := sup.Launch("sleep", []string{"60"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		defer SendSignal(handle.PID, syscall.SIGKILL)

		if err := sup.Stop(handle, 5*time.Second); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		if handle.Alive() {
			t.Error("process still alive after Stop()")
		}
	})

	t.Run("is a no-op for an exited process", func(t *testing.T) {
		sup := NewSupervisor(quietLogger())

		handle, err := sup.Launch("sh", []string{"-c", "exit 0"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}

		select {
		case <-handle.Exited():
		case <-time.After(5 * time.Second):
			t.Fatal("process did not exit")
		}

		if err := sup.Stop(handle, time.Second); err != nil {
			t.Errorf("Stop() on exited process error = %v, want nil", err)
		}
	})

	t.Run("times out without force kill", func(t *testing.T) {
		var logBuf bytes.Buffer
		sup := NewSupervisor(slog.New(slog.NewTextHandler(&logBuf, nil)))

		// Child that ignores SIGTERM.
		handle, err := sup.Launch("sh", []string{"-c", "trap '' TERM; sleep 60"}, LaunchOptions{})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		defer SendSignal(handle.PID, syscall.SIGKILL)

		// Give the shell a moment to install the trap.
		time.Sleep(200 * time.Millisecond)

		err = sup.Stop(handle, 500*time.Millisecond)
		if !errors.Is(err, ErrShutdownTimeout) {
			t.Errorf("Stop() error = %v, want ErrShutdownTimeout", err)
		}

		// No escalation: the process must still be running.
		if !handle.Alive() {
			t.Error("process was killed despite no force-kill escalation")
		}

		// The timeout diagnostic names the surviving command line.
		if !strings.Contains(logBuf.String(), "sleep 60") {
			t.Errorf("timeout log missing survivor command line:\n%s", logBuf.String())
		}
	})
}
