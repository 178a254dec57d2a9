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
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestIsProcessRunning(t *testing.T) {
	t.Run("returns true for current process", func(t *testing.T) {
		if !IsProcessRunning(os.Getpid()) {
			t.Error("IsProcessRunning(os.Getpid()) = false, want true")
		}
	})

	t.Run("returns false for non-existent PID", func(t *testing.T) {
		// Use a very high PID that's unlikely to exist
		if IsProcessRunning(999999) {
			t.Error("IsProcessRunning(999999) = true, want false")
		}
	})
}

func TestSendSignal(t *testing.T) {
	t.Run("sends signal to running process", func(t *testing.T) {
		cmd := exec.Command("sleep", "60")
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start sleep process: %v", err)
		}
		defer cmd.Process.Kill()

		pid := cmd.Process.Pid

		// Send harmless signal (0 = existence check)
		if err := SendSignal(pid, syscall.Signal(0)); err != nil {
			t.Errorf("SendSignal() error = %v", err)
		}

		cmd.Process.Kill()
	})

	t.Run("returns error for non-existent process", func(t *testing.T) {
		err := SendSignal(999999, syscall.SIGTERM)
		if err == nil {
			t.Error("SendSignal() to non-existent process succeeded, want error")
		}
	})
}

func TestWaitForExit(t *testing.T) {
	t.Run("returns nil when process exits", func(t *testing.T) {
		cmd := exec.Command("sh", "-c", "exit 0")
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start process: %v", err)
		}

		pid := cmd.Process.Pid

		// Wait for process to actually exit
		cmd.Wait()

		err := WaitForExit(pid, 2*time.Second)
		if err != nil {
			t.Errorf("WaitForExit() error = %v, want nil", err)
		}
	})

	t.Run("returns timeout error for long-running process", func(t *testing.T) {
		cmd := exec.Command("sleep", "60")
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start process: %v", err)
		}
		defer cmd.Process.Kill()

		pid := cmd.Process.Pid

		err := WaitForExit(pid, 200*time.Millisecond)
		if !errors.Is(err, ErrShutdownTimeout) {
			t.Errorf("WaitForExit() error = %v, want ErrShutdownTimeout", err)
		}
	})
}

func TestGetProcessCommand(t *testing.T) {
	t.Run("returns command for running process", func(t *testing.T) {
		cmd := exec.Command("sleep", "60")
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start sleep process: %v", err)
		}
		defer cmd.Process.Kill()

		got := GetProcessCommand(cmd.Process.Pid)
		if got == "<unknown>" {
			t.Error("GetProcessCommand() = <unknown>, want the sleep command line")
		}
	})

	t.Run("returns placeholder for non-existent process", func(t *testing.T) {
		if got := GetProcessCommand(999999); got != "<unknown>" {
			t.Errorf("GetProcessCommand(999999) = %q, want <unknown>", got)
		}
	})
}
