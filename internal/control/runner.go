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

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	tethererrors "github.com/tombee/tether/pkg/errors"
)

// Runner executes control commands synchronously.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a command runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run builds and executes the command, blocking until it finishes. A
// non-zero exit is reported as a *errors.CommandError carrying the
// captured combined output; whether that is fatal is the caller's
// decision.
func (r *Runner) Run(ctx context.Context, cmd Command) error {
	args := cmd.Build()

	r.logger.Debug("running control command",
		slog.String("program", cmd.Program),
		slog.Any("args", args),
	)

	execCmd := exec.CommandContext(ctx, cmd.Program, args...)
	output, err := execCmd.CombinedOutput()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &tethererrors.CommandError{
			Program:  cmd.Program,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Output:   string(output),
		}
	}

	return fmt.Errorf("failed to run %s: %w", cmd.Program, err)
}
