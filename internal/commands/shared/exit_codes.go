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

package shared

import (
	"fmt"
	"os"

	pkgerrors "github.com/tombee/tether/pkg/errors"
)

// Exit codes. A graceful, signal-driven shutdown is success; every fatal
// condition maps to the failure code so orchestrators can restart on any
// non-zero exit.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// HandleExitError prints err and exits with the failure code. A nil err
// is a no-op.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, ExitMessage(err))
	os.Exit(ExitFailure)
}

// ExitMessage renders a fatal error for the terminal. Configuration
// mistakes get their own prefix: they are the one fatal class the
// operator fixes by editing input, not by looking at the daemon.
func ExitMessage(err error) string {
	if pkgerrors.IsConfigError(err) {
		return "Configuration error: " + err.Error()
	}
	return "Error: " + err.Error()
}
