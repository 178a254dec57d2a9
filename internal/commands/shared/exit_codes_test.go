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
	"errors"
	"testing"

	pkgerrors "github.com/tombee/tether/pkg/errors"
)

func TestExitMessage(t *testing.T) {
	configErr := &pkgerrors.ConfigError{
		Key:    "auth_key",
		Reason: "authentication key is required",
	}
	got := ExitMessage(configErr)
	if got != "Configuration error: "+configErr.Error() {
		t.Errorf("config error got wrong prefix: %q", got)
	}

	wrapped := pkgerrors.Wrap(configErr, "loading configuration")
	got = ExitMessage(wrapped)
	if got != "Configuration error: "+wrapped.Error() {
		t.Errorf("wrapped config error lost its prefix: %q", got)
	}

	plain := errors.New("daemon exited unexpectedly")
	got = ExitMessage(plain)
	if got != "Error: "+plain.Error() {
		t.Errorf("plain error got wrong prefix: %q", got)
	}
}
