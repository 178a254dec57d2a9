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

package controller

// State is the controller's lifecycle phase. Transitions are monotonic:
// the controller only ever moves forward through this sequence, so a
// repeated or late transition request to an earlier phase is a no-op.
type State int

const (
	StateUninitialized State = iota
	StateProvisioning
	StateLaunching
	StateAwaitingReadiness
	StateConfiguring
	StateRunning
	StateShuttingDown
	StateTerminated
)

// String returns the state's name for logging.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProvisioning:
		return "provisioning"
	case StateLaunching:
		return "launching"
	case StateAwaitingReadiness:
		return "awaiting-readiness"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
