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
	"context"
	"net"
	"os"
	"time"
)

// Predicate is a side-effect-free readiness probe.
type Predicate func() bool

// AwaitReady polls predicate at a fixed interval up to maxAttempts times.
// It returns true on the first success without performing further polls,
// and false once the attempt budget is exhausted or ctx is cancelled.
// Exhaustion is never an error here; the caller decides whether it is
// fatal.
func AwaitReady(ctx context.Context, predicate Predicate, interval time.Duration, maxAttempts int) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if predicate() {
			return true
		}
		if attempt == maxAttempts {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return false
}

// SocketExists reports readiness once the given path exists. Daemons that
// expose a control socket create it when they are ready to serve.
func SocketExists(path string) Predicate {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}

// TCPReachable reports readiness once a TCP connection to addr succeeds.
func TCPReachable(addr string) Predicate {
	return func() bool {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
