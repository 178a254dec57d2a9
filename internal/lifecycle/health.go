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
	"fmt"
	"net/http"
	"time"
)

// HealthChecker performs diagnostic probes against an HTTP endpoint.
// Probe failures are information, not state: the keep-alive loop logs
// them and moves on.
type HealthChecker struct {
	endpoint string
	client   *http.Client
}

// HealthCheckResult contains the result of a health check attempt.
type HealthCheckResult struct {
	Success      bool
	StatusCode   int
	ResponseTime time.Duration
	Error        error
}

// NewHealthChecker creates a new health checker for the given endpoint.
func NewHealthChecker(endpoint string) *HealthChecker {
	return &HealthChecker{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom HTTP client.
func (h *HealthChecker) WithHTTPClient(client *http.Client) *HealthChecker {
	h.client = client
	return h
}

// Endpoint returns the probed endpoint.
func (h *HealthChecker) Endpoint() string {
	return h.endpoint
}

// Check performs a single health check.
func (h *HealthChecker) Check(ctx context.Context) *HealthCheckResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return &HealthCheckResult{
			Success: false,
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	resp, err := h.client.Do(req)
	responseTime := time.Since(start)

	if err != nil {
		return &HealthCheckResult{
			Success:      false,
			ResponseTime: responseTime,
			Error:        fmt.Errorf("request failed: %w", err),
		}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	return &HealthCheckResult{
		Success:      success,
		StatusCode:   resp.StatusCode,
		ResponseTime: responseTime,
		Error:        nil,
	}
}
