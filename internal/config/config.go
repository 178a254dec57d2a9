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

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	tethererrors "github.com/tombee/tether/pkg/errors"
)

// AuthKeyPrefix is the literal every valid authentication key must start
// with. Keys of any other shape are rejected before anything is launched.
const AuthKeyPrefix = "mkey-"

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultStateDir        = "/var/lib/tether"
	DefaultAgentVersion    = "1.82.0"
	DefaultSocketPath      = "/var/run/tether/meshd.sock"
	DefaultDownloadBaseURL = "https://dl.meshvpn.io"
	DefaultDownloadChannel = "stable"
	DefaultTeardownHook    = "/etc/tether/teardown"
	DefaultReadyInterval   = 500 * time.Millisecond
	DefaultReadyAttempts   = 20
	DefaultTickInterval    = 5 * time.Second
	DefaultStopTimeout     = 15 * time.Second
)

// Config holds the complete tether configuration. Values are resolved in
// three layers: built-in defaults, then an optional YAML file, then
// environment variables. Environment always wins.
type Config struct {
	// StateDir is the working directory handed to the supervised daemon
	// for its state. Environment: TETHER_STATE_DIR
	StateDir string `yaml:"state_dir"`

	// AgentVersion is the version of the mesh agent binary pair to
	// provision. Environment: TETHER_AGENT_VERSION
	AgentVersion string `yaml:"agent_version"`

	// Arch overrides the target architecture used in the download URL.
	// Defaults to the build architecture. Unknown values fall back to
	// the provisioner's default with a warning, never an abort.
	// Environment: TETHER_ARCH
	Arch string `yaml:"arch"`

	// AuthKey is the authentication credential passed to the one-shot
	// up command. Required; must start with AuthKeyPrefix.
	// Environment: TETHER_AUTH_KEY
	AuthKey string `yaml:"auth_key"`

	// Hostname is the node label advertised to the mesh. Optional.
	// Environment: TETHER_HOSTNAME
	Hostname string `yaml:"hostname"`

	// AdvertiseSSH advertises SSH capability. Environment: TETHER_SSH
	AdvertiseSSH bool `yaml:"ssh"`

	// AdvertiseExitNode advertises this node as an exit node.
	// Environment: TETHER_EXIT_NODE
	AdvertiseExitNode bool `yaml:"exit_node"`

	// AdvertiseTags is a comma-separated tag list. Empty disables tag
	// advertisement. Environment: TETHER_TAGS
	AdvertiseTags string `yaml:"tags"`

	// SocketPath is the daemon control socket, passed at launch and
	// reused by every one-shot command. Environment: TETHER_SOCKET
	SocketPath string `yaml:"socket"`

	// HealthAddr is an optional HTTP address probed during the
	// keep-alive loop. Empty disables the probe.
	// Environment: TETHER_HEALTH_ADDR
	HealthAddr string `yaml:"health_addr"`

	// DownloadBaseURL is the root of the agent package mirror.
	// Environment: TETHER_DOWNLOAD_BASE_URL
	DownloadBaseURL string `yaml:"download_base_url"`

	// DownloadChannel selects the release channel inside the mirror.
	// Environment: TETHER_DOWNLOAD_CHANNEL
	DownloadChannel string `yaml:"download_channel"`

	// ReadyInterval is the pause between readiness polls.
	// Environment: TETHER_READY_INTERVAL
	ReadyInterval time.Duration `yaml:"ready_interval"`

	// ReadyAttempts bounds the readiness poll.
	// Environment: TETHER_READY_ATTEMPTS
	ReadyAttempts int `yaml:"ready_attempts"`

	// TickInterval is the keep-alive loop period.
	// Environment: TETHER_TICK_INTERVAL
	TickInterval time.Duration `yaml:"tick_interval"`

	// StopTimeout bounds the graceful-shutdown wait after SIGTERM.
	// Environment: TETHER_STOP_TIMEOUT
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// TeardownHook is an optional executable invoked before the daemon
	// is stopped. Missing hook is not an error; a failing hook is a
	// warning, never fatal. Environment: TETHER_TEARDOWN_HOOK
	TeardownHook string `yaml:"teardown_hook"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		StateDir:        DefaultStateDir,
		AgentVersion:    DefaultAgentVersion,
		Arch:            runtime.GOARCH,
		SocketPath:      DefaultSocketPath,
		DownloadBaseURL: DefaultDownloadBaseURL,
		DownloadChannel: DefaultDownloadChannel,
		ReadyInterval:   DefaultReadyInterval,
		ReadyAttempts:   DefaultReadyAttempts,
		TickInterval:    DefaultTickInterval,
		StopTimeout:     DefaultStopTimeout,
		TeardownHook:    DefaultTeardownHook,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or $TETHER_CONFIG when path is empty; a missing file is not an
// error), then environment overrides. The result is not validated; call
// Validate before acting on it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TETHER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &tethererrors.ConfigError{
					Reason: fmt.Sprintf("cannot read config file %s", path),
					Cause:  err,
				}
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &tethererrors.ConfigError{
				Reason: fmt.Sprintf("cannot parse config file %s", path),
				Cause:  err,
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) error {
	setString(&cfg.StateDir, "TETHER_STATE_DIR")
	setString(&cfg.AgentVersion, "TETHER_AGENT_VERSION")
	setString(&cfg.Arch, "TETHER_ARCH")
	setString(&cfg.AuthKey, "TETHER_AUTH_KEY")
	setString(&cfg.Hostname, "TETHER_HOSTNAME")
	setString(&cfg.AdvertiseTags, "TETHER_TAGS")
	setString(&cfg.SocketPath, "TETHER_SOCKET")
	setString(&cfg.HealthAddr, "TETHER_HEALTH_ADDR")
	setString(&cfg.DownloadBaseURL, "TETHER_DOWNLOAD_BASE_URL")
	setString(&cfg.DownloadChannel, "TETHER_DOWNLOAD_CHANNEL")
	setString(&cfg.TeardownHook, "TETHER_TEARDOWN_HOOK")

	if err := setBool(&cfg.AdvertiseSSH, "TETHER_SSH"); err != nil {
		return err
	}
	if err := setBool(&cfg.AdvertiseExitNode, "TETHER_EXIT_NODE"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ReadyInterval, "TETHER_READY_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.TickInterval, "TETHER_TICK_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.StopTimeout, "TETHER_STOP_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&cfg.ReadyAttempts, "TETHER_READY_ATTEMPTS"); err != nil {
		return err
	}

	return nil
}

// Validate checks the configuration for fatal problems. It must pass
// before any network or process side effect happens.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AuthKey) == "" {
		return &tethererrors.ConfigError{
			Key:    "auth_key",
			Reason: "authentication key is required (set TETHER_AUTH_KEY)",
		}
	}
	if !strings.HasPrefix(c.AuthKey, AuthKeyPrefix) {
		return &tethererrors.ConfigError{
			Key:    "auth_key",
			Reason: fmt.Sprintf("authentication key must start with %q", AuthKeyPrefix),
		}
	}
	if c.AgentVersion == "" {
		return &tethererrors.ConfigError{
			Key:    "agent_version",
			Reason: "agent version must not be empty",
		}
	}
	if c.SocketPath == "" {
		return &tethererrors.ConfigError{
			Key:    "socket",
			Reason: "control socket path must not be empty",
		}
	}
	if c.ReadyAttempts <= 0 {
		return &tethererrors.ConfigError{
			Key:    "ready_attempts",
			Reason: fmt.Sprintf("readiness attempts must be positive, got %d", c.ReadyAttempts),
		}
	}
	if c.ReadyInterval <= 0 {
		return &tethererrors.ConfigError{
			Key:    "ready_interval",
			Reason: fmt.Sprintf("readiness interval must be positive, got %v", c.ReadyInterval),
		}
	}
	if c.TickInterval <= 0 {
		return &tethererrors.ConfigError{
			Key:    "tick_interval",
			Reason: fmt.Sprintf("tick interval must be positive, got %v", c.TickInterval),
		}
	}
	if c.StopTimeout <= 0 {
		return &tethererrors.ConfigError{
			Key:    "stop_timeout",
			Reason: fmt.Sprintf("stop timeout must be positive, got %v", c.StopTimeout),
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return &tethererrors.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("invalid boolean %q", v),
			Cause:  err,
		}
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return &tethererrors.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("invalid duration %q", v),
			Cause:  err,
		}
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return &tethererrors.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("invalid integer %q", v),
			Cause:  err,
		}
	}
	*dst = parsed
	return nil
}
