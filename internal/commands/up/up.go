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

package up

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/tether/internal/commands/shared"
	"github.com/tombee/tether/internal/config"
	"github.com/tombee/tether/internal/controller"
	tetherlog "github.com/tombee/tether/internal/log"
)

// NewUpCommand creates the up command, the container entrypoint.
func NewUpCommand() *cobra.Command {
	var (
		authKey      string
		hostname     string
		stateDir     string
		socket       string
		agentVersion string
		ssh          bool
		exitNode     bool
		tags         string
		stopTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision, launch, and supervise the mesh agent",
		Long: `Provision the mesh agent binaries, launch the daemon, wait for its
control socket, join the mesh with the configured credential, and
supervise the daemon until a termination signal arrives.

Configuration is read from the YAML config file and TETHER_*
environment variables; flags override both. The command blocks for the
lifetime of the container and exits 0 only after a graceful,
signal-driven shutdown.`,
		Example: `  # Supervise with an auth key from the environment
  TETHER_AUTH_KEY=mkey-... tether up

  # Advertise SSH and tags
  tether up --ssh --tags tag:ci,tag:ephemeral

  # Custom state directory and socket
  tether up --state-dir /data/tether --socket /run/meshd.sock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(shared.GetConfigPath())
			if err != nil {
				return err
			}

			// Flag overrides
			if cmd.Flags().Changed("authkey") {
				cfg.AuthKey = authKey
			}
			if cmd.Flags().Changed("hostname") {
				cfg.Hostname = hostname
			}
			if cmd.Flags().Changed("state-dir") {
				cfg.StateDir = stateDir
			}
			if cmd.Flags().Changed("socket") {
				cfg.SocketPath = socket
			}
			if cmd.Flags().Changed("agent-version") {
				cfg.AgentVersion = agentVersion
			}
			if cmd.Flags().Changed("ssh") {
				cfg.AdvertiseSSH = ssh
			}
			if cmd.Flags().Changed("advertise-exit-node") {
				cfg.AdvertiseExitNode = exitNode
			}
			if cmd.Flags().Changed("tags") {
				cfg.AdvertiseTags = tags
			}
			if cmd.Flags().Changed("stop-timeout") {
				cfg.StopTimeout = stopTimeout
			}

			return runUp(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&authKey, "authkey", "", "Mesh authentication key (mkey-...)")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Node hostname advertised to the mesh")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "State directory for binaries and daemon state")
	cmd.Flags().StringVar(&socket, "socket", "", "Daemon control socket path")
	cmd.Flags().StringVar(&agentVersion, "agent-version", "", "Agent version to provision")
	cmd.Flags().BoolVar(&ssh, "ssh", false, "Advertise SSH capability")
	cmd.Flags().BoolVar(&exitNode, "advertise-exit-node", false, "Advertise this node as an exit node")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated node tags")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 0, "Graceful stop timeout for the daemon")

	return cmd
}

// runUp validates the configuration and hands off to the controller.
// Validation happens before any side effect so a bad credential fails
// the run without touching the network or the filesystem.
func runUp(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := tetherlog.FromEnv()
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	logger := tetherlog.New(logCfg)

	logger.Info("starting mesh agent supervisor",
		tetherlog.String("version", cfg.AgentVersion),
		tetherlog.String("arch", cfg.Arch),
		tetherlog.String("state_dir", cfg.StateDir),
		tetherlog.String("socket", cfg.SocketPath),
		tetherlog.String("authkey", tetherlog.SanitizeAuthKey(cfg.AuthKey)),
		tetherlog.Bool("ssh", cfg.AdvertiseSSH),
		tetherlog.Bool("exit_node", cfg.AdvertiseExitNode),
	)

	ctrl, err := controller.New(cfg, logger, controller.Options{})
	if err != nil {
		return err
	}

	return ctrl.Run(ctx)
}
