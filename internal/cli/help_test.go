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

package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
)

func TestHelpCommandJSON(t *testing.T) {
	// Create a minimal root command for testing
	rootCmd := &cobra.Command{
		Use:   "test",
		Short: "Test command",
	}

	// Add persistent flags to simulate global flags
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	// Add a sample subcommand
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample subcommand",
		Long:  "This is a sample subcommand for testing",
		Example: `  test sample
  test sample --flag value`,
	}
	sampleCmd.Flags().String("flag", "", "A sample flag")
	rootCmd.AddCommand(sampleCmd)

	// Create help command and set it as the help command for root
	helpCmd := NewHelpCommand(rootCmd)
	rootCmd.SetHelpCommand(helpCmd)

	tests := []struct {
		name        string
		args        []string
		wantCommand string
	}{
		{
			name:        "help --json lists all commands",
			args:        []string{"--json"},
			wantCommand: "help",
		},
		{
			name:        "help sample --json shows specific command",
			args:        []string{"sample", "--json"},
			wantCommand: "help sample",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			rootCmd.SetOut(buf)
			rootCmd.SetErr(buf)

			// Construct full args including "help"
			fullArgs := append([]string{"help"}, tt.args...)
			rootCmd.SetArgs(fullArgs)

			if err := rootCmd.Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			var resp HelpResponse
			if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, buf.String())
			}

			if resp.JSONResponse.Command != tt.wantCommand {
				t.Errorf("expected command %q, got %q", tt.wantCommand, resp.JSONResponse.Command)
			}
			if !resp.Success {
				t.Error("expected success to be true")
			}
			if resp.DocsURL == "" {
				t.Error("expected docs URL to be set")
			}
		})
	}
}

func TestExtractCommandMetadata(t *testing.T) {
	cmd := &cobra.Command{
		Use:     "testcmd",
		Short:   "Test command",
		Long:    "This is a longer description",
		Example: "testcmd --flag value",
		Aliases: []string{"tc"},
	}
	cmd.Flags().String("flag", "default", "A test flag")
	cmd.Flags().Bool("bool-flag", false, "A boolean flag")

	metadata := extractCommandMetadata(cmd)

	if metadata.Name != "testcmd" {
		t.Errorf("expected name 'testcmd', got %s", metadata.Name)
	}
	if metadata.Short != "Test command" {
		t.Errorf("expected short 'Test command', got %s", metadata.Short)
	}
	if len(metadata.Flags) != 2 {
		t.Errorf("expected 2 flags, got %d", len(metadata.Flags))
	}
	if len(metadata.Aliases) != 1 || metadata.Aliases[0] != "tc" {
		t.Errorf("expected alias 'tc', got %v", metadata.Aliases)
	}
}
