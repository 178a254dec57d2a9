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

// Package control builds and executes one-shot configuration commands
// against an already-running supervised daemon.
//
// Arguments are declared as an ordered list of conditionally-included
// flags instead of ad hoc string concatenation, so the rendered argument
// list is deterministic and testable without executing anything.
package control

import (
	"fmt"
)

// Flag is a conditionally-rendered command argument. Render is consulted
// only when When reports true. Flags are independent of each other; a
// flag's inclusion never depends on another flag's value.
type Flag struct {
	When   func() bool
	Render func() []string
}

// BoolFlag renders --name when enabled.
func BoolFlag(name string, enabled bool) Flag {
	return Flag{
		When:   func() bool { return enabled },
		Render: func() []string { return []string{"--" + name} },
	}
}

// StringFlag renders --name=value when value is non-empty.
func StringFlag(name, value string) Flag {
	return Flag{
		When:   func() bool { return value != "" },
		Render: func() []string { return []string{fmt.Sprintf("--%s=%s", name, value)} },
	}
}

// Command describes a one-shot control invocation: a program, its fixed
// base arguments, and an ordered set of gated flags.
type Command struct {
	// Program is the binary to execute.
	Program string

	// Base are the arguments that always appear, in order, before any
	// gated flag (e.g., the subcommand and the control socket).
	Base []string

	// Flags are evaluated in declared order; each contributes its
	// rendered form only when its condition holds.
	Flags []Flag
}

// Build produces the full argument list. The result is stable across
// calls: flags appear in declaration order, and a flag whose condition is
// false yields exactly the same output as a flag that was never declared.
func (c Command) Build() []string {
	args := make([]string, 0, len(c.Base)+len(c.Flags))
	args = append(args, c.Base...)
	for _, f := range c.Flags {
		if f.When() {
			args = append(args, f.Render()...)
		}
	}
	return args
}
