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

// Package provision ensures a versioned external binary pair is present
// and executable at a known path, fetching and unpacking the release
// archive when absent.
//
// Provisioning is idempotent: when the install directory already holds
// every expected binary, Ensure returns without any network access. The
// install directory is never left half-populated; extraction happens in a
// scratch directory that is atomically renamed into place.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	tethererrors "github.com/tombee/tether/pkg/errors"
)

// DefaultArch is the architecture used when the requested identifier is
// not in the known enumeration.
const DefaultArch = "amd64"

// archAliases maps common CPU architecture identifiers (both uname -m and
// Go toolchain spellings) to the identifiers used in release archive names.
var archAliases = map[string]string{
	"x86_64":  "amd64",
	"amd64":   "amd64",
	"aarch64": "arm64",
	"arm64":   "arm64",
	"armv7l":  "arm",
	"arm":     "arm",
	"i686":    "386",
	"386":     "386",
}

// Spec describes the artifact to provision. Created once at startup and
// immutable thereafter.
type Spec struct {
	// Name is the artifact base name (e.g., "mesh").
	Name string

	// Version is the release version string.
	Version string

	// Arch is the raw target architecture identifier. Unknown values
	// fall back to DefaultArch with a warning.
	Arch string

	// BaseURL is the root of the package mirror.
	BaseURL string

	// Channel is the release channel path element (e.g., "stable").
	Channel string

	// InstallDir is where the binaries land. The directory is either
	// fully populated with every entry of Binaries or absent.
	InstallDir string

	// Binaries are the executables the archive must contain.
	Binaries []string

	// ArchiveExt is the archive extension (default "tgz").
	ArchiveExt string
}

// URL renders the download location:
// <base>/<channel>/<name>_<version>_<arch>.<ext>
func (s Spec) URL(arch string) string {
	ext := s.ArchiveExt
	if ext == "" {
		ext = "tgz"
	}
	return fmt.Sprintf("%s/%s/%s_%s_%s.%s", s.BaseURL, s.Channel, s.Name, s.Version, arch, ext)
}

// Provisioner downloads and installs binary artifacts.
type Provisioner struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Provisioner using the given HTTP client.
func New(client *http.Client, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		client: client,
		logger: logger,
	}
}

// ResolveArch maps a raw architecture identifier to an archive
// architecture. Unknown identifiers are not fatal: a warning is logged
// and DefaultArch is used.
func (p *Provisioner) ResolveArch(raw string) string {
	if mapped, ok := archAliases[raw]; ok {
		return mapped
	}
	p.logger.Warn("unknown target architecture, falling back to default",
		slog.String("arch", raw),
		slog.String("default", DefaultArch),
	)
	return DefaultArch
}

// Ensure guarantees the spec's binaries are present and executable under
// spec.InstallDir, downloading and unpacking the archive if needed.
// Returns the install directory.
func (p *Provisioner) Ensure(ctx context.Context, spec Spec) (string, error) {
	if p.installed(spec) {
		p.logger.Debug("binaries already provisioned",
			slog.String("dir", spec.InstallDir),
			slog.String("version", spec.Version),
		)
		return spec.InstallDir, nil
	}

	arch := p.ResolveArch(spec.Arch)
	url := spec.URL(arch)

	p.logger.Info("provisioning binaries",
		slog.String("url", url),
		slog.String("version", spec.Version),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &tethererrors.DownloadError{URL: url, Cause: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &tethererrors.DownloadError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &tethererrors.DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	// Unpack into a scratch directory next to the final location so the
	// rename below stays on one filesystem.
	partial := spec.InstallDir + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return "", &tethererrors.ExtractionError{Archive: url, Reason: "cannot clear stale partial directory", Cause: err}
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return "", &tethererrors.ExtractionError{Archive: url, Reason: "cannot create extraction directory", Cause: err}
	}

	if err := extractTarGz(resp.Body, partial); err != nil {
		os.RemoveAll(partial)
		return "", &tethererrors.ExtractionError{Archive: url, Reason: "archive unpack failed", Cause: err}
	}

	// Verify every expected binary made it out of the archive.
	for _, name := range spec.Binaries {
		path := filepath.Join(partial, name)
		info, err := os.Stat(path)
		if err != nil {
			os.RemoveAll(partial)
			return "", &tethererrors.ExtractionError{
				Archive: url,
				Reason:  fmt.Sprintf("archive is missing expected entry %q", name),
				Cause:   err,
			}
		}
		if info.Mode()&0o111 == 0 {
			if err := os.Chmod(path, 0o755); err != nil {
				os.RemoveAll(partial)
				return "", &tethererrors.ExtractionError{Archive: url, Reason: fmt.Sprintf("cannot mark %q executable", name), Cause: err}
			}
		}
	}

	// Swap the fully populated directory into place. A previous install
	// that failed the installed() check is incomplete and gets replaced.
	if err := os.RemoveAll(spec.InstallDir); err != nil {
		os.RemoveAll(partial)
		return "", &tethererrors.ExtractionError{Archive: url, Reason: "cannot remove incomplete install directory", Cause: err}
	}
	if err := os.Rename(partial, spec.InstallDir); err != nil {
		os.RemoveAll(partial)
		return "", &tethererrors.ExtractionError{Archive: url, Reason: "cannot move binaries into place", Cause: err}
	}

	p.logger.Info("binaries provisioned",
		slog.String("dir", spec.InstallDir),
		slog.String("version", spec.Version),
	)
	return spec.InstallDir, nil
}

// installed reports whether every expected binary already exists in the
// install directory with an execute bit set.
func (p *Provisioner) installed(spec Spec) bool {
	if len(spec.Binaries) == 0 {
		return false
	}
	for _, name := range spec.Binaries {
		info, err := os.Stat(filepath.Join(spec.InstallDir, name))
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			return false
		}
	}
	return true
}
