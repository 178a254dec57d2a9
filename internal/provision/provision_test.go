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

package provision

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tethererrors "github.com/tombee/tether/pkg/errors"
)

// makeArchive builds a gzip-compressed tarball holding the given entries
// under a release-style top-level directory.
func makeArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range entries {
		hdr := &tar.Header{
			Name: "mesh_1.82.0/" + name,
			Mode: 0o755,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSpec(installDir, baseURL string) Spec {
	return Spec{
		Name:       "mesh",
		Version:    "1.82.0",
		Arch:       "amd64",
		BaseURL:    baseURL,
		Channel:    "stable",
		InstallDir: installDir,
		Binaries:   []string{"meshd", "mesh"},
	}
}

func TestSpecURL(t *testing.T) {
	spec := testSpec("/opt/mesh", "https://dl.example.com")
	assert.Equal(t, "https://dl.example.com/stable/mesh_1.82.0_amd64.tgz", spec.URL("amd64"))

	spec.ArchiveExt = "tar.gz"
	assert.Equal(t, "https://dl.example.com/stable/mesh_1.82.0_arm64.tar.gz", spec.URL("arm64"))
}

func TestResolveArch(t *testing.T) {
	p := New(http.DefaultClient, testLogger())

	tests := []struct {
		raw  string
		want string
	}{
		{"x86_64", "amd64"},
		{"amd64", "amd64"},
		{"aarch64", "arm64"},
		{"arm64", "arm64"},
		{"armv7l", "arm"},
		{"i686", "386"},
		{"riscv64", DefaultArch}, // unmapped falls back, never aborts
		{"", DefaultArch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ResolveArch(tt.raw), "arch %q", tt.raw)
	}
}

func TestResolveArchLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	p := New(http.DefaultClient, logger)
	got := p.ResolveArch("riscv64")

	assert.Equal(t, DefaultArch, got)
	assert.Contains(t, buf.String(), "riscv64")
	assert.Contains(t, buf.String(), "falling back")
}

func TestEnsureDownloadsAndInstalls(t *testing.T) {
	archive := makeArchive(t, map[string]string{
		"meshd": "#!/bin/sh\necho daemon\n",
		"mesh":  "#!/bin/sh\necho client\n",
	})

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/stable/mesh_1.82.0_amd64.tgz", r.URL.Path)
		w.Write(archive)
	}))
	defer server.Close()

	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(server.Client(), testLogger())

	dir, err := p.Ensure(context.Background(), testSpec(installDir, server.URL))
	require.NoError(t, err)
	assert.Equal(t, installDir, dir)

	for _, name := range []string{"meshd", "mesh"} {
		info, err := os.Stat(filepath.Join(installDir, name))
		require.NoError(t, err, "binary %s should exist", name)
		assert.NotZero(t, info.Mode()&0o111, "binary %s should be executable", name)
	}

	// No scratch directory left behind.
	_, err = os.Stat(installDir + ".partial")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, int32(1), requests.Load())
}

func TestEnsureIsIdempotent(t *testing.T) {
	archive := makeArchive(t, map[string]string{"meshd": "d", "mesh": "c"})

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(archive)
	}))
	defer server.Close()

	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(server.Client(), testLogger())
	spec := testSpec(installDir, server.URL)

	_, err := p.Ensure(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, int32(1), requests.Load())

	// Second call must perform zero network calls.
	_, err = p.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())
}

func TestEnsureDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(server.Client(), testLogger())

	_, err := p.Ensure(context.Background(), testSpec(installDir, server.URL))

	var downloadErr *tethererrors.DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, http.StatusNotFound, downloadErr.StatusCode)

	_, statErr := os.Stat(installDir)
	assert.ErrorIs(t, statErr, fs.ErrNotExist, "install dir must not exist after failed download")
}

func TestEnsureUnreachableMirror(t *testing.T) {
	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(http.DefaultClient, testLogger())

	// Port 1 is reliably closed.
	_, err := p.Ensure(context.Background(), testSpec(installDir, "http://127.0.0.1:1"))

	var downloadErr *tethererrors.DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Zero(t, downloadErr.StatusCode)
}

func TestEnsureCorruptArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a tarball"))
	}))
	defer server.Close()

	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(server.Client(), testLogger())

	_, err := p.Ensure(context.Background(), testSpec(installDir, server.URL))

	var extractErr *tethererrors.ExtractionError
	require.ErrorAs(t, err, &extractErr)

	// Neither the install directory nor the scratch directory may remain.
	_, statErr := os.Stat(installDir)
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
	_, statErr = os.Stat(installDir + ".partial")
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestEnsureMissingExpectedEntry(t *testing.T) {
	// Archive carries the daemon but not the client binary.
	archive := makeArchive(t, map[string]string{"meshd": "d"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	installDir := filepath.Join(t.TempDir(), "bin")
	p := New(server.Client(), testLogger())

	_, err := p.Ensure(context.Background(), testSpec(installDir, server.URL))

	var extractErr *tethererrors.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Contains(t, extractErr.Reason, "mesh")

	_, statErr := os.Stat(installDir)
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestEnsureReplacesPartialInstall(t *testing.T) {
	archive := makeArchive(t, map[string]string{"meshd": "d", "mesh": "c"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	// Simulate an interrupted earlier install: only one binary present.
	installDir := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "meshd"), []byte("stale"), 0o755))

	p := New(server.Client(), testLogger())
	_, err := p.Ensure(context.Background(), testSpec(installDir, server.URL))
	require.NoError(t, err)

	// Both binaries now present, stale content replaced.
	data, err := os.ReadFile(filepath.Join(installDir, "meshd"))
	require.NoError(t, err)
	assert.Equal(t, "d", string(data))
	_, err = os.Stat(filepath.Join(installDir, "mesh"))
	require.NoError(t, err)
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "mesh_1.82.0/../../escape",
		Mode: 0o644,
		Size: 4,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dir := t.TempDir()
	err = extractTarGz(&buf, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}
