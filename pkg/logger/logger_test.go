// Copyright 2026 Axon Labs
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

package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}

	for _, tt := range tests {
		level, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "input %q", tt.in)
	}
}

func TestInit_SimpleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	file, closeFile, err := OpenLogFile(path)
	require.NoError(t, err)

	Init(slog.LevelInfo, file, "simple")
	slog.Info("backend process started", "backend", "mongodb", "pid", 42)
	slog.Debug("should be filtered out")
	closeFile()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "INFO backend process started backend=mongodb pid=42")
	assert.NotContains(t, out, "filtered out")
	assert.NotContains(t, out, "\033[", "file output must not be colored")
}

func TestInit_VerboseFormatAddsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	file, closeFile, err := OpenLogFile(path)
	require.NoError(t, err)

	Init(slog.LevelInfo, file, "verbose")
	slog.Warn("connection lost", "backend", "elasticsearch")
	closeFile()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	// "2006/01/02 15:04:05 WARN ..."
	assert.Regexp(t, `^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} WARN connection lost`, line)
}

func TestGetLogger_InitializesOnFirstUse(t *testing.T) {
	defaultLogger = nil
	assert.NotNil(t, GetLogger())
}
