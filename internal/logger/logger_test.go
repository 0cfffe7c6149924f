// SAGE Mesh - serverless P2P overlay network
// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{FatalLevel, "FATAL"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestStructuredLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Debug("debug message")
	assert.Empty(t, buf.String())

	l.Info("info message")
	assert.Empty(t, buf.String())

	l.Warn("warn message")
	assert.NotEmpty(t, buf.String())
}

func TestStructuredLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel)

	l.Info("peer seen", String("device", "node-1"), Int("port", 4000), Err(errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "peer seen", entry["message"])
	assert.Equal(t, "node-1", entry["device"])
	assert.Equal(t, float64(4000), entry["port"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithAppendsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, DebugLevel)
	scoped := base.With(String("subsystem", "dht"))

	scoped.Info("lookup started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dht", entry["subsystem"])
}

func TestSetLevel(t *testing.T) {
	l := NewLogger(&bytes.Buffer{}, InfoLevel)
	assert.Equal(t, InfoLevel, l.GetLevel())
	l.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, l.GetLevel())
}
