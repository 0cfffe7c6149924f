// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/crypto/storage"
)

func resetFlags(t *testing.T) {
	t.Helper()
	deviceID = ""
	storageDir = t.TempDir()
	outputFile = ""
}

func TestRunGenerateStoresSigningKey(t *testing.T) {
	resetFlags(t)
	deviceID = "display-lobby-1"

	require.NoError(t, runGenerate(nil, nil))
	assert.FileExists(t, filepath.Join(storageDir, "display-lobby-1.key"))

	keyStorage, err := storage.NewFileKeyStorage(storageDir)
	require.NoError(t, err)
	assert.True(t, keyStorage.Exists("display-lobby-1"))
}

func TestRunGenerateRequiresDeviceID(t *testing.T) {
	resetFlags(t)
	assert.Error(t, runGenerate(nil, nil))
}

func TestRunGenerateRejectsDuplicateDeviceID(t *testing.T) {
	resetFlags(t)
	deviceID = "display-lobby-2"

	require.NoError(t, runGenerate(nil, nil))
	assert.Error(t, runGenerate(nil, nil))
}

func TestRunGenerateWritesOutputFile(t *testing.T) {
	resetFlags(t)
	deviceID = "display-lobby-3"
	outputFile = filepath.Join(t.TempDir(), "identity.json")

	require.NoError(t, runGenerate(nil, nil))
	assert.FileExists(t, outputFile)
}
