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

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sage-x-project/sage-mesh/crypto"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempFileStorage(t *testing.T) crypto.KeyStorage {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileKeyStorage(dir)
	require.NoError(t, err)
	return storage
}

func TestFileKeyStorageStoreAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	require.NoError(t, storage.Store("node-identity", keyPair))
	assert.FileExists(t, filepath.Join(dir, "node-identity.key"))

	loaded, err := storage.Load("node-identity")
	require.NoError(t, err)
	assert.Equal(t, keyPair.Type(), loaded.Type())

	message := []byte("ping")
	sig, err := loaded.Sign(message)
	require.NoError(t, err)
	assert.NoError(t, keyPair.Verify(message, sig))
}

func TestFileKeyStoragePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, first.Store("node-identity", keyPair))

	// A fresh storage instance pointed at the same directory, simulating
	// a second process run, must see the key the first one wrote.
	second, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	loaded, err := second.Load("node-identity")
	require.NoError(t, err)
	assert.Equal(t, keyPair.ID(), loaded.ID())
}

func TestFileKeyStorageLoadNonExistentKey(t *testing.T) {
	storage := newTempFileStorage(t)

	_, err := storage.Load("ghost")
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestFileKeyStorageRejectsPathTraversal(t *testing.T) {
	storage := newTempFileStorage(t)
	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	assert.Error(t, storage.Store("../escape", keyPair))
	assert.Error(t, storage.Store("nested/id", keyPair))
}

func TestFileKeyStorageDeleteKey(t *testing.T) {
	storage := newTempFileStorage(t)
	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	require.NoError(t, storage.Store("delete-me", keyPair))
	assert.True(t, storage.Exists("delete-me"))

	require.NoError(t, storage.Delete("delete-me"))
	assert.False(t, storage.Exists("delete-me"))

	_, err = storage.Load("delete-me")
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestFileKeyStorageDeleteNonExistentKey(t *testing.T) {
	storage := newTempFileStorage(t)
	err := storage.Delete("ghost")
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestFileKeyStorageList(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	for _, id := range []string{"key1", "key2", "key3"} {
		keyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)
		require.NoError(t, storage.Store(id, keyPair))
	}

	ids, err := storage.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"key1", "key2", "key3"}, ids)
}

func TestFileKeyStorageCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "keys")
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	_, err = NewFileKeyStorage(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
