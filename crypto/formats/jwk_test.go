package formats

import (
	"encoding/json"
	"testing"

	"github.com/sage-x-project/sage-mesh/crypto"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKExporter(t *testing.T) {
	exporter := NewJWKExporter()

	t.Run("ExportEd25519KeyPair", func(t *testing.T) {
		keyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(keyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)
		assert.NotEmpty(t, exported)

		var jwk map[string]interface{}
		require.NoError(t, json.Unmarshal(exported, &jwk))

		assert.Equal(t, "OKP", jwk["kty"])
		assert.Equal(t, "Ed25519", jwk["crv"])
		assert.NotEmpty(t, jwk["x"])
		assert.NotEmpty(t, jwk["d"])
		assert.NotEmpty(t, jwk["kid"])
	})

	t.Run("ExportEd25519PublicKey", func(t *testing.T) {
		keyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.ExportPublic(keyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		var jwk map[string]interface{}
		require.NoError(t, json.Unmarshal(exported, &jwk))

		assert.Equal(t, "OKP", jwk["kty"])
		assert.Equal(t, "Ed25519", jwk["crv"])
		assert.NotEmpty(t, jwk["x"])
		assert.Empty(t, jwk["d"])
	})

	t.Run("ExportSecp256k1KeyPair", func(t *testing.T) {
		keyPair, err := keys.GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(keyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		var jwk map[string]interface{}
		require.NoError(t, json.Unmarshal(exported, &jwk))

		assert.Equal(t, "EC", jwk["kty"])
		assert.Equal(t, "secp256k1", jwk["crv"])
		assert.NotEmpty(t, jwk["x"])
		assert.NotEmpty(t, jwk["y"])
		assert.NotEmpty(t, jwk["d"])
	})

	t.Run("ExportX25519KeyPair", func(t *testing.T) {
		keyPair, err := keys.GenerateX25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(keyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		var jwk map[string]interface{}
		require.NoError(t, json.Unmarshal(exported, &jwk))

		assert.Equal(t, "OKP", jwk["kty"])
		assert.Equal(t, "X25519", jwk["crv"])
		assert.Equal(t, "enc", jwk["use"])
		assert.NotEmpty(t, jwk["x"])
		assert.NotEmpty(t, jwk["d"])
	})
}

func TestJWKImporter(t *testing.T) {
	exporter := NewJWKExporter()
	importer := NewJWKImporter()

	t.Run("ImportEd25519KeyPair", func(t *testing.T) {
		originalKeyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(originalKeyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		importedKeyPair, err := importer.Import(exported, crypto.KeyFormatJWK)
		require.NoError(t, err)
		assert.Equal(t, crypto.KeyTypeEd25519, importedKeyPair.Type())

		message := []byte("test message")
		signature, err := importedKeyPair.Sign(message)
		require.NoError(t, err)
		assert.NoError(t, originalKeyPair.Verify(message, signature))
	})

	t.Run("ImportSecp256k1KeyPair", func(t *testing.T) {
		originalKeyPair, err := keys.GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(originalKeyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		importedKeyPair, err := importer.Import(exported, crypto.KeyFormatJWK)
		require.NoError(t, err)
		assert.Equal(t, crypto.KeyTypeSecp256k1, importedKeyPair.Type())
	})

	t.Run("ImportX25519KeyPair", func(t *testing.T) {
		originalKeyPair, err := keys.GenerateX25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.Export(originalKeyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		importedKeyPair, err := importer.Import(exported, crypto.KeyFormatJWK)
		require.NoError(t, err)
		assert.Equal(t, crypto.KeyTypeX25519, importedKeyPair.Type())
	})

	t.Run("ImportEd25519PublicKey", func(t *testing.T) {
		originalKeyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		exported, err := exporter.ExportPublic(originalKeyPair, crypto.KeyFormatJWK)
		require.NoError(t, err)

		importedPublicKey, err := importer.ImportPublic(exported, crypto.KeyFormatJWK)
		require.NoError(t, err)
		assert.NotNil(t, importedPublicKey)
	})

	t.Run("ImportInvalidJSON", func(t *testing.T) {
		_, err := importer.Import([]byte("invalid json"), crypto.KeyFormatJWK)
		assert.Error(t, err)
	})

	t.Run("ImportMissingKeyType", func(t *testing.T) {
		_, err := importer.Import([]byte(`{"x": "test"}`), crypto.KeyFormatJWK)
		assert.Error(t, err)
	})
}
