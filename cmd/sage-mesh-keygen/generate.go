// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/crypto"
	"github.com/sage-x-project/sage-mesh/crypto/formats"
	"github.com/sage-x-project/sage-mesh/crypto/storage"
)

var (
	deviceID   string
	storageDir string
	outputFile string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new node identity and persist its signing key",
	Long: `Generate derives a fresh Ed25519 signing keypair for --device-id,
stores it under --storage-dir as <device-id>.key, and prints the
resulting node-id and public key so it can be shared with peers as a
donor address's expected identity.

The keypair's agreement (X25519) half is not persisted: core/identity
generates a fresh one every process start, per the node identity's
own design.`,
	Example: `  sage-mesh-keygen generate --device-id display-lobby-1 --storage-dir ./keys`,
	RunE:    runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&deviceID, "device-id", "d", "", "Device identifier this node will run as (required)")
	generateCmd.Flags().StringVarP(&storageDir, "storage-dir", "s", "./keys", "Directory the signing key is written to")
	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the identity summary (node id and public JWK) here instead of stdout")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if deviceID == "" {
		return fmt.Errorf("--device-id is required")
	}

	id, err := identity.New(deviceID)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	keyStorage, err := storage.NewFileKeyStorage(storageDir)
	if err != nil {
		return fmt.Errorf("open key storage: %w", err)
	}
	if keyStorage.Exists(deviceID) {
		return fmt.Errorf("a key for device-id %q already exists in %s", deviceID, storageDir)
	}
	if err := keyStorage.Store(deviceID, id.SigningKeyPair()); err != nil {
		return fmt.Errorf("store signing key: %w", err)
	}

	exporter := formats.NewJWKExporter()
	publicJWK, err := exporter.ExportPublic(id.SigningKeyPair(), crypto.KeyFormatJWK)
	if err != nil {
		return fmt.Errorf("export public key: %w", err)
	}

	summary := map[string]json.RawMessage{
		"device_id":   json.RawMessage(fmt.Sprintf("%q", id.DeviceID())),
		"node_id":     json.RawMessage(fmt.Sprintf("%q", id.NodeID().String())),
		"node_id_b58": json.RawMessage(fmt.Sprintf("%q", id.NodeID().Base58())),
		"public_key":  publicJWK,
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(out))
	} else if err := os.WriteFile(outputFile, out, 0600); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "signing key stored at %s\n", filepath.Join(storageDir, deviceID+".key"))
	return nil
}
