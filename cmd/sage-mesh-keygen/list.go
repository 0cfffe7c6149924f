// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/crypto/storage"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List node identities in storage",
	Long:  `List every device-id with a signing key in --storage-dir.`,
	Example: `  sage-mesh-keygen list --storage-dir ./keys`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&storageDir, "storage-dir", "s", "./keys", "Directory signing keys are read from")
}

func runList(cmd *cobra.Command, args []string) error {
	keyStorage, err := storage.NewFileKeyStorage(storageDir)
	if err != nil {
		return fmt.Errorf("open key storage: %w", err)
	}

	ids, err := keyStorage.List()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("no identities found in", storageDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DEVICE ID\tTYPE\tFINGERPRINT\tNODE ID\n")
	for _, id := range ids {
		keyPair, err := keyStorage.Load(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t<error>\t%v\t-\n", id, err)
			continue
		}
		nodeID := identity.DeriveNodeID(id)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, keyPair.Type(), keyPair.ID(), nodeID.String())
	}
	w.Flush()

	return nil
}
