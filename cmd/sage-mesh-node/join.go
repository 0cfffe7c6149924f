// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <host:port>",
	Short: "Add a donor peer to a running node",
	Long:  `join asks a running node (see --admin-addr) to bootstrap connectivity through the donor peer at <host:port>.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVar(&adminAddr, "admin-addr", defaultAdminAddr, "Admin API address of the running node")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ip, port, err := splitHostPort(args[0])
	if err != nil {
		return err
	}

	body, err := json.Marshal(joinRequest{IP: ip, Port: port})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post("http://"+adminAddr+"/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call admin api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("join failed: %s", errResp.Error)
	}

	fmt.Printf("joined via donor %s\n", args[0])
	return nil
}
