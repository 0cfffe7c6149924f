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

var (
	sendAck     bool
	sendEncrypt bool
)

var sendCmd = &cobra.Command{
	Use:   "send <device-id> <message>",
	Short: "Send a message to a peer through a running node",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&adminAddr, "admin-addr", defaultAdminAddr, "Admin API address of the running node")
	sendCmd.Flags().BoolVar(&sendAck, "ack", false, "Block until the reliability tracker confirms delivery")
	sendCmd.Flags().BoolVar(&sendEncrypt, "encrypt", false, "Seal the payload under the peer's installed session")
}

func runSend(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(sendRequest{
		To:      args[0],
		Message: args[1],
		Ack:     sendAck,
		Encrypt: sendEncrypt,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post("http://"+adminAddr+"/send", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call admin api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("send failed: %s", errResp.Error)
	}

	fmt.Printf("sent to %s\n", args[0])
	return nil
}
