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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sage-mesh-node",
	Short: "Run and operate a sage-mesh content-distribution node",
	Long: `sage-mesh-node runs one node of the serverless P2P overlay: it binds a
UDP socket, joins the mesh through a donor peer, and distributes signed
content announcements over gossip and a Kademlia-style DHT.

start runs the node itself. join, send, and status are thin clients
against the running node's local admin API, for operating it without a
GUI.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Commands are registered in their respective files:
	// - start.go: startCmd (and the admin HTTP API it serves)
	// - join.go: joinCmd
	// - send.go: sendCmd
	// - status.go: statusCmd
}
