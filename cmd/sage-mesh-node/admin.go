// SPDX-License-Identifier: LGPL-3.0-or-later

package main

// joinRequest/sendRequest/errorResponse are the wire shapes start's admin
// HTTP API exchanges with the join/send/status subcommands. Kept in one
// file since every subcommand that talks to the admin API needs them.
type joinRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Ack     bool   `json:"ack"`
	Encrypt bool   `json:"encrypt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const defaultAdminAddr = "127.0.0.1:9190"
