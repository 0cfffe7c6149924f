// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-mesh/config"
	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/core/node"
	"github.com/sage-x-project/sage-mesh/crypto/storage"
	"github.com/sage-x-project/sage-mesh/internal/logger"
	"github.com/sage-x-project/sage-mesh/transport/udp"
)

var (
	configPath string
	keyStorageDir string
	donors     []string
	adminAddr  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the node, blocking until interrupted",
	Long: `start loads configuration and a persisted identity (see
sage-mesh-keygen), binds the UDP transport, resolves a public address
via STUN unless force_localhost is set, joins any --donor peers, and
serves an admin HTTP API for the join/send/status subcommands.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults applied if omitted)")
	startCmd.Flags().StringVar(&keyStorageDir, "storage-dir", "./keys", "Directory the node's signing key is loaded from")
	startCmd.Flags().StringSliceVar(&donors, "donor", nil, "Donor peer address (host:port), may be repeated")
	startCmd.Flags().StringVar(&adminAddr, "admin-addr", defaultAdminAddr, "Local admin API listen address")
}

// transportHandle breaks the construction cycle between node.Core (which
// needs a Transport at NewCore time) and transport/udp.Transport (which
// needs Core as its Receiver at Listen time): NewCore is handed a handle
// whose underlying *udp.Transport is only filled in once Listen returns,
// before either side's send/receive path is actually exercised.
type transportHandle struct {
	t *udp.Transport
}

func (h *transportHandle) SendTo(ip string, port uint16, data []byte) error {
	return h.t.SendTo(ip, port, data)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Username == "" {
		return fmt.Errorf("config username (device id) must not be empty")
	}

	log := newLoggerFromConfig(cfg)

	id, err := loadIdentity(cfg.Username, keyStorageDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	handle := &transportHandle{}
	core, err := node.NewCore(cfg, handle, node.WithLogger(log), node.WithIdentity(id))
	if err != nil {
		return fmt.Errorf("construct node core: %w", err)
	}

	transport, err := udp.Listen(cfg.Network.UDPPort, core, udp.WithLogger(log))
	if err != nil {
		return fmt.Errorf("bind udp transport: %w", err)
	}
	handle.t = transport
	defer transport.Close()
	transport.Start()

	if cfg.Network.ForceLocalhost {
		core.SetSelfAddress("127.0.0.1", int(transport.LocalPort()))
	} else {
		ip, port, err := transport.DiscoverPublicAddress(cfg.Network.StunServer)
		if err != nil {
			log.Warn("stun discovery failed, falling back to local port", logger.Err(err))
			core.SetSelfAddress("127.0.0.1", int(transport.LocalPort()))
		} else {
			core.SetSelfAddress(ip, port)
		}
	}

	core.Start()
	defer core.Stop()

	for _, donor := range donors {
		ip, port, err := splitHostPort(donor)
		if err != nil {
			log.Warn("skipping malformed donor address", logger.String("donor", donor), logger.Err(err))
			continue
		}
		if err := core.AddDonor(ip, port); err != nil {
			log.Warn("donor join failed", logger.String("donor", donor), logger.Err(err))
		}
	}

	adminSrv := newAdminServer(core, adminAddr)
	go func() {
		log.Info("admin api listening", logger.String("addr", adminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin api error", logger.Err(err))
		}
	}()

	log.Info("node running", logger.String("device_id", core.DeviceID()), logger.String("node_id", core.NodeID().String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return adminSrv.Shutdown(ctx)
}

func loadIdentity(deviceID, storageDir string) (*identity.Identity, error) {
	keyStorage, err := storage.NewFileKeyStorage(storageDir)
	if err != nil {
		return nil, err
	}
	signing, err := keyStorage.Load(deviceID)
	if err != nil {
		return nil, fmt.Errorf("no signing key for %q in %s (run sage-mesh-keygen generate first): %w", deviceID, storageDir, err)
	}
	return identity.NewFromSigningKey(deviceID, signing)
}

func newLoggerFromConfig(cfg *config.Config) *logger.StructuredLogger {
	level := logger.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	}
	return logger.NewLogger(os.Stdout, level)
}

func newAdminServer(core *node.Core, addr string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.Stats())
	})

	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
			return
		}
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := core.AddDonor(req.IP, req.Port); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := core.Send(req.To, []byte(req.Message), req.Ack, req.Encrypt); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
