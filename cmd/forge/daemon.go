package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/forge/internal/config"
	"github.com/bamsammich/forge/internal/telemetry"
	"github.com/bamsammich/forge/internal/transport/proto"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the forge coordinator discovery daemon",
	Long: `Run a lightweight TLS listener a remote ssh Backend worker checks
against before accepting job dispatch.

The daemon generates (or loads) a persistent self-signed TLS certificate,
listens for connections, and answers each one with its own fingerprint so a
worker that discovered the daemon via /etc/forge/daemon.toml can confirm it
is still talking to the coordinator that wrote that file, not a host that
later took over the same address.

Connection info (port + fingerprint) is written to /etc/forge/daemon.toml,
mirroring config.DaemonDiscovery.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	daemonCmd.Flags().String("listen", ":9877", "listen address (host:port)")
	daemonCmd.Flags().String("tls-cert", "/etc/forge/daemon.crt", "path to TLS certificate file")
	daemonCmd.Flags().String("tls-key", "/etc/forge/daemon.key", "path to TLS private key file")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	listenAddr, _ := cmd.Flags().GetString("listen")   //nolint:errcheck // flag name is hardcoded
	tlsCertFile, _ := cmd.Flags().GetString("tls-cert") //nolint:errcheck // flag name is hardcoded
	tlsKeyFile, _ := cmd.Flags().GetString("tls-key")   //nolint:errcheck // flag name is hardcoded

	logger, closeLog, err := telemetry.Setup(telemetry.Options{})
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck // best-effort log file close on exit

	cert, fingerprint, err := proto.LoadOrGenerateCert(tlsCertFile, tlsKeyFile)
	if err != nil {
		return fmt.Errorf("daemon TLS cert: %w", err)
	}

	listener, err := tls.Listen("tcp", listenAddr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	defer listener.Close() //nolint:errcheck // best-effort close on shutdown

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address type: %T", listener.Addr())
	}
	if err := config.WriteDaemonDiscovery(config.DaemonDiscovery{
		Fingerprint: fingerprint,
		Port:        tcpAddr.Port,
	}); err != nil {
		logger.Warn("failed to write daemon discovery file", "error", err)
	}
	defer config.RemoveDaemonDiscovery()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon listening", "addr", listenAddr, "fingerprint", fingerprint)

	go func() {
		<-ctx.Done()
		listener.Close() //nolint:errcheck // unblocks Accept below on shutdown
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		go handshake(logger, conn, fingerprint)
	}
}

// handshake writes the daemon's own fingerprint back to the connecting
// worker and closes, letting it compare against what it read from
// /etc/forge/daemon.toml before trusting this host with job dispatch.
func handshake(logger *slog.Logger, conn net.Conn, fingerprint string) {
	defer conn.Close() //nolint:errcheck // best-effort close after a short-lived handshake
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return
	}
	if _, err := fmt.Fprintln(conn, fingerprint); err != nil {
		logger.Warn("handshake write failed", "error", err, "remote", conn.RemoteAddr())
	}
}
