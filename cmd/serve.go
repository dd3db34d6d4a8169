package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Gate HTTP API.
Recognition is public; enrollment, the attempt log and stats require the
ADMIN_TOKEN bearer token. Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// warmIndex schedules the HNSW graph for the loaded gallery. Requests use an
// exact scan until it is ready.
func warmIndex(s *services) {
	h, ok := s.matcher.(*matcher.HNSW)
	if !ok {
		return
	}
	h.Refresh(s.gallery.Snapshot())
	if s.cfg.Database.HNSWIndexPath != "" {
		fmt.Printf("HNSW matcher enabled, index persisted to %s\n", s.cfg.Database.HNSWIndexPath)
	} else {
		fmt.Printf("HNSW matcher enabled, index kept in memory only\n")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newServices(ctx, metrics.New(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Using %s backend, %d identities enrolled\n", s.backend.Name, s.gallery.Len())
	warmIndex(s)

	if port := mustGetInt(cmd, "port"); port > 0 {
		s.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		s.cfg.Web.Host = host
	}
	if s.cfg.Web.AdminToken == "" {
		fmt.Printf("Warning: ADMIN_TOKEN is not set, admin endpoints are disabled\n")
	}
	if s.issuer == nil {
		fmt.Printf("JWT_SIGNING_KEY is not set, accepted matches will not receive tokens\n")
	}

	server := web.NewServer(s.cfg, web.Deps{
		Orchestrator: s.orchestrator,
		Enrollment:   s.enrollment,
		Gallery:      s.gallery,
		Audit:        s.audit,
		Metrics:      s.metrics,
		Issuer:       s.issuer,
		Provider:     s.provider,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Gate API on http://%s\n", s.cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
