package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hasanabuzayed/openagent/internal/config"
	"github.com/hasanabuzayed/openagent/internal/harness"
	"github.com/hasanabuzayed/openagent/internal/logger"
	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/server"
	"github.com/hasanabuzayed/openagent/internal/session"
	"github.com/hasanabuzayed/openagent/internal/store"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}
		if err := logger.Init(cfg.LogFile); err != nil {
			return fmt.Errorf("could not initialize logger: %w", err)
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		workspaces := workspace.NewManager(st, cfg.WorkspaceDir, cfg.DistroDir)
		harnesses, err := buildRegistry(cmd.Context(), cfg, workspaces)
		if err != nil {
			return err
		}
		logger.Log.Printf("[Serve] Harnesses available: %v", harnesses.IDs())

		r := runner.New(st, workspaces, harnesses)
		broadcaster := session.NewBroadcaster()
		slot := session.New(st, r, broadcaster, session.Config{
			Harness:     cfg.Harness,
			WorkspaceID: cfg.WorkspaceID,
			Model:       cfg.Model,
			Agent:       cfg.Agent,
		})

		engine := server.New(server.Deps{
			Store:       st,
			Workspaces:  workspaces,
			Runner:      r,
			Session:     slot,
			Broadcaster: broadcaster,
		})
		srv := &http.Server{Addr: cfg.Addr, Handler: engine}

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Printf("[Serve] Listening on %s", cfg.Addr)
			fmt.Printf("openagent listening on %s\n", cfg.Addr)
			errCh <- srv.ListenAndServe()
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case s := <-sig:
			logger.Log.Printf("[Serve] Got %v, shutting down", s)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		slot.Close()
		broadcaster.Close()
		_ = workspaces.Wait()
		return nil
	},
}

// buildRegistry registers every harness the environment supports. The
// subprocess backends are always registered; they fail at turn time if
// the binary is missing. API backends need their endpoint or key.
func buildRegistry(ctx context.Context, cfg *config.Config, workspaces *workspace.Manager) (*harness.Registry, error) {
	reg := harness.NewRegistry()
	reg.Register(harness.NewOpenCode(cfg.OpenCodeBin, workspaces))
	reg.Register(harness.NewClaudeCode(cfg.ClaudeBin, workspaces))

	if cfg.OllamaHost != "" {
		h, err := harness.NewOllama(cfg.OllamaHost, cfg.Model)
		if err != nil {
			logger.Log.Printf("[Serve] Ollama unavailable: %v", err)
		} else {
			reg.Register(h)
		}
	}
	if cfg.GeminiAPIKey != "" {
		h, err := harness.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		reg.Register(h)
	}
	return reg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
