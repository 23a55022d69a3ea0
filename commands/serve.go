package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/logger"
	"branch-orders-api/routes"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the branch API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		config.Apply(cfg)
		gin.SetMode(cfg.GinMode)
		log := logger.For("server")

		if err := config.InitDB(cfg.DBPath); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := config.InitEvents(ctx, cfg.Redis); err != nil {
			return err
		}
		defer config.Events.Close()

		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           routes.NewRouter(cfg.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithField("port", cfg.Port).Info("server listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a YAML config file")
}
