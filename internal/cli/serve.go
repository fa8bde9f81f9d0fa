package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpServer "TradeRAG/api/http"
	"TradeRAG/internal/initial"
	"TradeRAG/pkg/zlog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveNoScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the periodic market ingestion",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not register the periodic ingestion job")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(app *initial.App) error {
		mc := app.Conf.MainConfig
		router := httpServer.NewRouter(httpServer.RouterDeps{
			RetrieveSvc: app.Retrieve,
			IngestSvc:   app.Ingest,
			Signer:      app.Signer,
			AdminOpen:   app.Conf.JwtConfig.AllowAnonymousAdmin,
			Host:        mc.Host,
			Port:        mc.Port,
			TLSEnabled:  mc.TLSEnabled(),
			Backend:     app.Backend,
			VectorDim:   app.VectorDim,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", mc.Host, mc.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		if app.Signer == nil {
			if app.Conf.JwtConfig.AllowAnonymousAdmin {
				zlog.Warn("admin routes are open without authentication")
			} else {
				zlog.Warn("admin routes disabled, set jwtConfig.key to enable them")
			}
		}

		if !serveNoScheduler && !app.Conf.SchedulerConfig.Disabled {
			if err := app.Scheduler.Start(); err != nil {
				return err
			}
			defer app.Scheduler.Stop()
		}

		errCh := make(chan error, 1)
		go func() {
			zlog.Info("http server listening", zap.String("addr", srv.Addr), zap.Bool("tls", mc.TLSEnabled()))
			var err error
			if mc.TLSEnabled() {
				err = srv.ListenAndServeTLS(mc.TLSCertFile, mc.TLSKeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
		}

		zlog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("http shutdown", zap.Error(err))
		}
		return nil
	})
}
