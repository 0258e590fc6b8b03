package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/etlflow/api"
	"github.com/warriorguo/etlflow/events"
	"github.com/warriorguo/etlflow/schedule"
	"github.com/warriorguo/etlflow/types"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr       string
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Trigger the pipeline on its schedule and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.API.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus(cfg.Events.Debug)
			defer bus.Close()
			if err := bus.LogEvents(ctx); err != nil {
				return errors.Trace(err)
			}

			a, err := newApp(cfg, types.WithEvents(bus))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			failures, err := a.engine.ReloadRuns(ctx)
			if err != nil {
				return errors.Annotatef(err, "reload runs")
			}
			for runID, rerr := range failures {
				log.Warnf("run %s not resumed: %v", runID, rerr)
			}

			scheduler := schedule.New(a.engine)
			if !noSchedule {
				if err := scheduler.Register(cfg.Pipeline.DAGName, cfg.Pipeline.Schedule, nil); err != nil {
					return errors.Trace(err)
				}
				scheduler.Start()
				defer scheduler.Stop()
			}

			if log.GetLevel() < log.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			server := &http.Server{
				Addr:              cfg.API.Addr,
				Handler:           api.NewRouter(a.engine, Version),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Infof("status API listening on %s", cfg.API.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				log.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return errors.Annotatef(err, "listen on %s", cfg.API.Addr)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return errors.Trace(server.Shutdown(shutdownCtx))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides api.addr")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "only serve the API, runs are started through it")
	return cmd
}
