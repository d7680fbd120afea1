package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/tphakala/zonewatch/internal/api/v2"
	"github.com/tphakala/zonewatch/internal/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			log, err := newLogger(settings.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, settings, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			var server *api.Server
			if settings.Metrics.Enabled {
				server = api.NewServer(settings.Metrics.Listen, rt.engine, rt.metrics, log)
			}
			return serve(ctx, rt, server, opts.version)
		},
	}
}

// serve starts the engine and the optional HTTP server, and stops both
// when ctx is done or the server fails.
func serve(ctx context.Context, rt *runtime, server *api.Server, version string) error {
	if err := rt.engine.Start(ctx); err != nil {
		return err
	}
	rt.log.Info("zonewatch running", logger.String("version", version))

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	rt.log.Info("shutting down")
	if serr := rt.engine.Stop(); serr != nil && err == nil {
		err = serr
	}
	return err
}
