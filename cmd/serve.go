package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/hub"
	"github.com/BioHazard786/roomline/internal/logging"
	"github.com/BioHazard786/roomline/internal/server"
	"github.com/BioHazard786/roomline/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server for video rooms",
	Long: `Run the websocket signaling server that clients use to find rooms,
publish streams and exchange offers and answers.

Examples:
  roomline serve
  roomline serve --addr :9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{ServerAddr: flagAddr})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg.ServerAddr)
	},
}

func serve(ctx context.Context, addr string) error {
	log := logging.For("server")
	h := hub.New(logging.For("hub"))

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ui.PrintInfof("Signaling server listening on %s", addr)
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address")
	rootCmd.AddCommand(serveCmd)
}
