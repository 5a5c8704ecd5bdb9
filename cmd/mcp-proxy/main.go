// mcp-proxy is the persistent rendezvous between orchestrators (forge) and
// application plugins. It runs no jobs itself: plugins register as executors,
// orchestrators as controllers, and the proxy forwards command frames to the
// executor for each target application and routes replies back by
// correlationId.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"brandforge/internal/logging"
	"brandforge/internal/proxy"
)

var (
	flagAddr         string
	flagPingInterval time.Duration
	flagVerbose      bool
	flagLogDir       string
)

var rootCmd = &cobra.Command{
	Use:   "mcp-proxy",
	Short: "Persistent websocket proxy between orchestrators and application plugins",
	Long: `mcp-proxy accepts websocket clients on /ws. Application plugins register
as executors, orchestrators as controllers; command frames are forwarded to
the executor for their target application and replies are routed back to the
controller that issued them. /health, /ready and /metrics expose liveness,
executor presence and prometheus counters.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		return logging.Initialize(logging.Options{
			Verbose: flagVerbose,
			LogDir:  flagLogDir,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: serve,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagAddr, "addr", "127.0.0.1:8871", "Listen address")
	f.DurationVar(&flagPingInterval, "ping-interval", proxy.DefaultPingInterval, "Websocket heartbeat interval")

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&flagLogDir, "logdir", "", "Directory for JSON log files")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log := logging.Get(logging.CategoryProxy)

	srv := proxy.NewServer(proxy.Options{PingInterval: flagPingInterval})
	httpSrv := &http.Server{
		Addr:              flagAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("proxy listening", "addr", flagAddr, "endpoint", fmt.Sprintf("ws://%s/ws", flagAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Infow("signal received, shutting down")
		// Shutdown covers the plain HTTP surface; hijacked websocket
		// connections are torn down by the proxy itself.
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("http shutdown", "err", err)
		}
		srv.Close()
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
