package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type serveOptions struct {
	Port         int
	Origin       string
	OriginHost   string
	StoreVersion string
	Provider     string
	DB           string
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install the configured store version and serve the app through it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(cmd, map[string]string{
				"port":          "port",
				"origin":        "origin",
				"origin_host":   "host",
				"store_version": "store-version",
				"provider":      "provider",
				"db":            "db",
			})
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&opts.Port, "port", 8080, "Port to listen on")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "Origin URL to proxy to")
	cmd.Flags().StringVar(&opts.OriginHost, "host", "", "Hostname of origin")
	cmd.Flags().StringVar(&opts.StoreVersion, "store-version", "", "Version tag of the store generation")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Store provider (sqlite, leveldb or memory)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "Store file or directory (use 'memory' for in-memory sqlite)")
	return cmd
}

func runServe(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	originURL, err := c.OriginURL()
	if err != nil {
		return err
	}

	store, err := cache.Open(c.Storage.Provider, c.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := log.Logger
	worker, err := offlinecache.NewWorker(offlinecache.Config{
		Version:  c.Version,
		Manifest: c.Manifest,
		Store:    store,
		Network:  offlinecache.NewOriginNetwork(*originURL, c.OriginHost, logger),
		AppName:  c.AppName,
		Logger:   &logger,
	})
	if err != nil {
		return err
	}
	host := offlinecache.NewHost(offlinecache.HostConfig{
		ControlPrefix: c.ControlPrefix,
		Logger:        &logger,
	})

	if err := host.Install(ctx, worker); err != nil {
		// keep serving what a previous run installed
		if resumeErr := host.Resume(ctx, worker); resumeErr != nil {
			return err
		}
	}

	addr := fmt.Sprintf(":%d", c.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("cannot listen on " + addr).
			WithCause(err)
	}

	srv := &http.Server{
		Handler:           host,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Serving port %v from store %s, origin %s (with hostname '%s')", c.Port, c.Version, originURL.String(), c.OriginHost)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bindFlags binds viper keys to the flags of the command that runs.
// Binding at run time keeps commands that share a key from overriding each other.
func bindFlags(cmd *cobra.Command, flags map[string]string) {
	for key, name := range flags {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(name))
	}
}
