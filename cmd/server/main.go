package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/redis"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/sqlite"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/port"
)

type store interface {
	port.SignalingChannel
	Close() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:          "yacall-server",
		Short:        "Rendezvous store for yacall clients",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.Log); err != nil {
				return err
			}
			if v.ConfigFileUsed() != "" {
				config.WatchLogLevel(v)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file")
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("store", "", "store backend: memory, sqlite or redis")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.store", cmd.Flags().Lookup("store"))
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Server.Store {
	case config.StoreSQLite:
		return sqlite.Open(cfg.Store.SQLitePath)
	case config.StoreRedis:
		return redis.Open(ctx, redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
	default:
		return memory.NewStore(), nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return errors.Wrapf(err, "open %s store", cfg.Server.Store)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	hub := ws.NewHub()
	h := handler.NewHandler(st, hub, handler.Options{
		RateLimit: cfg.Server.RateLimit,
		Burst:     cfg.Server.Burst,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Server.Store).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		hub.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Server exited")
	return err
}
