package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/remote"
	"github.com/Wyydra/yacall/internal/adapter/driving/cli"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "yacall",
		Short:        "Headless two-party call client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(v, configPath)
			if err != nil {
				return err
			}
			return config.SetupLogging(cfg.Log)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file")
	root.PersistentFlags().String("server", "", "rendezvous server URL")
	_ = v.BindPFlag("client.server_url", root.PersistentFlags().Lookup("server"))

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Start a call and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), cfg, func(ctx context.Context, svc *service.CallService) error {
				id, err := svc.CreateCall(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "call id: %s\n", id)
				return nil
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "join <call-id>",
		Short: "Answer a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), cfg, func(ctx context.Context, svc *service.CallService) error {
				return svc.JoinCall(ctx, args[0])
			})
		},
	})
	return root
}

// call acquires media, runs start, and keeps the call up until interrupted.
func call(ctx context.Context, cfg *config.Config, start func(context.Context, *service.CallService) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel, err := remote.New(cfg.Client.ServerURL)
	if err != nil {
		return err
	}

	engineCfg := pion.DefaultConfig()
	engineCfg.ICEServers = cfg.Client.ICEServers
	engineCfg.CandidatePoolSize = cfg.Client.CandidatePoolSize
	engine, err := pion.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	kinds := make([]domain.MediaKind, 0, len(cfg.Client.Media))
	for _, m := range cfg.Client.Media {
		kinds = append(kinds, domain.MediaKind(m))
	}

	svc := service.NewCallService(channel, engine, pion.NewSource(kinds...), &pion.LogSink{},
		service.WithObserver(cli.NewObserver(os.Stdout)),
		service.WithBadInputInterval(cfg.Client.BadInputInterval),
	)
	go svc.Run()
	defer func() {
		svc.Stop()
		<-svc.Done()
	}()

	if err := svc.AcquireMedia(ctx); err != nil {
		return errors.Wrap(err, "acquire media")
	}
	if err := start(ctx, svc); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Hanging up")
	// The signal context is done; quitting must still get through.
	return svc.QuitCall(context.Background())
}
