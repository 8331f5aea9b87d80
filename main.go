package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ridemesh/go-ridemesh/cmd"
	"github.com/ridemesh/go-ridemesh/node"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "go-ridemesh",
		Short: "decentralized ride matching over a gossip overlay",
		RunE: func(c *cobra.Command, args []string) error {
			return run(c)
		},
	}
	cmd.AddCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cobra.Command) error {
	conf, err := cmd.GetConfig()
	if err != nil {
		return err
	}
	level, err := zapcore.ParseLevel(conf.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", conf.LogLevel, err)
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := logCfg.Build()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	app, err := node.New(logger, conf)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		app.Stop()
		return err
	}
	go func() {
		for ev := range app.Events() {
			logger.Info(ev.Help,
				zap.String("event", string(ev.Type)),
				zap.Any("details", ev.Details),
			)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	app.Stop()
	return nil
}
