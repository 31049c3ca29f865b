// Package main is the entry point for the armature binary: the component
// runtime host and its manifest tooling.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/armatureio/armature/pkg/config"
	"github.com/armatureio/armature/pkg/host"
	"github.com/armatureio/armature/pkg/logging"
	"github.com/armatureio/armature/pkg/telemetry"
)

const defaultManifest = "armature.yaml"

// version is injected at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "armature",
		Short:   "Component runtime host",
		Long: `Armature runs pluggable components as one message-processing pipeline.

Components are declared in a manifest, started in dependency order inside
their isolation boundaries, and hot-swapped without dropping in-flight
messages when the manifest changes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human-readable log output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the component host",
		RunE:  runServe,
	}

	serveCmd.Flags().StringP("manifest", "m", defaultManifest, "Path to the component manifest")
	serveCmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint for trace export (empty disables export)")
	serveCmd.Flags().Bool("otlp-insecure", false, "Use plaintext gRPC for the OTLP exporter")
	serveCmd.Flags().String("environment", "", "Deployment environment tag for telemetry")
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := loggerFromFlags(cmd)
	slog.SetDefault(logger)

	manifestPath, _ := cmd.Flags().GetString("manifest")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")
	environment, _ := cmd.Flags().GetString("environment")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "armature",
		Endpoint:    otlpEndpoint,
		Environment: environment,
		Insecure:    otlpInsecure,
	})
	if err != nil {
		return fmt.Errorf("initialising telemetry: %w", err)
	}

	logger.Info("starting armature", "manifest", manifestPath, "version", version)

	provider, err := config.NewFileProvider(manifestPath, logger)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	h, err := host.New(host.Options{Logger: logger, Provider: provider})
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a component manifest without starting the host",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	return validateCmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := defaultManifest
	if len(args) == 1 {
		path = args[0]
	}

	m, err := config.Load(path)
	if err != nil {
		return err
	}

	enabledCount := 0
	for i := range m.Components {
		if m.Components[i].IsEnabled() {
			enabledCount++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d components, %d enabled)\n",
		path, len(m.Components), enabledCount)
	return nil
}

func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("pretty")
	return logging.NewLogger(logging.Config{Level: level, Pretty: pretty})
}
