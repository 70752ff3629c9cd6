// main.go: modhost, the module shell host CLI
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modshell "github.com/modshell/go-modshell"
)

var rootCmd = &cobra.Command{
	Use:   "modhost",
	Short: "modhost runs and administers a modular shell host",
	Long: "modhost loads the modules listed in a descriptor file, serves their\n" +
		"routes and navigation, and offers lifecycle administration: list,\n" +
		"enable, disable and reload modules while the host keeps running.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("modules-dir", "./modules", "Directory containing module binaries")
	rootCmd.PersistentFlags().String("descriptor", "./modules/modules.json", "Path to the module descriptor file")
	rootCmd.PersistentFlags().String("store", "./modules/modstore.json", "Path to the module store file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")

	_ = viper.BindPFlag("modules_dir", rootCmd.PersistentFlags().Lookup("modules-dir"))
	_ = viper.BindPFlag("descriptor", rootCmd.PersistentFlags().Lookup("descriptor"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("MODHOST")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(routesCmd)
}

func newLogger() modshell.Logger {
	level := charmlog.InfoLevel
	if parsed, err := charmlog.ParseLevel(viper.GetString("log_level")); err == nil {
		level = parsed
	}
	base := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	return modshell.NewCharmLogAdapter(base)
}

func newLoader(logger modshell.Logger) (*modshell.ModuleLoader, error) {
	store, err := modshell.OpenFileModuleStore(viper.GetString("store"), logger)
	if err != nil {
		return nil, err
	}
	return modshell.NewModuleLoader(modshell.LoaderConfig{
		ModulesDir:     viper.GetString("modules_dir"),
		DescriptorPath: viper.GetString("descriptor"),
		Store:          store,
		Logger:         logger,
	}), nil
}

// initializedLoader builds a loader and runs the startup batch, the
// shared preamble of every subcommand.
func initializedLoader(ctx context.Context, logger modshell.Logger) (*modshell.ModuleLoader, error) {
	loader, err := newLoader(logger)
	if err != nil {
		return nil, err
	}
	if err := loader.InitializeModules(ctx, modshell.NewHostContext()); err != nil {
		return nil, err
	}
	return loader, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load all enabled modules and run until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loader, err := initializedLoader(ctx, logger)
		if err != nil {
			return err
		}

		coordinator := modshell.NewReloadCoordinator(loader, modshell.ReloadCoordinatorOptions{
			Logger: logger,
		})
		watcher := modshell.NewHotReloadWatcher(coordinator, hotReloadOptions(logger))
		if watchErr := watcher.WatchLoaded(); watchErr != nil {
			logger.Warn("Binary watching unavailable", "error", watchErr)
		} else if startErr := watcher.Start(); startErr != nil {
			logger.Warn("Binary watcher failed to start", "error", startErr)
		}
		defer func() { _ = watcher.Stop() }()

		logger.Info("Host running", "modules", loader.Registry().Count())
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return loader.Shutdown(shutdownCtx)
	},
}

func hotReloadOptions(logger modshell.Logger) modshell.HotReloadOptions {
	options := modshell.DefaultHotReloadOptions()
	options.Logger = logger
	return options
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the state of every known module",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx := cmd.Context()

		loader, err := initializedLoader(ctx, logger)
		if err != nil {
			return err
		}
		defer shutdownQuiet(loader, logger)

		for _, status := range loader.Statuses() {
			line := fmt.Sprintf("%-20s %-10s enabled=%-5t loaded=%-5t %s",
				status.Name, status.State, status.Enabled, status.Loaded, status.Version)
			if status.LastError != "" {
				line += "  error: " + status.LastError
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the combined route table of all loaded modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx := cmd.Context()

		loader, err := initializedLoader(ctx, logger)
		if err != nil {
			return err
		}
		defer shutdownQuiet(loader, logger)

		for _, route := range loader.Routes().Routes() {
			fmt.Fprintf(cmd.OutOrStdout(), "/%-30s -> %s (%s)\n",
				route.Template, route.ComponentID, route.Module)
		}
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload <module>",
	Short: "Unload and reload one module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx := cmd.Context()

		loader, err := initializedLoader(ctx, logger)
		if err != nil {
			return err
		}
		defer shutdownQuiet(loader, logger)

		coordinator := modshell.NewReloadCoordinator(loader, modshell.ReloadCoordinatorOptions{
			Logger: logger,
		})
		if err := coordinator.SafeReload(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "module %s reloaded\n", args[0])
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <module>",
	Short: "Enable a module and load it",
	Args:  cobra.ExactArgs(1),
	RunE:  adminCommand((*modshell.ModuleLoader).EnableModule),
}

var disableCmd = &cobra.Command{
	Use:   "disable <module>",
	Short: "Unload a module and disable it",
	Args:  cobra.ExactArgs(1),
	RunE:  adminCommand((*modshell.ModuleLoader).DisableModule),
}

func adminCommand(op func(*modshell.ModuleLoader, context.Context, string) modshell.OperationResult) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx := cmd.Context()

		loader, err := initializedLoader(ctx, logger)
		if err != nil {
			return err
		}
		defer shutdownQuiet(loader, logger)

		result := op(loader, ctx, args[0])
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		if !result.Success {
			if result.Err != nil {
				return result.Err
			}
			return fmt.Errorf("operation failed: %s", result.Message)
		}
		return nil
	}
}

func shutdownQuiet(loader *modshell.ModuleLoader, logger modshell.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := loader.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
