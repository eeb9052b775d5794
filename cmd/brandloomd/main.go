package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brandloom-ai/brandloom/internal/config"
	configstore "github.com/brandloom-ai/brandloom/internal/config/store"
	"github.com/brandloom-ai/brandloom/internal/daemon"
	"github.com/brandloom-ai/brandloom/internal/procutil"
	daemonruntime "github.com/brandloom-ai/brandloom/internal/runtime"
	"github.com/brandloom-ai/brandloom/internal/version"
)

var (
	flagInstance string
	flagListen   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "brandloomd",
		Short:         "Brandloom daemon - orchestrates live voice brand-building sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().StringVar(&flagInstance, "instance", config.DefaultInstance, "instance name under ~/.brandloom/instances")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "listen address override (default from config, 127.0.0.1:4820)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE:  stopDaemon,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(flagInstance); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if daemon.IsRunning(flagInstance) {
		return fmt.Errorf("daemon is already running")
	}

	if _, err := config.EnsureInstanceDirs(flagInstance); err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	store, err := configstore.Open(configstore.Options{InstanceName: flagInstance})
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}

	d, err := daemon.New(daemon.Options{Store: store, ListenAddr: flagListen})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start()
	}()

	log.Printf("Brandloom daemon started (PID: %d)", os.Getpid())

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
		d.Shutdown()
		if err := <-errChan; err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Printf("Daemon error: %v", err)
			return err
		}
	}

	log.Println("Daemon stopped")
	return nil
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	paths := config.GetInstancePaths(flagInstance)
	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		return fmt.Errorf("daemon does not appear to be running: %w", err)
	}
	if !procutil.IsProcessAlive(pid) {
		daemonruntime.RemovePIDFile(paths.Lock)
		return fmt.Errorf("daemon is not running (stale lock removed)")
	}
	if err := procutil.TerminateByPID(pid); err != nil {
		return fmt.Errorf("failed to stop daemon (PID %d): %w", pid, err)
	}
	fmt.Printf("Sent stop signal to daemon (PID %d)\n", pid)
	return nil
}

func setupLogging(instanceName string) error {
	paths, err := config.EnsureInstanceDirs(instanceName)
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Brandloom Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
