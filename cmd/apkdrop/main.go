// Package main is the CLI entry point for apkdrop.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/config"
	"github.com/apkdrop/apkdrop/internal/daemon"
	"github.com/apkdrop/apkdrop/internal/domain"
	"github.com/apkdrop/apkdrop/internal/infra"
	"github.com/apkdrop/apkdrop/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apkdrop",
	Short: "Chat bot that delivers app packages on request",
	Long: `apkdrop is a chat bot: send it an app name over the messaging channel
and it looks the app up in the catalog, downloads the package through the
fetch worker, and sends the file back to the chat.

On first run it pairs with the messaging backend using a pairing code.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot in the foreground",
	Long: `Connects to the messaging backend and serves requests until interrupted.
Credentials are stored encrypted under the credentials directory; downloaded
packages are staged under the downloads directory and deleted after delivery.`,
	RunE: runBot,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the bot is running",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	debugMode  bool
	jsonOutput bool
)

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "apkdrop.yaml", "Path to config file")
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "Verbose development logging")
	statusCmd.Flags().StringVar(&configPath, "config", "apkdrop.yaml", "Path to config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	fs := infra.NewFileSystemManager()
	if err := fs.EnsureDir(cfg.DownloadDir); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := fs.EnsureDir(cfg.CredentialsDir); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := infra.OpenSessionContainer(ctx, cfg.CredentialsDir)
	if err != nil {
		return err
	}

	tcfg := infra.DefaultTransportConfig()
	tcfg.QueryTimeout = cfg.Transport.QueryTimeout.Std()
	tcfg.DeviceName = cfg.Transport.DeviceName
	factory := infra.NewWhatsTransportFactory(container, tcfg, logger)

	catalog := infra.NewCatalogClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout.Std(), logger)
	worker := infra.NewWorkerRunner(cfg.Worker.Command, cfg.Worker.Timeout.Std(), logger)

	cleaner := usecase.NewCleaner(fs, logger)
	coordinator := usecase.NewCoordinator(catalog, worker, fs, logger)

	manager := daemon.NewManager(daemon.DefaultConfig(), factory, phoneSource(cfg), logger)

	dcfg := usecase.DefaultDispatcherConfig()
	dcfg.MaxFileSizeMB = float64(cfg.MaxFileSizeMB)
	dispatcher := usecase.NewDispatcher(dcfg, manager, coordinator, catalog, fs, cleaner, logger)
	manager.SetHandler(dispatcher)

	registry := infra.NewFileRunRegistry(registryPath(cfg))
	if err := registry.Register(domain.RunInfo{
		PID:        os.Getpid(),
		StartedAt:  time.Now(),
		AppVersion: Version,
	}); err != nil {
		logger.Warn("failed to write run registry", zap.Error(err))
	}
	defer registry.Clear() //nolint:errcheck

	logger.Info("apkdrop starting",
		zap.String("version", Version),
		zap.String("download_dir", cfg.DownloadDir))

	err = manager.Run(ctx)
	cleaner.Wait()
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := infra.NewFileRunRegistry(registryPath(cfg))
	info, err := registry.Load()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	if info == nil || !pm.IsRunning(info.PID) {
		fmt.Println("apkdrop is not running")
		return nil
	}

	fmt.Printf("apkdrop is running (pid %d, since %s, v%s)\n",
		info.PID, info.StartedAt.Format(time.RFC3339), info.AppVersion)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("apkdrop %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

func newLogger() (*zap.Logger, error) {
	if debugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// phoneSource returns the pairing phone number from config/env, prompting
// interactively as a last resort.
func phoneSource(cfg *config.Config) daemon.PhoneSource {
	return func(ctx context.Context) (string, error) {
		if cfg.Phone != "" {
			return cfg.Phone, nil
		}
		fmt.Print("Enter your phone number (with country code, e.g., 1234567890): ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read phone number: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
}

func registryPath(cfg *config.Config) string {
	return filepath.Join(cfg.CredentialsDir, ".apkdrop.run")
}
