package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kartoza/funcatlas/internal/config"
	"github.com/kartoza/funcatlas/internal/server"
	"github.com/spf13/cobra"
	webview "github.com/webview/webview_go"
)

var version = "dev"

// Flags shared by every command
var (
	flagConfig   string
	flagPort     int
	flagDataDir  string
	flagMediaDir string
	flagDB       string
	flagHeadless bool
)

var rootCmd = &cobra.Command{
	Use:     "funcatlas",
	Short:   "Explore predicted neural responses from a functional atlas",
	Version: version,
	Long: `FuncAtlas serves a page where a stimulated neuron, its responders and a
stimulus waveform are picked, and plots the responses predicted by a
functional atlas snapshot.

Without a subcommand it runs "serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web application",
	Long: `Run the web application. Unless --headless is given the page opens in
an embedded window and the server stops when the window is closed.`,
	RunE: runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Settings file (default is the per-user settings.yaml)")
	pf.IntVar(&flagPort, "port", 8080, "HTTP server port")
	pf.StringVar(&flagDataDir, "data-dir", "", "Directory for the database and saved presets")
	pf.StringVar(&flagMediaDir, "media-dir", "", "Directory containing atlas/<strain>.pickle snapshots")
	pf.StringVar(&flagDB, "db", "", "Neuron directory database (default <data-dir>/funcatlas.db)")

	rootCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run in headless mode (no GUI window)")
	serveCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run in headless mode (no GUI window)")
	rootCmd.SetVersionTemplate("FuncAtlas v{{.Version}}\n")

	rootCmd.AddCommand(serveCmd, loadNeuronsCmd, synthAtlasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the settings file, FUNCATLAS_* variables and
// explicitly set flags, in that order
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Defaults()
	cfg.Version = version
	cfg.SettingsFile = flagConfig

	settings, err := config.LoadSettings(flagConfig)
	if err != nil {
		if flagConfig != "" {
			return cfg, err
		}
		log.Printf("Warning: could not load settings: %v", err)
	}
	cfg = cfg.ApplySettings(settings).ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if flags.Changed("media-dir") {
		cfg.MediaDir = flagMediaDir
	}
	if flags.Changed("db") {
		cfg.DBPath = flagDB
	}
	cfg.Headless = flagHeadless
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Find an available port (try up to 10 ports starting from the requested one)
	availablePort, err := findAvailablePort(cfg.Port, 10)
	if err != nil {
		return fmt.Errorf("failed to find available port: %w", err)
	}
	if availablePort != cfg.Port {
		log.Printf("Port %d in use, using port %d instead", cfg.Port, availablePort)
	}
	cfg.Port = availablePort

	log.Printf("FuncAtlas v%s starting on port %d", version, cfg.Port)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Atlas directory: %s", cfg.AtlasDir())

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for server to be ready
	serverURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
	waitForServer(serverURL, 10*time.Second)

	if cfg.Headless {
		// Headless mode: wait for signal or error
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-stop:
			log.Printf("Received %v signal, shutting down...", sig)
			if err := srv.Stop(); err != nil {
				log.Printf("Error during shutdown: %v", err)
			}
		}
		return nil
	}

	// GUI mode: open embedded WebView window
	log.Printf("Opening application window...")
	w := webview.New(false)
	defer w.Destroy()

	w.SetTitle("FuncAtlas")
	w.SetSize(1280, 800, webview.HintNone)
	w.Navigate(serverURL)

	// When the webview window closes, shut down the server
	go func() {
		select {
		case err := <-errCh:
			if err != nil {
				log.Printf("Server error: %v", err)
			}
		case sig := <-stop:
			log.Printf("Received %v signal, shutting down...", sig)
			w.Terminate()
		}
	}()

	// Run blocks until the window is closed
	w.Run()

	log.Printf("Window closed, shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	return nil
}

// waitForServer polls until the server is accepting connections
func waitForServer(url string, timeout time.Duration) {
	addr := url[len("http://"):]
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("Warning: server may not be ready at %s", url)
}

// findAvailablePort finds an available port, starting from the given port.
// If the port is in use, it tries subsequent ports up to maxAttempts times.
func findAvailablePort(startPort int, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		addr := fmt.Sprintf(":%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port found after %d attempts starting from %d", maxAttempts, startPort)
}
