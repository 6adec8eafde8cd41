// Command idsaggd is the aggregator's integration controller: it wires
// the full pipeline together, supervises producer child processes, and
// exposes start/status/reload-config/stop verbs (spec §6.5). The
// subcommand-per-verb tree follows the cobra convention of the
// nightjar-sentinel CLI; process lifecycle (slog setup, signal handling,
// exit codes) follows control-plane/cmd/server/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/idsaggd/idsaggd/internal/config"
	"github.com/idsaggd/idsaggd/internal/pipeline"
	"github.com/idsaggd/idsaggd/internal/tracing"
)

// Exit codes per spec §6.5.
const (
	exitClean       = 0
	exitConfigError = 1
	exitStartup     = 2
	exitRuntime     = 3
	exitInterrupted = 130
)

var (
	configPath string
	logLevel   string
	pidfile    string
	statusAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "idsaggd",
		Short: "Hybrid intrusion-detection alert aggregator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&pidfile, "pidfile", "/tmp/idsaggd.pid", "pidfile path used by start/stop/reload-config")
	root.PersistentFlags().StringVar(&statusAddr, "status-addr", "127.0.0.1:9901", "loopback address the status endpoint binds to / queries")

	root.AddCommand(startCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(reloadConfigCmd())
	root.AddCommand(stopCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func newLogger(level string) *slog.Logger {
	lv := slog.LevelInfo
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnvOverrides()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the aggregator pipeline and supervisor until signaled",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(exitConfigError)
			}

			log := newLogger(cfg.LogLevel)

			closer, err := tracing.Init(tracing.Config{ServiceName: "idsaggd"}, log)
			if err != nil {
				log.Error("failed to initialize tracing", "error", err)
				os.Exit(exitStartup)
			}
			defer closer.Close()

			p, err := pipeline.New(cfg, log)
			if err != nil {
				log.Error("failed to construct pipeline", "error", err)
				os.Exit(exitStartup)
			}

			if err := writePidfile(pidfile); err != nil {
				log.Error("failed to write pidfile", "error", err, "path", pidfile)
				os.Exit(exitStartup)
			}
			defer os.Remove(pidfile)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p.Start(ctx)

			srv := startStatusServer(statusAddr, p, log)
			defer srv.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

			log.Info("idsaggd started", "pid", os.Getpid(), "status_addr", statusAddr)

			exitCode := exitClean
			for {
				sig := <-sigCh
				if sig == syscall.SIGHUP {
					log.Info("received SIGHUP, reloading correlation rules")
					if configPath != "" {
						if err := p.ReloadRules(configPath); err != nil {
							log.Error("rule reload failed", "error", err)
						}
					}
					continue
				}
				if sig == os.Interrupt {
					exitCode = exitInterrupted
				}
				log.Info("received shutdown signal", "signal", sig)
				break
			}

			cancel()
			p.Shutdown()
			log.Info("idsaggd shutdown complete")
			os.Exit(exitCode)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the running instance's statistics as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			client := http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get("http://" + statusAddr + "/status")
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to reach idsaggd at %s: %v\n", statusAddr, err)
				os.Exit(exitRuntime)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read status response: %v\n", err)
				os.Exit(exitRuntime)
			}
			fmt.Println(string(body))
		},
	}
}

func reloadConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-config",
		Short: "Signal a running instance to reread its correlation rule set",
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := readPidfile(pidfile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read pidfile %s: %v\n", pidfile, err)
				os.Exit(exitConfigError)
			}
			if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
				fmt.Fprintf(os.Stderr, "failed to signal pid %d: %v\n", pid, err)
				os.Exit(exitRuntime)
			}
			fmt.Printf("sent SIGHUP to pid %d\n", pid)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running instance to shut down and wait for it to exit",
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := readPidfile(pidfile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read pidfile %s: %v\n", pidfile, err)
				os.Exit(exitConfigError)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				fmt.Fprintf(os.Stderr, "failed to signal pid %d: %v\n", pid, err)
				os.Exit(exitRuntime)
			}

			// Wait for the pidfile to disappear, up to the default shutdown grace plus two seconds.
			deadline := time.Now().Add(config.DefaultConfig().Supervisor.ShutdownGrace() + 2*time.Second)
			for time.Now().Before(deadline) {
				if _, err := os.Stat(pidfile); os.IsNotExist(err) {
					fmt.Printf("idsaggd (pid %d) stopped\n", pid)
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintf(os.Stderr, "idsaggd (pid %d) did not exit within the shutdown grace period\n", pid)
			os.Exit(exitRuntime)
		},
	}
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// startStatusServer binds a loopback HTTP endpoint serving the pipeline's
// stats snapshot as JSON, per spec §6.5's status command.
func startStatusServer(addr string, p *pipeline.Pipeline, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Stats())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("status endpoint unavailable", "addr", addr, "error", err)
		return srv
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("status endpoint stopped", "error", err)
		}
	}()
	return srv
}
