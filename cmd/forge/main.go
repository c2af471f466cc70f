// Command forge is a thin build front-end over the engine packages
// (internal/store, internal/nodeengine, internal/jobengine,
// internal/request): enough of a CLI to drive a request end-to-end for
// manual and integration testing. A full rule-authoring front-end is out
// of scope (rule.LoadFile's TOML format stands in for the external
// "Python glue" spec.md describes); forge only consumes already-written
// rules files.
//
// Grounded on cmd/beam/main.go's cobra root command shape: a single
// primary operation on the root command, daemon/gen-docs as
// subcommands.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/forge/internal/config"
	"github.com/bamsammich/forge/internal/dircache"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/jobengine"
	"github.com/bamsammich/forge/internal/nodeengine"
	"github.com/bamsammich/forge/internal/request"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
	"github.com/bamsammich/forge/internal/telemetry"
	"github.com/bamsammich/forge/internal/transport"
)

var version = "dev"

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func main() {
	os.Exit(run())
}

func run() int {
	var (
		storePath   string
		rulesPath   string
		cacheDir    string
		cacheMB     int
		tokens      int
		backendName string
		verbose     bool
		quiet       bool
		logFile     string
		showVersion bool
		sshHost     string
		sshUser     string
		sshKeyFile  string
		sshPort     int
		sshRoot     string
	)

	rootCmd := &cobra.Command{
		Use:   "forge [flags] <target>...",
		Short: "Incremental build orchestrator with syscall-level autodep",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "forge %s\n", version)
				return nil
			}

			logger, closeLog, err := telemetry.Setup(telemetry.Options{
				Verbose: verbose,
				Quiet:   quiet,
				LogFile: logFile,
			})
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck // best-effort log file close on exit

			cfg, err := config.Load()
			if err != nil {
				logger.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Build, &tokens, &backendName)
			if !cmd.Flags().Changed("cache-dir") && cfg.Cache.Dir != nil {
				cacheDir = *cfg.Cache.Dir
			}
			if !cmd.Flags().Changed("cache-capacity-mb") && cfg.Cache.CapacityMB != nil {
				cacheMB = *cfg.Cache.CapacityMB
			}

			if tokens <= 0 {
				tokens = runtime.NumCPU()
			}

			s, err := store.Open(storePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close() //nolint:errcheck // best-effort close on exit

			rules, trie, err := rule.LoadFile(rulesPath)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}

			nodes := nodeengine.New(s, trie, rules)
			jobs := jobengine.New(s, nodes, rules)
			jobs.Backends["local"] = jobengine.Local{}
			if sshHost != "" {
				jobs.Backends["ssh"] = &jobengine.SSHBackend{
					Host:       sshHost,
					User:       sshUser,
					Opts:       transport.SSHOpts{Port: sshPort, KeyFile: sshKeyFile},
					RemoteRoot: sshRoot,
				}
			} else if backendName == "ssh" {
				return errors.New("--backend ssh requires --ssh-host")
			}

			if cacheDir != "" {
				if _, err := dircache.Open(cacheDir, int64(cacheMB)*1024*1024); err != nil {
					logger.Warn("dir cache unavailable", "error", err)
				} else {
					logger.Debug("dir cache open", "dir", cacheDir, "capacity_mb", cacheMB)
				}
			}

			targets := make([]ids.NodeId, 0, len(args))
			for _, path := range args {
				nameID, err := s.InternName(path)
				if err != nil {
					return fmt.Errorf("intern target %s: %w", path, err)
				}
				node, err := s.EmplaceNode(nameID)
				if err != nil {
					return fmt.Errorf("emplace target %s: %w", path, err)
				}
				targets = append(targets, node)
			}

			start := time.Now()
			req := request.New(ids.ReqId(1), targets, s, nodes, jobs, rules, start.UnixNano())

			logger.Info("build started", "targets", len(targets), "tokens", tokens, "backend", backendName)

			runErr := req.Run(func(n ids.NodeId) string {
				rec, err := s.GetNode(n)
				if err != nil {
					return ""
				}
				name, _ := s.NamePath(rec.NameId)
				return name
			})

			elapsed := time.Since(start).Nanoseconds()
			fmt.Fprint(os.Stdout, req.AuditSummary(elapsed))

			if runErr != nil {
				logger.Error("build failed", "error", runErr)
				return &exitError{code: 1}
			}
			if req.StatsSnapshot().Failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().StringVar(&storePath, "store", ".forge/store.db", "path to the store database")
	rootCmd.Flags().StringVar(&rulesPath, "rules", "rules.toml", "path to the rules file")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory cache root (disabled if empty)")
	rootCmd.Flags().IntVar(&cacheMB, "cache-capacity-mb", 1024, "directory cache capacity in MB")
	rootCmd.Flags().IntVarP(&tokens, "tokens", "j", 0, "n_tokens parallelism budget (default: NumCPU)")
	rootCmd.Flags().StringVar(&backendName, "backend", "local", "execution backend (local, ssh)")
	rootCmd.Flags().StringVar(&sshHost, "ssh-host", "", "remote worker host for the ssh backend")
	rootCmd.Flags().StringVar(&sshUser, "ssh-user", "", "remote worker user (default: current user)")
	rootCmd.Flags().StringVar(&sshKeyFile, "ssh-key", "", "SSH private key file (default: auto-detect)")
	rootCmd.Flags().IntVar(&sshPort, "ssh-port", 22, "SSH port")
	rootCmd.Flags().StringVar(&sshRoot, "ssh-remote-root", "/tmp/forge", "remote directory a job's scratch dir is mirrored under")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all but warnings and errors")
	rootCmd.Flags().StringVar(&logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(docsCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// applyConfigDefaults fills flags not set on the command line from the
// config file, the same "only override what the user didn't set on the
// CLI" discipline as cmd/beam/main.go's applyConfigDefaults.
func applyConfigDefaults(cmd *cobra.Command, defaults config.BuildConfig, tokens *int, backend *string) {
	if !cmd.Flags().Changed("tokens") && defaults.Tokens != nil {
		*tokens = *defaults.Tokens
	}
	if !cmd.Flags().Changed("backend") && defaults.Backend != nil {
		*backend = *defaults.Backend
	}
}
