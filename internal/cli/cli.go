// ============================================================================
// ledger-preexec CLI
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree for the pre-execution engine
//
// Command tree:
//   ledger-preexec
//   ├── serve                # run the orchestrator + sweeper + metrics
//   │   └── --config, -c     # config file path
//   ├── submit                # run one consensus value through a fresh engine
//   │   ├── --file, -f       # consensus value JSON file
//   │   ├── --mode           # sync | sync-pre | async
//   │   └── --timeout-ms     # total timeout for sync-pre/async
//   └── status                 # print the effective configuration
//
// serve starts, in order: (if enabled) the Prometheus metrics server, the
// worker pool (via the orchestrator), and the expiry sweeper. It
// blocks on SIGINT/SIGTERM and stops everything on the way out.
//
// serve and submit both need a concrete execjob.Deps to run a Job
// against. The Applier, ContractInterpreter, AccountStore and
// KeyGenerator are external collaborators this module never implements,
// so demoDeps wires internal/collaborators/fakes as a stand-in backend;
// an embedding ledger node replaces demoDeps with its own collaborators
// at the same call site (see DESIGN.md).
// ============================================================================
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/collaborators"
	"github.com/ChuLiYu/ledger-preexec/internal/collaborators/fakes"
	"github.com/ChuLiYu/ledger-preexec/internal/config"
	"github.com/ChuLiYu/ledger-preexec/internal/execjob"
	"github.com/ChuLiYu/ledger-preexec/internal/metrics"
	"github.com/ChuLiYu/ledger-preexec/internal/orchestrator"
	"github.com/ChuLiYu/ledger-preexec/internal/registry"
	"github.com/ChuLiYu/ledger-preexec/internal/sweeper"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
	"github.com/spf13/cobra"
)

var configFile string

// BuildCLI assembles the root command and its three subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ledger-preexec",
		Short:   "Speculative pre-execution engine for a ledger node",
		Long:    "ledger-preexec runs a proposed consensus value against ledger state ahead of commit, tracking a fingerprinted job registry of running and completed speculative executions.",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// demoDeps builds the execjob.Deps the CLI runs against when no embedder
// has supplied its own collaborators: in-memory fakes standing in for the
// ledger store, contract interpreter, account store and key generator
// spec.md §1/§6 keep out of this module's scope. collector may be nil, in
// which case every Job built from these Deps simply records no metrics.
func demoDeps(collector *metrics.Collector) execjob.Deps {
	return execjob.Deps{
		Applier:     &fakes.Applier{},
		Interpreter: &fakes.NestedContractInterpreter{},
		Accounts:    fakes.NewAccountStore(),
		KeyGen:      &fakes.KeyGenerator{},
		Clock:       collaborators.SystemClock{},
		LedgerView:  fakes.LedgerStateView{},
		Metrics:     collector,
	}
}

func loadConfigOrDefault(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("could not load config file, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}

func buildServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pre-execution engine's orchestrator and expiry sweeper",
		Long:  "Starts the worker pool, the orchestrator, the expiry sweeper, and (if enabled) the Prometheus metrics server. Blocks until SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadConfigOrDefault(configFile))
		},
	}
	return cmd
}

func runServe(cfg config.Config) error {
	reg := registry.New()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		go reportRegistryStats(reg, collector)
	}

	orch := orchestrator.New(demoDeps(collector), reg, orchestrator.Config{
		WorkerCount:  cfg.Worker.PoolSize,
		TaskBuffer:   cfg.Worker.TaskBuffer,
		PollInterval: 10 * time.Millisecond,
	})
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	sw := sweeper.New(reg, sweeper.Config{
		Cadence:      cfg.Sweeper.Cadence,
		GlobalBudget: cfg.Sweeper.GlobalBudget,
		Metrics:      collector,
	})
	sw.Start()
	defer sw.Stop()

	slog.Info("ledger-preexec serving", "worker_pool", cfg.Worker.PoolSize, "sweeper_cadence", cfg.Sweeper.Cadence, "global_budget", cfg.Sweeper.GlobalBudget)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

func reportRegistryStats(reg *registry.Registry, collector *metrics.Collector) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		status := reg.Status()
		collector.UpdateRegistryStats(status.RunningSize, status.CompletedSize)
	}
}

// consensusValueFile is the on-disk JSON shape submit reads. Addresses and
// hashes are hex-encoded text for readability.
type consensusValueFile struct {
	LedgerSeq          uint32 `json:"ledger_seq"`
	CloseTime          int64  `json:"close_time"`
	PreviousLedgerHash string `json:"previous_ledger_hash"`
	Transactions       []struct {
		SourceAddress string `json:"source_address"`
	} `json:"transactions"`
}

func (f consensusValueFile) toConsensusValue() types.ConsensusValue {
	cv := types.ConsensusValue{LedgerSeq: f.LedgerSeq, CloseTime: f.CloseTime}
	for _, tx := range f.Transactions {
		cv.Transactions = append(cv.Transactions, types.Transaction{SourceAddress: tx.SourceAddress})
	}
	return cv
}

func buildSubmitCommand() *cobra.Command {
	var file string
	var mode string
	var timeoutMs int64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a consensus value against a fresh in-process engine",
		Long:  "Reads a consensus value from a JSON file and runs it through sync-process, sync-pre-process, or async-pre-process. Spins up its own orchestrator; it does not attach to a running serve instance (matching the teacher's local-submission fallback).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(file, mode, time.Duration(timeoutMs)*time.Millisecond)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file containing the consensus value")
	cmd.Flags().StringVar(&mode, "mode", "sync-pre", "one of: sync, sync-pre, async")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 2000, "total timeout in milliseconds for sync-pre/async")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runSubmit(filePath, mode string, totalTimeout time.Duration) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read consensus value file: %w", err)
	}

	var raw consensusValueFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse consensus value json: %w", err)
	}
	cv := raw.toConsensusValue()

	cfg := loadConfigOrDefault(configFile)
	reg := registry.New()
	orch := orchestrator.New(demoDeps(nil), reg, orchestrator.Config{
		WorkerCount: cfg.Worker.PoolSize,
		TaskBuffer:  cfg.Worker.TaskBuffer,
	})
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	switch mode {
	case "sync":
		ledger, err := orch.SyncProcess(context.Background(), cv)
		if err != nil {
			return err
		}
		fmt.Printf("sync_process: ledger_seq=%d applied_tx=%d\n", ledger.Header().Seq, len(ledger.AppliedTransactions()))

	case "sync-pre":
		ok, timeoutTxIndex, err := orch.SyncPreProcess(cv, totalTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("sync_pre_process: ok=%v timeout_tx_index=%d\n", ok, timeoutTxIndex)

	case "async":
		done := make(chan bool, 1)
		code, err := orch.AsyncPreProcess(cv, totalTimeout, func(ok bool) { done <- ok })
		if err != nil {
			return err
		}
		fmt.Printf("async_pre_process: code=%d\n", code)
		if code == -1 {
			select {
			case ok := <-done:
				fmt.Printf("async_pre_process: callback ok=%v\n", ok)
			case <-time.After(totalTimeout + time.Second):
				fmt.Println("async_pre_process: callback did not fire in time")
			}
		}

	default:
		return fmt.Errorf("unknown mode %q (want sync, sync-pre, or async)", mode)
	}

	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		Long:  "Prints the sweeper cadence, global budget, worker pool size and metrics settings that a serve invocation with the same --config would use. Does not attach to a running serve process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg := loadConfigOrDefault(configFile)

	fmt.Println("ledger-preexec configuration")
	fmt.Printf("  config file:        %s\n", configFile)
	fmt.Printf("  sweeper cadence:    %s\n", cfg.Sweeper.Cadence)
	fmt.Printf("  global job budget:  %s\n", cfg.Sweeper.GlobalBudget)
	fmt.Printf("  tx timeout:         %s\n", cfg.Job.TxTimeout)
	fmt.Printf("  worker pool size:   %d\n", cfg.Worker.PoolSize)
	if cfg.Metrics.Enabled {
		fmt.Printf("  metrics:            enabled on :%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  metrics:            disabled")
	}
	return nil
}
