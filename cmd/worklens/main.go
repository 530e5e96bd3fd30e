// WorkLens CLI - extraction, rules and top-N selection from the terminal.
package main

import (
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

	"github.com/worklens/worklens/internal/api"
	"github.com/worklens/worklens/internal/config"
	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/extract"
	"github.com/worklens/worklens/internal/ledger"
	"github.com/worklens/worklens/internal/llm"
	"github.com/worklens/worklens/internal/rules"
	"github.com/worklens/worklens/internal/selection"
	"github.com/worklens/worklens/internal/storage"
)

var (
	configPath string
	dataDir    string

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "worklens",
		Short: "WorkLens - candidate action extraction and top-N selection",
		Long: `WorkLens watches your business messages, extracts the work hiding
in them as candidate actions, and picks the top N under your own
natural-language prioritization rules.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(topCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs. Close the db when done.
type app struct {
	cfg *config.Config
	db  *storage.DB

	actionStore    *storage.ActionStore
	selectionStore *storage.SelectionStore
	ledgerStore    *ledger.Store
	recorder       *ledger.Recorder

	llmRouter *llm.Router
	extractor *extract.Extractor
	compiler  *rules.Compiler
	engine    *selection.Engine
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "worklens.db")})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	timeout := time.Duration(cfg.Selection.ProviderTimeout * float64(time.Second))
	llmRouter := llm.NewRouter(llm.RouterConfig{
		OpenAI: llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			Timeout: timeout,
		}),
		Azure: llm.NewAzureClient(llm.AzureConfig{
			APIKey:     cfg.Azure.APIKey,
			Endpoint:   cfg.Azure.Endpoint,
			Deployment: cfg.Azure.Deployment,
			APIVersion: cfg.Azure.APIVersion,
			Timeout:    timeout,
		}),
		OpenRouter: llm.NewOpenRouterClient(llm.OpenRouterConfig{
			APIKey:  cfg.OpenRouter.APIKey,
			Model:   cfg.OpenRouter.Model,
			Timeout: timeout,
		}),
		EnableFallback: true,
	})

	ledgerStore := ledger.NewStore(db.Conn())
	recorder := ledger.NewRecorder(ledgerStore)

	// The compiler's change hook flushes the selection cache; the engine and
	// compiler do not exist yet when the hook is built, hence the indirection.
	var engine *selection.Engine
	var compiler *rules.Compiler
	compiler = rules.NewCompiler(llmRouter, filepath.Join(cfg.DataDir, "rule.json"), func() {
		if engine == nil {
			return
		}
		engine.InvalidateCache()
		// A rule reset clears the instruction and gives the provider a
		// fresh start
		if compiler.Current().RawInstruction == "" {
			engine.ResetBreaker()
		}
	})

	engine = selection.NewEngine(selection.Config{
		Completer:        llmRouter,
		Rules:            compiler,
		TopN:             cfg.Selection.TopN,
		CacheTTL:         time.Duration(cfg.Selection.CacheTTLSeconds) * time.Second,
		FailureThreshold: cfg.Selection.FailureThreshold,
		OnDecision: func(result core.SelectionResult) {
			recorder.RecordSelection(result)
		},
	})

	return &app{
		cfg:            cfg,
		db:             db,
		actionStore:    storage.NewActionStore(db),
		selectionStore: storage.NewSelectionStore(db),
		ledgerStore:    ledgerStore,
		recorder:       recorder,
		llmRouter:      llmRouter,
		extractor: extract.New(extract.Owner{
			Address: cfg.Owner.Address,
			Aliases: cfg.Owner.Aliases,
		}),
		compiler: compiler,
		engine:   engine,
	}, nil
}

// serveCmd runs the HTTP API server
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WorkLens API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			if port == 0 {
				port = a.cfg.Server.Port
			}
			if host == "" {
				host = a.cfg.Server.Host
			}

			if a.llmRouter.IsAvailable() {
				fmt.Println("✅ Reasoning provider configured")
			} else {
				fmt.Println("⚠️  No reasoning provider - selection runs on scores only")
			}

			srv := api.New(api.Config{
				Host:           host,
				Port:           port,
				DB:             a.db,
				Extractor:      a.extractor,
				Compiler:       a.compiler,
				Engine:         a.engine,
				LLMRouter:      a.llmRouter,
				ActionStore:    a.actionStore,
				SelectionStore: a.selectionStore,
				LedgerStore:    a.ledgerStore,
				Recorder:       a.recorder,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				fmt.Printf("\n👋 Received %s, shutting down...\n", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(ctx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (overrides config)")
	return cmd
}

// extractCmd runs the extractor over messages from a JSON file
func extractCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract candidate actions from a JSON file of messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var messages []core.SourceMessage
			if err := json.Unmarshal(data, &messages); err != nil {
				return fmt.Errorf("parse messages: %w", err)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			candidates := a.extractor.ExtractBatch(messages)
			for _, c := range candidates {
				id, err := a.actionStore.Upsert(c)
				if err != nil {
					return err
				}
				c.ID = id
				a.recorder.RecordCandidateCreated(c)
				fmt.Printf("  + [%s] %s (%s, %s)\n", c.Type, c.Title, c.Requester, c.Priority)
			}

			fmt.Printf("\n📥 %d messages → %d candidate actions\n", len(messages), len(candidates))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file containing an array of messages")
	return cmd
}

// topCmd runs a top-N selection over the active pool
func topCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Select the top N candidate actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			candidates, err := a.actionStore.ListActive()
			if err != nil {
				return err
			}

			result := a.engine.SelectTopN(cmd.Context(), candidates)
			if err := a.selectionStore.Record(result); err != nil {
				return err
			}

			byID := make(map[core.ActionID]core.CandidateAction, len(candidates))
			for _, c := range candidates {
				byID[c.ID] = c
			}

			fmt.Printf("🎯 Top %d (%s)\n\n", len(result.SelectedIDs), result.Source)
			for i, id := range result.SelectedIDs {
				c := byID[id]
				deadline := "-"
				if c.Deadline != nil {
					deadline = c.Deadline.Format("2006-01-02 15:04")
				}
				fmt.Printf("  %d. [%s] %s\n     요청자: %s / 우선순위: %s / 마감: %s\n",
					i+1, c.Type, c.Title, c.Requester, c.Priority, deadline)
			}
			if len(result.SelectedIDs) == 0 {
				fmt.Println("  (선정된 후보 없음)")
			}
			fmt.Printf("\n💬 %s\n", result.Reasoning)
			return nil
		},
	}
}

// actionsCmd lists and updates candidate actions
func actionsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List candidate actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			var actions []core.CandidateAction
			if status == "" {
				actions, err = a.actionStore.ListActive()
			} else {
				actions, err = a.actionStore.ListByStatus(core.ActionStatus(status))
			}
			if err != nil {
				return err
			}

			if len(actions) == 0 {
				fmt.Println("📭 No candidate actions")
				return nil
			}

			for _, c := range actions {
				deadline := "-"
				if c.Deadline != nil {
					deadline = c.Deadline.Format("2006-01-02 15:04")
				}
				fmt.Printf("  %s  [%s/%s] %s (요청자: %s, 마감: %s, %s)\n",
					c.ID, c.Type, c.Priority, c.Title, c.Requester, deadline, c.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, in_progress, done, cancelled)")

	cmd.AddCommand(&cobra.Command{
		Use:   "done <actionID>",
		Short: "Mark a candidate action as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setActionStatus(args[0], core.StatusDone)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <actionID>",
		Short: "Cancel a candidate action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setActionStatus(args[0], core.StatusCancelled)
		},
	})

	return cmd
}

func setActionStatus(id string, status core.ActionStatus) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	action, err := a.actionStore.GetByID(core.ActionID(id))
	if err != nil {
		return err
	}
	if err := a.actionStore.SetStatus(action.ID, status); err != nil {
		return err
	}
	a.recorder.RecordStatusChanged(action.ID, action.Status, status)

	fmt.Printf("✅ %s → %s\n", action.Title, status)
	return nil
}

// ruleCmd manages the natural-language selection rule
func ruleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage the selection rule",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "apply <instruction>",
		Short: "Apply a natural-language prioritization rule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			instruction := strings.Join(args, " ")
			note, err := a.compiler.Apply(cmd.Context(), instruction, false)
			if err != nil {
				return err
			}
			a.recorder.RecordRuleApplied(instruction, note)

			fmt.Printf("📏 %s\n\n%s\n", note, a.compiler.Describe())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset the selection rule to defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			a.compiler.Reset()
			a.recorder.RecordRuleReset()

			fmt.Println("🧹 규칙을 기본값으로 초기화했습니다.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active selection rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			fmt.Println(a.compiler.Describe())
			return nil
		},
	})

	return cmd
}

// ledgerCmd inspects the audit ledger
func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the audit ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			count, _ := a.ledgerStore.Count()
			if err := a.ledgerStore.VerifyChain(); err != nil {
				return fmt.Errorf("chain verification failed: %w", err)
			}
			fmt.Printf("✅ Chain valid (%d entries)\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			summary, err := a.ledgerStore.GetSummary()
			if err != nil {
				return err
			}

			fmt.Printf("📒 Ledger: %d entries, chain valid: %v\n", summary.TotalEntries, summary.ChainValid)
			for action, n := range summary.ByAction {
				fmt.Printf("   %-26s %d\n", action, n)
			}
			return nil
		},
	})

	return cmd
}

// statusCmd shows the overall WorkLens status
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show WorkLens status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.db.Close()

			all, _ := a.actionStore.ListAll()
			active, _ := a.actionStore.ListActive()
			ledgerCount, _ := a.ledgerStore.Count()

			fmt.Println("📊 WorkLens Status")
			fmt.Println()
			fmt.Printf("   Data: %s\n", a.cfg.DataDir)
			fmt.Printf("   Candidate actions: %d (%d active)\n", len(all), len(active))
			fmt.Printf("   Ledger entries: %d\n", ledgerCount)

			if a.llmRouter.IsAvailable() {
				fmt.Println("   🤖 Reasoning provider: configured")
			} else {
				fmt.Println("   🤖 Reasoning provider: not configured (score fallback)")
			}
			if a.engine.BreakerOpen() {
				fmt.Printf("   🔌 Circuit breaker: OPEN (%d consecutive failures)\n", a.engine.Failures())
			} else {
				fmt.Println("   🔌 Circuit breaker: closed")
			}

			rule := a.compiler.Current()
			if rule.RawInstruction != "" {
				fmt.Printf("   📏 Active rule: %q\n", rule.RawInstruction)
			} else {
				fmt.Println("   📏 Active rule: defaults")
			}

			return nil
		},
	}
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show WorkLens version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("WorkLens %s\n", version)
		},
	}
}
