package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/engine"
	"conclave/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// ask flags
	presetName    string
	strategyName  string
	moderatorName string

	// status flags
	watchConfig bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "conclave - multi-LLM council deliberation engine",
	Long: `conclave puts a question to a council of LLMs concurrently and collapses
their answers into a single decision.

Four strategies are available:
  consensus  cluster similar answers, report the majority position
  weighted   fuse answers by caller-assigned member weights
  meta       have a selected moderator synthesize all answers
  adaptive   negotiate over multiple rounds until the council converges`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// askCmd runs one deliberation
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Put a question to the council and print the decision",
	Long: `Fans the prompt out to every active council member of the selected
preset, then collapses the responses via the preset's synthesis strategy.

Example:
  conclave ask "What is the capital of France?" --preset default --strategy adaptive`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// configCmd groups configuration subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage conclave configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

// statusCmd reports provider health
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show council member health for a preset",
	Long: `Prints each council member of the selected preset with its health state.

With --watch the command keeps running, reloads the configuration whenever
the file changes on disk, and re-prints the council. A rewrite that fails
validation is rejected and the last good configuration stays active.`,
	RunE: runStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <workspace>/.conclave/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall operation timeout")

	askCmd.Flags().StringVar(&presetName, "preset", "", "Deliberation preset (default: \"default\")")
	askCmd.Flags().StringVar(&strategyName, "strategy", "", "Override the preset's synthesis strategy")
	askCmd.Flags().StringVar(&moderatorName, "moderator", "", "Designate a member ID as meta-synthesis moderator")

	statusCmd.Flags().BoolVar(&watchConfig, "watch", false, "Keep running and reload the config when the file changes")
	statusCmd.Flags().StringVar(&presetName, "preset", "", "Preset whose council to report (default: \"default\")")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}
	if err := logging.Initialize(workspace, opts); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	prompt := strings.Join(args, " ")
	logger.Info("deliberation requested",
		zap.String("preset", presetName),
		zap.String("strategy", strategyName),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	decision, err := eng.Deliberate(ctx, engine.Request{
		Preset:    presetName,
		Prompt:    prompt,
		Strategy:  strategyName,
		Moderator: moderatorName,
	})
	if err != nil {
		return err
	}

	printDecision(decision, time.Since(start))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("OK: %s (%d presets)\n", path, len(cfg.Presets))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for name, p := range cfg.Presets {
		fmt.Printf("preset %s:\n", name)
		fmt.Printf("  strategy: %s, rounds: %d\n", p.Deliberation.Strategy, p.Deliberation.Rounds)
		fmt.Printf("  global timeout: %v, max concurrent: %d\n", p.Performance.GlobalTimeout(), p.Performance.MaxConcurrentCalls)
		fmt.Printf("  iterative: max_rounds=%d threshold=%.2f mode=%s fallback=%s\n",
			p.Iterative.MaxRounds, p.Iterative.AgreementThreshold, p.Iterative.Mode, p.Iterative.FallbackStrategy)
		for _, m := range p.Council {
			fmt.Printf("  member %s: model=%s timeout=%v weight=%.1f enabled=%t\n",
				m.ID, m.Model, m.Timeout(), m.Weight, !m.Disabled)
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	if err := printStatus(cfg, eng); err != nil {
		return err
	}
	if !watchConfig {
		return nil
	}

	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("--watch requires a config file on disk: %w", err)
	}
	watcher, err := config.NewWatcher(path, cfg, func(next *config.Config) {
		fmt.Printf("\n-- config reloaded %s\n", time.Now().Format(time.TimeOnly))
		if perr := printStatus(next, eng); perr != nil {
			fmt.Fprintln(os.Stderr, "Error:", perr)
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	ctx, cancel := signalContext()
	defer cancel()
	fmt.Printf("-- watching %s (Ctrl-C to stop)\n", path)
	<-ctx.Done()
	return nil
}

func printStatus(cfg *config.Config, eng *engine.Engine) error {
	preset, err := cfg.Preset(presetName)
	if err != nil {
		return err
	}
	for _, m := range preset.Council {
		st := eng.Tracker().StatusOf(m.ID)
		state := "active"
		if m.Disabled || st.Disabled {
			state = "disabled"
			if st.Reason != "" {
				state += " (" + st.Reason + ")"
			}
		}
		fmt.Printf("%-16s %-24s %s, %d consecutive failures\n", m.ID, m.Model, state, st.FailureCount)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(workspace)
}

// loadConfig reads the configured path, falling back to defaults when no
// config file exists yet.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) && configPath == "" {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func printDecision(d *council.Decision, elapsed time.Duration) {
	fmt.Println(d.Content)
	fmt.Println()
	fmt.Printf("-- strategy=%s confidence=%s agreement=%.2f contributors=%s elapsed=%v\n",
		d.Strategy, d.Confidence, d.Agreement, strings.Join(d.Contributing, ","), elapsed.Round(time.Millisecond))
	if d.GlobalDeadline {
		fmt.Println("-- partial: global deadline fired before every member answered")
	}
	if n := d.Negotiation; n != nil {
		fmt.Printf("-- negotiation: rounds=%d consensus=%t early=%t fallback=%t deadlock=%t quality=%.2f\n",
			n.RoundsUsed, n.ConsensusReached, n.EarlyTerminated, n.FallbackUsed, n.DeadlockDetected, n.QualityScore)
		if n.EstimatedCostSavings > 0 {
			fmt.Printf("-- estimated savings: $%.4f\n", n.EstimatedCostSavings)
		}
		if n.EscalationAdvised {
			fmt.Println("-- escalation advised: council is deadlocked; human review recommended")
		}
	}
}
