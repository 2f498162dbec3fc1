// Package main provides an offline CLI for validating and running flow definition files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcmartin/chatflow/pkg/config"
	"github.com/tcmartin/chatflow/pkg/loader"
	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/registry"
	"github.com/tcmartin/chatflow/pkg/runtime"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// errInvalidFlow makes the process exit with status 1 after the report was printed
var errInvalidFlow = errors.New("flow is invalid")

type cli struct {
	v   *viper.Viper
	out io.Writer
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		if !errors.Is(err, errInvalidFlow) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}
	c.v.SetEnvPrefix("CHATFLOW")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "chatflow-cli",
		Short:         "chatflow CLI",
		Long:          "Validate and run chatbot flow definitions locally against an in-memory store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a flow definition",
		Args:  cobra.ExactArgs(1),
		RunE:  c.validate,
	}

	runCmd := &cobra.Command{
		Use:     "run [file]",
		Short:   "Run one conversational turn of a flow",
		Args:    cobra.ExactArgs(1),
		PreRunE: c.bindFlags,
		RunE:    c.run,
	}
	runCmd.Flags().String("config", "", "Path to a chatflow config file for engine settings")
	runCmd.Flags().String("input", "", "User message for the turn")
	runCmd.Flags().StringArray("context", nil, "Context variable as key=value (repeatable); JSON values are decoded")
	runCmd.Flags().String("user", "cli-user", "User id recorded on the execution")
	runCmd.Flags().Bool("strict", false, "Treat unrecognized edge conditions as false")
	runCmd.Flags().Duration("timeout", 0, "Turn deadline (defaults to the engine timeout)")
	runCmd.Flags().Bool("verbose", false, "Log engine activity to stderr")

	rootCmd.AddCommand(validateCmd, runCmd)
	return rootCmd
}

func (c *cli) bindFlags(cmd *cobra.Command, _ []string) error {
	return c.v.BindPFlags(cmd.Flags())
}

func (c *cli) printJSON(value any) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (c *cli) validate(cmd *cobra.Command, args []string) error {
	flow, err := loader.NewYAMLLoader().ParseFile(args[0])
	if err != nil {
		return err
	}

	result := validation.Validate(flow)
	if err := c.printJSON(result); err != nil {
		return err
	}
	if !result.IsValid {
		return errInvalidFlow
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if path := c.v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	config.ApplyEnvOverrides(cfg)
	if c.v.GetBool("strict") {
		cfg.Engine.StrictConditions = true
	}

	vars, err := parseContext(c.v.GetStringSlice("context"))
	if err != nil {
		return err
	}

	logger := logging.NewNopLogger()
	if c.v.GetBool("verbose") {
		zapLogger, err := logging.NewZapLogger(logging.LogConfig{Level: "debug", Format: "console", Output: "stderr"})
		if err != nil {
			return err
		}
		defer zapLogger.Sync()
		logger = zapLogger
	}

	ctx := context.Background()
	provider := storage.NewMemoryProvider()
	if err := provider.Initialize(ctx); err != nil {
		return err
	}
	defer provider.Close()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read flow file: %w", err)
	}
	flowRegistry := registry.NewFlowRegistry(provider.GetGraphStore(), registry.FlowRegistryOptions{Logger: logger})
	flow, result, err := flowRegistry.Import(ctx, content)
	if errors.Is(err, registry.ErrInvalidFlow) {
		if err := c.printJSON(result); err != nil {
			return err
		}
		return errInvalidFlow
	}
	if err != nil {
		return err
	}

	timeout := cfg.EngineTimeout()
	if d := c.v.GetDuration("timeout"); d > 0 {
		timeout = d
	}
	engine := runtime.NewEngine(provider.GetGraphStore(), provider.GetExecutionStore(), runtime.Options{
		MaxDepth:         cfg.Engine.MaxDepth,
		Timeout:          timeout,
		PersistTimeout:   cfg.PersistTimeout(),
		StrictConditions: cfg.Engine.StrictConditions,
		Logger:           logger,
		ScriptEngine:     scripting.NewGojaScriptEngine(cfg.ScriptTimeout()),
	})

	execution := models.Execution{FlowID: flow.ID, BotID: flow.BotID, UserID: c.v.GetString("user")}
	return c.printJSON(engine.ExecuteFlow(ctx, execution, c.v.GetString("input"), vars))
}
