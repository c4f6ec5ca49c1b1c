package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/reactorhq/reactor/internal/actions"
	"github.com/reactorhq/reactor/internal/config"
	"github.com/reactorhq/reactor/internal/engine"
	"github.com/reactorhq/reactor/internal/state"
	"github.com/reactorhq/reactor/internal/triggers"
	"github.com/reactorhq/reactor/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	workflowDir string
	port        int
	dataDir     string
	storeDriver string
	storeDSN    string
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reactor",
	Short: "Event-driven workflow engine",
	Long:  "Reactor is a Go-native workflow engine for defining, orchestrating, and executing asynchronous workflows based on incoming events.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the reactor daemon",
	Long:  "Start the reactor daemon to listen for events and execute workflows",
	RunE:  runDaemon,
}

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Validate a workflow YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  validateWorkflow,
}

var executeCmd = &cobra.Command{
	Use:   "execute [workflow-file] [event-data]",
	Short: "Execute a workflow with given event data",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  executeWorkflow,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.reactor.yaml)")
	rootCmd.PersistentFlags().StringVar(&workflowDir, "workflows", "./workflows", "directory containing workflow files")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory for the JSON run store (ignored when --store-driver is set)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store-driver", "", "SQL run store driver (postgres, mysql, sqlite); empty uses the JSON store")
	rootCmd.PersistentFlags().StringVar(&storeDSN, "store-dsn", "", "SQL run store DSN, required when --store-driver is set")

	runCmd.Flags().IntVarP(&port, "port", "p", 8000, "HTTP server port")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(executeCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".reactor")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Initialize logger
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
}

func buildStore() (state.Store, error) {
	if storeDriver != "" {
		if storeDSN == "" {
			return nil, fmt.Errorf("--store-dsn is required when --store-driver is set")
		}
		return state.Open(storeDriver, storeDSN)
	}
	return state.NewJSONStore(dataDir)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := &config.Config{
		WorkflowDir: workflowDir,
		HTTPPort:    port,
		LogLevel:    "info",
		DataDir:     dataDir,
	}

	store, err := buildStore()
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	registry := actions.NewRegistry(logger)
	driver := engine.NewDriver(registry, store, engine.NoopObserver{})
	runner := triggers.NewRunner(logger, driver)

	if err := loadWorkflows(runner, cfg.WorkflowDir); err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	logger.Info("starting trigger systems")

	httpTrigger := triggers.NewHTTPTrigger(logger, runner, cfg.HTTPPort)
	go func() {
		if err := httpTrigger.Start(); err != nil {
			logger.Error("HTTP trigger failed", zap.Error(err))
		}
	}()

	fileTrigger := triggers.NewFileTrigger(logger, runner)
	go func() {
		if err := fileTrigger.Start(cfg.WorkflowDir); err != nil {
			logger.Error("file trigger failed", zap.Error(err))
		}
	}()

	logger.Info("reactor daemon started",
		zap.Int("port", cfg.HTTPPort),
		zap.String("workflow_dir", cfg.WorkflowDir))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down reactor daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpTrigger.Stop(ctx)
	fileTrigger.Stop()

	return nil
}

func validateWorkflow(cmd *cobra.Command, args []string) error {
	workflowFile := args[0]

	wf, err := workflow.LoadFromFile(workflowFile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("workflow %q is valid\n", wf.Workflow.ID)
	fmt.Printf("  name:     %s\n", wf.Workflow.Name)
	fmt.Printf("  triggers: %d\n", len(wf.Triggers))
	fmt.Printf("  steps:    %d\n", len(wf.Steps))

	return nil
}

func executeWorkflow(cmd *cobra.Command, args []string) error {
	workflowFile := args[0]
	eventData := "{}"
	if len(args) > 1 {
		eventData = args[1]
	}

	store, err := buildStore()
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	registry := actions.NewRegistry(logger)
	driver := engine.NewDriver(registry, store, engine.NoopObserver{})

	wf, err := workflow.LoadFromFile(workflowFile)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	var inputs map[string]interface{}
	if eventData != "{}" {
		if err := json.Unmarshal([]byte(eventData), &inputs); err != nil {
			return fmt.Errorf("failed to parse event data: %w", err)
		}
	}

	fmt.Printf("executing workflow: %s\n", wf.Workflow.ID)

	result, err := driver.Run(context.Background(), wf, inputs)
	if err != nil {
		return fmt.Errorf("workflow execution failed: %w", err)
	}

	fmt.Printf("workflow finished with status %s\n", result.Status)
	if result.Error != "" {
		fmt.Printf("  error: %s\n", result.Error)
	}
	return nil
}

func loadWorkflows(runner *triggers.Runner, workflowDir string) error {
	return filepath.Walk(workflowDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && (filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml") {
			wf, err := workflow.LoadFromFile(path)
			if err != nil {
				logger.Warn("failed to load workflow", zap.String("file", path), zap.Error(err))
				return nil
			}

			runner.Register(wf)
			logger.Info("loaded workflow", zap.String("id", wf.Workflow.ID), zap.String("file", path))
		}

		return nil
	})
}

func Execute() error {
	return rootCmd.Execute()
}
