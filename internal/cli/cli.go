package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dhruv465/Website-Builder-sub000/internal/api"
	"github.com/dhruv465/Website-Builder-sub000/internal/log"
	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
	"github.com/dhruv465/Website-Builder-sub000/pkg/monitor"
)

type config struct {
	apiURL    string
	wsURL     string
	sessionID string
}

func loadConfig(cmd *cobra.Command) config {
	if err := godotenv.Load(); err != nil {
		log.GetLogger().Debugf("No .env file loaded: %v", err)
	}
	cfg := config{
		apiURL:    os.Getenv("BUILDER_API_URL"),
		wsURL:     os.Getenv("BUILDER_WS_URL"),
		sessionID: os.Getenv("BUILDER_SESSION_ID"),
	}
	if v, err := cmd.Flags().GetString("api-url"); err == nil && v != "" {
		cfg.apiURL = v
	}
	if v, err := cmd.Flags().GetString("ws-url"); err == nil && v != "" {
		cfg.wsURL = v
	}
	if v, err := cmd.Flags().GetString("session-id"); err == nil && v != "" {
		cfg.sessionID = v
	}
	if cfg.wsURL == "" {
		log.GetLogger().Errorf("Missing websocket URL: set BUILDER_WS_URL or --ws-url")
		fmt.Println("Missing websocket URL: set BUILDER_WS_URL or --ws-url")
		os.Exit(1)
	}
	return cfg
}

func newMonitor(cfg config) *monitor.Monitor {
	logger := log.GetLogger()
	conn := monitor.NewConnection(monitor.Config{
		BaseURL:   cfg.wsURL,
		SessionID: cfg.sessionID,
		Logger:    logger,
	})
	var workflowAPI monitor.WorkflowAPI
	if cfg.apiURL != "" {
		workflowAPI = api.NewClient(cfg.apiURL, cfg.sessionID, api.WithLogger(logger))
	}
	return monitor.NewMonitor(conn, workflowAPI, logger)
}

// SetupCLI registers the watch, start and cancel commands on the root.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("api-url", "", "Base URL of the workflow REST API")
	rootCmd.PersistentFlags().String("ws-url", "", "Base URL of the workflow event stream")
	rootCmd.PersistentFlags().String("session-id", "", "Session identifier sent with every request")

	watchCmd := &cobra.Command{
		Use:   "watch [workflow-id]",
		Short: "Stream live progress of an existing workflow run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			m := newMonitor(cfg)
			defer m.Close()
			if err := m.Attach(args[0]); err != nil {
				log.GetLogger().Errorf("Error attaching to workflow %s: %v", args[0], err)
				fmt.Printf("Error attaching to workflow %s: %v\n", args[0], err)
				os.Exit(1)
			}
			streamUntilDone(m)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start [prompt]",
		Short: "Start a new site-generation workflow and stream its progress",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			if cfg.apiURL == "" {
				log.GetLogger().Errorf("Missing API URL: set BUILDER_API_URL or --api-url")
				fmt.Println("Missing API URL: set BUILDER_API_URL or --api-url")
				os.Exit(1)
			}
			m := newMonitor(cfg)
			defer m.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			workflowID, err := m.StartWorkflow(ctx, monitor.CreateWorkflowRequest{Prompt: args[0]})
			if err != nil {
				log.GetLogger().Errorf("Error starting workflow: %v", err)
				fmt.Printf("Error starting workflow: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Started workflow %s\n", workflowID)
			streamUntilDone(m)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [workflow-id]",
		Short: "Cancel a running workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			m := newMonitor(cfg)
			defer m.Close()
			if err := m.Attach(args[0]); err != nil {
				log.GetLogger().Errorf("Error attaching to workflow %s: %v", args[0], err)
				fmt.Printf("Error attaching to workflow %s: %v\n", args[0], err)
				os.Exit(1)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.CancelWorkflow(ctx); err != nil {
				log.GetLogger().Errorf("Error cancelling workflow %s: %v", args[0], err)
				fmt.Printf("Error cancelling workflow %s: %v\n", args[0], err)
				os.Exit(1)
			}
			fmt.Printf("Cancelled workflow %s\n", args[0])
		},
	}

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(cancelCmd)
}

func streamUntilDone(m *monitor.Monitor) {
	done := make(chan models.WorkflowStatus, 1)
	unsubscribe := m.Subscribe(func(snap models.WorkflowSnapshot) {
		printSnapshot(snap)
		if snap.Status.Terminal() {
			select {
			case done <- snap.Status:
			default:
			}
		}
	})
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case status := <-done:
		fmt.Printf("Workflow finished: %s\n", status)
	case <-sigCh:
		fmt.Println("Interrupted")
	}
}

func printSnapshot(snap models.WorkflowSnapshot) {
	fmt.Printf("[%s] %s %d%%", snap.UpdatedAt.Format(time.TimeOnly), snap.Status, snap.ProgressPercentage)
	if len(snap.CompletedAgents) > 0 {
		fmt.Printf(" done=%v", snap.CompletedAgents)
	}
	if snap.ErrorMsg != "" {
		fmt.Printf(" error=%q", snap.ErrorMsg)
	}
	fmt.Println()
	if n := len(snap.Logs); n > 0 {
		last := snap.Logs[n-1]
		fmt.Printf("  %s [%s] %s\n", last.Level, last.Agent, last.Message)
	}
}
