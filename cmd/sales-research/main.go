package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/sales-research/pkg/app"
	"github.com/mikeboe/sales-research/pkg/config"
	"github.com/mikeboe/sales-research/pkg/research"
	"github.com/mikeboe/sales-research/pkg/session"
)

var (
	targetID   string
	targetName string
	jsonOutput bool
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "sales-research",
		Short: "Research the company behind a person",
		Long:  `sales-research runs an iterative web research session for a person's company and streams its progress to the terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("target") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter person id: ")
				input, _ := reader.ReadString('\n')
				targetID = strings.TrimSpace(input)
			}
			if targetID == "" {
				return fmt.Errorf("target cannot be empty")
			}
			return run(cmd.Context(), config.Load())
		},
	}

	rootCmd.Flags().StringVarP(&targetID, "target", "t", "", "The person id to research")
	rootCmd.Flags().StringVarP(&targetName, "name", "n", "Unknown Person", "Display name for the session")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print events as JSON lines")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	id, sub := a.Sessions.StartSubscribed(research.Target{ID: targetID, Name: targetName})
	defer a.Sessions.Cleanup(id)
	defer a.Sessions.Unsubscribe(id, sub)
	slog.Info("Starting research", "session_id", id, "target_id", targetID)

	var last session.Event
	for ev := range sub.Events() {
		last = ev
		printEvent(ev)
	}

	if last.Kind == session.EventError {
		return fmt.Errorf("research failed: %s", last.Snapshot.ErrorMessage)
	}
	return nil
}

func printEvent(ev session.Event) {
	if jsonOutput {
		out, _ := json.Marshal(ev)
		fmt.Println(string(out))
		return
	}

	s := ev.Snapshot
	fmt.Printf("[%3d%%] %-10s %s\n", s.Progress, ev.Kind, s.CurrentStep)
	if ev.Kind == session.EventCompleted {
		out, _ := json.MarshalIndent(s.Results, "", "  ")
		fmt.Println(string(out))
	}
}
