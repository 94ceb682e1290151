package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/backlogpilot/internal/app"
	"github.com/harun/backlogpilot/internal/config"
	"github.com/harun/backlogpilot/internal/logger"
	"github.com/harun/backlogpilot/pkg/agent"
	"github.com/harun/backlogpilot/pkg/transcript"
	"github.com/spf13/cobra"
)

// runner is the part of app.App the run command needs
type runner interface {
	Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error)
	Close() error
}

var newRunner = func(cfg *config.Config, log *logger.Logger) (runner, error) {
	return app.New(cfg, log)
}

var (
	runMaxIterations int
	runHistoryFile   string
	runID            string
	runJSON          bool
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run the assistant on one objective",
	Long: `Run the assistant until it answers in plain text, hits the consecutive
tool-failure threshold, or uses up its iteration budget. Items changed along
the way are listed even when the run fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override agent.max_iterations for this run")
	runCmd.Flags().StringVar(&runHistoryFile, "history", "", "JSON file with earlier conversation turns")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runMaxIterations < 0 {
		return fmt.Errorf("--max-iterations cannot be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	history, err := loadHistory(runHistoryFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	r, err := newRunner(cfg, log)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := r.Run(ctx, agent.RunParams{
		Objective:     strings.Join(args, " "),
		History:       history,
		RunID:         runID,
		MaxIterations: runMaxIterations,
	})
	if result != nil {
		if err := printResult(cmd.OutOrStdout(), result, runJSON); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

// loadHistory reads a JSON array of turns in either wire shape
func loadHistory(path string) ([]transcript.RawTurn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var records []transcript.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	turns := make([]transcript.RawTurn, 0, len(records))
	for _, r := range records {
		turns = append(turns, r)
	}
	return turns, nil
}

func printResult(w io.Writer, result *agent.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	fmt.Fprintln(w, result.Summary)
	printIDs(w, "Created", result.Artifacts.CreatedItemIDs)
	printIDs(w, "Updated", result.Artifacts.UpdatedItemIDs)
	printIDs(w, "Deleted", result.Artifacts.DeletedItemIDs)
	return nil
}

func printIDs(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(ids, ", "))
}
