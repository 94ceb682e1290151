package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/harun/backlogpilot/pkg/runlog"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the events recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunLog() (*runlog.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runlog.New(cfg.RunLog.Dir)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openRunLog()
	if err != nil {
		return err
	}
	ids, err := store.ListRuns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRunLog()
	if err != nil {
		return err
	}
	events, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events recorded for run %s", args[0])
	}

	out := cmd.OutOrStdout()
	for _, e := range events {
		writeEvent(out, e)
	}
	elapsed := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	fmt.Fprintf(out, "%d event(s) over %s\n", len(events), formatDuration(elapsed))
	return nil
}

func writeEvent(out io.Writer, e runlog.Event) {
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k+"="+formatValue(e.Payload[k]))
	}
	fmt.Fprintf(out, "%s %-12s %s\n", e.Timestamp.Format("15:04:05.000"), e.Kind, strings.Join(fields, " "))
}

func formatValue(v interface{}) string {
	if s, ok := v.(string); ok {
		if len(s) > 80 {
			s = s[:77] + "..."
		}
		return fmt.Sprintf("%q", s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
