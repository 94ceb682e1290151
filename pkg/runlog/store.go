package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/backlogpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const maxLineSize = 1024 * 1024

// Event is one recorded step of a run
type Event struct {
	RunID     string                 `json:"run_id"`
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Store writes run events under a directory
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Store rooted at dir, defaulting to ~/.backlogpilot/runs
func New(dir string) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".backlogpilot", "runs")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	return &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory holding run files
func (s *Store) Dir() string {
	return s.dir
}

func validateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if strings.Contains(runID, "..") {
		return fmt.Errorf("run id cannot contain '..'")
	}
	if strings.ContainsAny(runID, "/\\\x00") {
		return fmt.Errorf("run id cannot contain path separators or null bytes")
	}
	return nil
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID+".jsonl")
}

func (s *Store) writeLock(runID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[runID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[runID] = lock
	return lock
}

// Record appends an event for the run id carried by ctx. Failures are logged,
// never returned.
func (s *Store) Record(ctx context.Context, kind string, payload map[string]interface{}) {
	runID := tracing.GetRunID(ctx)
	err := s.Append(ctx, Event{
		RunID:   runID,
		Kind:    kind,
		TraceID: tracing.GetTraceID(ctx),
		Payload: payload,
	})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Warn().Err(err).Str("kind", kind).Msg("Failed to record run event")
	}
}

// Append writes one event to its run file
func (s *Store) Append(ctx context.Context, event Event) error {
	if err := validateRunID(event.RunID); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	lock := s.writeLock(event.RunID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(event.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open run file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Load reads every event of a run in write order. Unparseable lines are skipped.
func (s *Store) Load(ctx context.Context, runID string) ([]Event, error) {
	ctx, span := tracing.StartSpan(ctx, "backlogpilot.runlog", "runlog.load", attribute.String("run_id", runID))
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err = validateRunID(runID); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(runID))
	if os.IsNotExist(err) {
		err = fmt.Errorf("run %s not found", runID)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if jerr := json.Unmarshal(line, &event); jerr != nil || event.Kind == "" {
			logger.Warn().Str("run_id", runID).Int("line", lineNum).Msg("Invalid event line, skipping")
			continue
		}
		events = append(events, event)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	return events, nil
}

// ListRuns returns recorded run ids, most recent first
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	type run struct {
		id  string
		mod time.Time
	}
	var runs []run
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{id: strings.TrimSuffix(entry.Name(), ".jsonl"), mod: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].mod.Equal(runs[j].mod) {
			return runs[i].id < runs[j].id
		}
		return runs[i].mod.After(runs[j].mod)
	})

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}
