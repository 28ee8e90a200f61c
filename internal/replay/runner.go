// Package replay scores recorded sales-call transcripts offline, one
// progression per file, with resumable state.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

// Config holds the replay command configuration.
type Config struct {
	Dir        string
	SingleFile string // process a single file only
	StatePath  string
	DryRun     bool // score but do not emit
	MinTurns   int
	IDPrefix   string // prepended to every conversation id (default "replay:")
}

// Analyzer is the engine surface replay needs.
type Analyzer interface {
	AnalyzeProgression(ctx context.Context, turns []conversation.Turn, id string) ([]engine.PredictionResult, error)
	Reset(id string) bool
}

type Emitter interface {
	Emit(ctx context.Context, source string, results ...engine.PredictionResult)
}

// FileSummary is the outcome for one transcript.
type FileSummary struct {
	Path           string        `json:"path"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Turns          int           `json:"turns"`
	Predictions    int           `json:"predictions"`
	Final          status.Status `json:"final_status,omitempty"`
	Probability    float64       `json:"final_probability"`
	Error          string        `json:"error,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	Files      []FileSummary `json:"files"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	DryRun     bool          `json:"dry_run"`
	StatePath  string        `json:"state_path"`
}

// Runner orchestrates a replay.
type Runner struct {
	cfg     Config
	engine  Analyzer
	emitter Emitter
	logger  *slog.Logger
}

// NewRunner creates a replay runner. emitter may be nil.
func NewRunner(cfg Config, eng Analyzer, emitter Emitter, logger *slog.Logger) *Runner {
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "replay:"
	}
	return &Runner{cfg: cfg, engine: eng, emitter: emitter, logger: logger}
}

// Run replays every unprocessed transcript. On cancellation the state is
// saved and the partial summary is returned with ctx.Err().
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var pending []string
	for _, path := range files {
		if !state.IsProcessed(path) {
			pending = append(pending, path)
		}
	}
	state.FilesRemaining = len(pending)
	r.logger.Info("files discovered", "total", len(files), "pending", len(pending))

	sum := &Summary{DryRun: r.cfg.DryRun, StatePath: state.Path()}
	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			r.logger.Info("replay interrupted, saving state")
			_ = state.Save()
			return sum, err
		}

		fsum, fingerprint, skip := r.replayFile(ctx, state, sum, path)
		if skip {
			state.FilesRemaining--
			continue
		}
		sum.Files = append(sum.Files, fsum)
		if err := ctx.Err(); err != nil {
			// The file was cut short; leave it for the next run.
			_ = state.Save()
			return sum, err
		}
		if fsum.Error == "" || fsum.Predictions > 0 {
			state.MarkProcessed(path, fingerprint)
		}
		state.FilesRemaining--
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save replay state", "error", err)
		}
	}

	_ = state.Save()
	r.logger.Info("replay complete",
		"files", len(sum.Files),
		"skipped", sum.Skipped,
		"duplicates", sum.Duplicates,
		"dry_run", r.cfg.DryRun,
	)
	return sum, nil
}

// replayFile scores one transcript. skip reports files that were filtered
// out rather than scored.
func (r *Runner) replayFile(ctx context.Context, state *State, sum *Summary, path string) (fsum FileSummary, fingerprint string, skip bool) {
	fsum = FileSummary{Path: path}

	t, err := ParseTranscriptFile(path)
	if err != nil {
		r.logger.Warn("failed to parse transcript", "path", path, "error", err)
		state.AddError(fmt.Sprintf("parse %s: %v", path, err))
		fsum.Error = err.Error()
		return fsum, "", false
	}
	fsum.Turns = len(t.Turns)
	fsum.ConversationID = r.cfg.IDPrefix + t.ConversationID

	if len(t.Turns) == 0 || len(t.Turns) < r.cfg.MinTurns {
		sum.Skipped++
		state.MarkProcessed(path, "")
		return fsum, "", true
	}
	fingerprint = t.Fingerprint()
	if state.Seen(fingerprint) {
		r.logger.Info("skipping duplicate transcript", "path", path)
		sum.Duplicates++
		state.MarkProcessed(path, "")
		return fsum, "", true
	}

	r.logger.Info("replaying transcript", "path", path, "conversation_id", fsum.ConversationID, "turns", len(t.Turns))

	results, err := r.engine.AnalyzeProgression(ctx, t.Turns, fsum.ConversationID)
	r.engine.Reset(fsum.ConversationID)
	if len(results) == 0 && errors.Is(err, conversation.ErrMalformedConversation) {
		// Nothing to score (e.g. no customer turns); rerunning cannot change that.
		r.logger.Warn("skipping unscorable transcript", "path", path, "error", err)
		state.AddError(fmt.Sprintf("skip %s: %v", path, err))
		sum.Skipped++
		state.MarkProcessed(path, fingerprint)
		return fsum, "", true
	}
	if err != nil {
		r.logger.Error("progression failed", "path", path, "results", len(results), "error", err)
		state.AddError(fmt.Sprintf("replay %s: %v", path, err))
		fsum.Error = err.Error()
	}

	fsum.Predictions = len(results)
	if n := len(results); n > 0 {
		fsum.Final = results[n-1].Status
		fsum.Probability = results[n-1].Probability
		state.ConversationsScored++
		state.PredictionsMade += n
		if !r.cfg.DryRun && r.emitter != nil {
			r.emitter.Emit(ctx, events.SourceReplay, results...)
		}
	}
	return fsum, fingerprint, false
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("transcript dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("transcript dir %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FormatSummary renders a run summary grouped by final status.
func FormatSummary(sum *Summary) string {
	byStatus := make(map[status.Status][]FileSummary)
	var failed []FileSummary
	for _, f := range sum.Files {
		if f.Predictions == 0 {
			failed = append(failed, f)
			continue
		}
		byStatus[f.Final] = append(byStatus[f.Final], f)
	}

	var sb strings.Builder
	sb.WriteString("=== Replay Summary ===\n")
	fmt.Fprintf(&sb, "Files scored: %d, skipped: %d, duplicates: %d\n", len(sum.Files)-len(failed), sum.Skipped, sum.Duplicates)

	statuses := status.Statuses()
	for i := len(statuses) - 1; i >= 0; i-- {
		st := statuses[i]
		files := byStatus[st]
		if len(files) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%d)\n", st, len(files))
		for _, f := range files {
			fmt.Fprintf(&sb, "  - %s: p=%.3f after %d turns, %d predictions", filepath.Base(f.Path), f.Probability, f.Turns, f.Predictions)
			if f.Error != "" {
				sb.WriteString(" (stopped early)")
			}
			sb.WriteString("\n")
		}
	}

	if len(failed) > 0 {
		fmt.Fprintf(&sb, "\nfailed (%d)\n", len(failed))
		for _, f := range failed {
			fmt.Fprintf(&sb, "  - %s: %s\n", filepath.Base(f.Path), f.Error)
		}
	}
	if sum.DryRun {
		sb.WriteString("\nMode: DRY RUN (nothing emitted)\n")
	}
	if sum.StatePath != "" {
		fmt.Fprintf(&sb, "State file: %s\n", sum.StatePath)
	}
	return sb.String()
}
