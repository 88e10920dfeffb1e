// Package optimize improves pipelines by beam search. Each iteration
// proposes mutations of the current beam, scores every candidate against a
// training set, and keeps the best few. Progress is checkpointed to a store
// so long runs can be inspected while in flight.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/refine/pkg/eval"
	"github.com/tessellate-ai/refine/pkg/parallel"
	"github.com/tessellate-ai/refine/pkg/storage"
)

// Candidate is one scored (or not yet scored) pipeline in the search.
// Candidates are immutable: mutation produces new values.
type Candidate struct {
	Pipeline            eval.Pipeline
	Score               float64
	Scored              bool
	Iteration           int
	MutationDescription string
}

// Options configures an optimization run. Zero values take the defaults
// noted on each field.
type Options struct {
	// BeamWidth is how many candidates survive each iteration. Default 4.
	BeamWidth int
	// MaxIterations bounds the search. Default 10.
	MaxIterations int
	// Concurrency bounds in-flight candidate evaluations. Default 8.
	Concurrency int
	// RunID names the run in storage. Default: a fresh UUID.
	RunID string
	// CheckpointInterval is how many iterations pass between checkpoints.
	// Default 5.
	CheckpointInterval int
	// Mutator proposes new candidates. Default HintMutator.
	Mutator Mutator
	// Store receives run records and checkpoints. Default: in-memory.
	Store storage.Store
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BeamWidth <= 0 {
		o.BeamWidth = 4
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.RunID == "" {
		o.RunID = uuid.New().String()
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 5
	}
	if o.Mutator == nil {
		o.Mutator = HintMutator{}
	}
	if o.Store == nil {
		o.Store = storage.NewMemoryStore()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// HistoryEntry records the beam's best after one iteration.
type HistoryEntry struct {
	Iteration int
	Score     float64
	// Best is the beam leader at the end of the iteration.
	Best      Candidate
	Timestamp time.Time
	// Duration is how long the iteration took; for entry 0 it covers
	// scoring the seed pipeline.
	Duration time.Duration
	// CandidatesEvaluated is how many candidates were scored during the
	// iteration.
	CandidatesEvaluated int
}

// Result is the outcome of a run.
type Result struct {
	// BestPipeline is Best.Pipeline, kept as a direct field for callers
	// that only want something to run.
	BestPipeline eval.Pipeline
	// Best is the winning candidate with its score and mutation lineage.
	Best      Candidate
	BestScore float64
	// History holds one entry per iteration, entry 0 being the seed
	// pipeline's. Its length is always TotalIterations+1.
	History         []HistoryEntry
	TotalIterations int
	TotalTime       time.Duration
	// Converged reports whether the best score reached 1.0 within 0.01.
	// It is computed at termination and never cuts the search short.
	Converged bool
}

// Scores flattens history entries to their scores, in iteration order.
func Scores(history []HistoryEntry) []float64 {
	scores := make([]float64, len(history))
	for i, entry := range history {
		scores[i] = entry.Score
	}
	return scores
}

// Optimizer runs beam search over pipeline mutations.
type Optimizer struct {
	opts   Options
	logger *slog.Logger

	checkpoints sync.WaitGroup
}

// New creates an optimizer with defaults applied.
func New(opts Options) *Optimizer {
	opts = opts.withDefaults()
	return &Optimizer{
		opts:   opts,
		logger: opts.Logger.With("component", "optimizer", "run_id", opts.RunID),
	}
}

// Run searches for a better pipeline starting from initial. The training
// set and metric define "better".
func (o *Optimizer) Run(ctx context.Context, initial eval.Pipeline, trainset []eval.Example, metric eval.Metric) (*Result, error) {
	start := time.Now()

	if _, err := o.opts.Store.CreateRun(ctx, storage.RunInfo{
		ID:   o.opts.RunID,
		Name: "beam-search",
		Params: map[string]any{
			"beam_width":     o.opts.BeamWidth,
			"max_iterations": o.opts.MaxIterations,
			"trainset_size":  len(trainset),
		},
	}); err != nil {
		o.logger.WarnContext(ctx, "run registration failed, continuing", "error", err)
	}

	seed, err := o.score(ctx, Candidate{Pipeline: initial}, trainset, metric)
	if err != nil {
		return nil, fmt.Errorf("score seed pipeline: %w", err)
	}

	beam := []Candidate{seed}
	history := []HistoryEntry{{
		Iteration:           0,
		Score:               seed.Score,
		Best:                seed,
		Timestamp:           time.Now().UTC(),
		Duration:            time.Since(start),
		CandidatesEvaluated: 1,
	}}
	o.logger.InfoContext(ctx, "optimization started",
		"seed_score", seed.Score,
		"beam_width", o.opts.BeamWidth,
	)

	iterations := 0
	for iteration := 1; iteration <= o.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterStart := time.Now()

		variants, err := o.propose(ctx, beam, iteration)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: propose: %w", iteration, err)
		}

		scored, err := parallel.MapSemaphore(ctx, variants, o.opts.Concurrency,
			func(ctx context.Context, c Candidate) (Candidate, error) {
				return o.score(ctx, c, trainset, metric)
			})
		if err != nil {
			return nil, fmt.Errorf("iteration %d: score candidates: %w", iteration, err)
		}

		beam = SelectTop(append(beam, scored...), o.opts.BeamWidth)
		history = append(history, HistoryEntry{
			Iteration:           iteration,
			Score:               beam[0].Score,
			Best:                beam[0],
			Timestamp:           time.Now().UTC(),
			Duration:            time.Since(iterStart),
			CandidatesEvaluated: len(scored),
		})
		iterations = iteration

		o.logger.InfoContext(ctx, "iteration complete",
			"iteration", iteration,
			"best_score", beam[0].Score,
			"candidates", len(scored),
		)

		if iteration%o.opts.CheckpointInterval == 0 {
			o.checkpoint(ctx, iteration, beam[0], history)
		}
	}

	o.checkpoints.Wait()

	best := beam[0]
	result := &Result{
		BestPipeline:    best.Pipeline,
		Best:            best,
		BestScore:       best.Score,
		History:         history,
		TotalIterations: iterations,
		TotalTime:       time.Since(start),
		Converged:       converged(best.Score),
	}
	o.logger.InfoContext(ctx, "optimization finished",
		"best_score", result.BestScore,
		"iterations", result.TotalIterations,
		"converged", result.Converged,
		"duration_ms", result.TotalTime.Milliseconds(),
	)
	return result, nil
}

// propose asks the mutator for new candidates, capping the total so wide
// beams in late iterations do not explode the number of evaluations.
func (o *Optimizer) propose(ctx context.Context, beam []Candidate, iteration int) ([]Candidate, error) {
	perMember := 2 + iteration
	limit := o.opts.BeamWidth * max(2, o.opts.BeamWidth/2)

	var variants []Candidate
	for _, member := range beam {
		n := perMember
		if remaining := limit - len(variants); n > remaining {
			n = remaining
		}
		if n <= 0 {
			break
		}
		proposed, err := o.opts.Mutator.Propose(ctx, member, iteration, n)
		if err != nil {
			return nil, err
		}
		variants = append(variants, proposed...)
	}
	return variants, nil
}

// score evaluates one candidate over the training set. The candidate's own
// evaluation is sequential; concurrency lives at the candidate level.
func (o *Optimizer) score(ctx context.Context, c Candidate, trainset []eval.Example, metric eval.Metric) (Candidate, error) {
	report, err := eval.Evaluate(ctx, c.Pipeline, trainset, metric, eval.Options{Concurrency: 1})
	if err != nil {
		return Candidate{}, err
	}
	c.Score = report.Score
	c.Scored = true
	return c, nil
}

// checkpoint records a snapshot of the search in storage without blocking
// it: the best candidate's metadata and the score trajectory so far.
// Failures are advisory. The history is copied before the goroutine starts
// so later iterations never race the write.
func (o *Optimizer) checkpoint(ctx context.Context, iteration int, best Candidate, history []HistoryEntry) {
	payload := map[string]any{
		"best": map[string]any{
			"score":     best.Score,
			"iteration": best.Iteration,
			"mutation":  best.MutationDescription,
		},
		"history": Scores(history),
	}

	o.checkpoints.Add(1)
	go func() {
		defer o.checkpoints.Done()
		err := o.opts.Store.AppendMetric(ctx, o.opts.RunID, iteration, best.Score, payload)
		if err != nil {
			o.logger.WarnContext(ctx, "checkpoint failed, continuing",
				"iteration", iteration,
				"error", err,
			)
		}
	}()
}

// SelectTop returns the best k candidates by score, highest first. The sort
// is stable so equal scores keep their arrival order, which makes SelectTop
// idempotent on an already-selected beam.
func SelectTop(candidates []Candidate, k int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// converged reports whether a score is within 0.01 of perfect.
func converged(score float64) bool {
	return math.Abs(score-1.0) < 0.01
}
