// Package eval scores pipelines against labelled datasets.
//
// An evaluation runs a pipeline over every example in a dataset, applies a
// metric to each prediction, and aggregates the per-example scores into a
// report. Example failures are recorded and never abort the batch; only a
// metric returning a score outside [0, 1] does, since that indicates a
// broken metric rather than a bad example.
package eval

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/samber/lo"

	"github.com/tessellate-ai/refine/pkg/llmerrors"
	"github.com/tessellate-ai/refine/pkg/parallel"
)

// Example is a single labelled datapoint. Ground truth is carried inline
// under one of the reserved keys.
type Example = map[string]any

// Reserved ground-truth keys, in precedence order.
const (
	KeyGroundTruth = "ground-truth"
	KeyExpected    = "expected"
	KeyAnswer      = "answer"
)

var groundTruthKeys = []string{KeyGroundTruth, KeyExpected, KeyAnswer}

// Pipeline is a runnable unit under evaluation. Implementations must be safe
// for concurrent Run calls. Clone returns an independent copy that the
// optimizer can mutate without affecting the original.
type Pipeline interface {
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
	Clone() Pipeline
}

// PipelineFunc adapts a plain function to the Pipeline interface. Clones
// share the underlying function, which is the correct behavior for
// stateless pipelines.
type PipelineFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

func (f PipelineFunc) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

func (f PipelineFunc) Clone() Pipeline { return f }

// Metric scores a prediction against ground truth. The score must lie in
// [0, 1].
type Metric func(prediction, groundTruth any) (float64, error)

// Options configures an evaluation batch.
type Options struct {
	// Concurrency bounds in-flight examples. Values <= 1 run sequentially.
	Concurrency int
	// Timeout bounds each example's pipeline run. Zero disables it.
	Timeout time.Duration
}

// Result is the outcome of one example.
type Result struct {
	// Inputs is the example with its ground-truth keys removed.
	Inputs map[string]any
	// Outputs is the pipeline's prediction map. Nil on failure.
	Outputs map[string]any
	Score   float64
	Success bool
	Err     error
}

// Report aggregates a batch.
type Report struct {
	// Score is the mean over successful examples; 0.0 when none succeeded.
	Score float64
	// Count is the number of successful examples.
	Count int
	// Total is the dataset size.
	Total int
	// Results holds one entry per example, in dataset order.
	Results []Result
	// Errors collects the failures, in dataset order.
	Errors []error
}

// SplitExample separates an example into pipeline inputs and ground truth.
// Inputs are the example minus the reserved keys. Ground truth is the value
// of the highest-precedence reserved key present; if none is, the whole
// example serves as ground truth.
func SplitExample(example Example) (inputs map[string]any, groundTruth any) {
	inputs = maps.Clone(example)
	for _, key := range groundTruthKeys {
		delete(inputs, key)
	}
	for _, key := range groundTruthKeys {
		if v, ok := example[key]; ok {
			return inputs, v
		}
	}
	return inputs, example
}

// Evaluate runs the pipeline over the dataset and scores every prediction
// with the metric.
func Evaluate(ctx context.Context, pipeline Pipeline, dataset []Example, metric Metric, opts Options) (*Report, error) {
	evalOne := func(ctx context.Context, example Example) (Result, error) {
		inputs, groundTruth := SplitExample(example)

		run := func(ctx context.Context) (map[string]any, error) {
			return pipeline.Run(ctx, inputs)
		}
		var outputs map[string]any
		var err error
		if opts.Timeout > 0 {
			outputs, err = parallel.WithTimeout(ctx, opts.Timeout, run)
		} else {
			outputs, err = run(ctx)
		}
		if err != nil {
			return Result{Inputs: inputs, Err: err}, nil
		}

		prediction := predictionValue(outputs)
		score, err := metric(prediction, groundTruth)
		if err != nil {
			return Result{Inputs: inputs, Outputs: outputs, Err: err}, nil
		}
		if score < 0 || score > 1 {
			return Result{}, &llmerrors.ScoreOutOfRangeError{Score: score}
		}

		return Result{Inputs: inputs, Outputs: outputs, Score: score, Success: true}, nil
	}

	var results []Result
	var err error
	if opts.Concurrency > 1 {
		results, err = parallel.Map(ctx, dataset, opts.Concurrency, evalOne)
	} else {
		results = make([]Result, 0, len(dataset))
		for _, example := range dataset {
			var r Result
			r, err = evalOne(ctx, example)
			if err != nil {
				break
			}
			results = append(results, r)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	successes := lo.Filter(results, func(r Result, _ int) bool { return r.Success })
	report := &Report{
		Count:   len(successes),
		Total:   len(dataset),
		Results: results,
		Errors: lo.FilterMap(results, func(r Result, _ int) (error, bool) {
			return r.Err, r.Err != nil
		}),
	}
	if len(successes) > 0 {
		report.Score = lo.SumBy(successes, func(r Result) float64 { return r.Score }) / float64(len(successes))
	}
	return report, nil
}

// predictionValue picks the value a metric compares. Single-key outputs
// unwrap to their sole value; anything else passes through as the map.
func predictionValue(outputs map[string]any) any {
	if len(outputs) == 1 {
		for _, v := range outputs {
			return v
		}
	}
	return outputs
}
