package optimize

import (
	"context"
	"fmt"
)

// Mutator proposes new candidates derived from a beam member. Proposals
// must be fresh Candidate values; parents are never modified.
type Mutator interface {
	Propose(ctx context.Context, parent Candidate, iteration, n int) ([]Candidate, error)
}

// promptHints is the catalogue HintMutator draws from. Entries are generic
// prompt-improvement directions; a richer mutator would rewrite the pipeline
// with an LLM instead.
var promptHints = []string{
	"be more specific about the expected output format",
	"add a worked example before the question",
	"ask for step-by-step reasoning before the final answer",
	"restate the question in your own words first",
	"answer concisely with only the final value",
	"double-check the answer against the question before responding",
	"consider edge cases explicitly",
	"cite which part of the input supports the answer",
}

// HintMutator derives candidates by cloning the parent pipeline and
// attaching a hint from a fixed catalogue as the mutation description. The
// pipeline body itself is untouched; downstream pipelines decide how to
// apply the hint.
type HintMutator struct{}

// Propose implements Mutator.
func (HintMutator) Propose(_ context.Context, parent Candidate, iteration, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		hint := promptHints[(iteration*n+i)%len(promptHints)]
		candidates = append(candidates, Candidate{
			Pipeline:            parent.Pipeline.Clone(),
			Iteration:           iteration,
			MutationDescription: fmt.Sprintf("hint: %s", hint),
		})
	}
	return candidates, nil
}
