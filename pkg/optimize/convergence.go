package optimize

// ConvergenceAnalysis reports whether a score history has flattened out.
type ConvergenceAnalysis struct {
	Converged bool
	// Variance is the population variance of the scores examined. Only
	// meaningful when enough history exists.
	Variance float64
	Reason   string
}

// convergenceWindow is how many trailing scores the analysis examines.
const convergenceWindow = 3

// AnalyzeConvergence examines the last few history entries and declares
// convergence when their population variance drops below threshold. Fewer
// than three entries is never convergence: there is not enough signal yet.
func AnalyzeConvergence(history []float64, threshold float64) ConvergenceAnalysis {
	if len(history) < convergenceWindow {
		return ConvergenceAnalysis{
			Converged: false,
			Reason:    "insufficient history",
		}
	}

	window := history[len(history)-convergenceWindow:]

	mean := 0.0
	for _, score := range window {
		mean += score
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, score := range window {
		d := score - mean
		variance += d * d
	}
	variance /= float64(len(window))

	if variance < threshold {
		return ConvergenceAnalysis{
			Converged: true,
			Variance:  variance,
			Reason:    "score variance below threshold",
		}
	}
	return ConvergenceAnalysis{
		Converged: false,
		Variance:  variance,
		Reason:    "scores still moving",
	}
}
