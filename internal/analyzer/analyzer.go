package analyzer

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/r973356237/AlphaWorker/internal/brain"
)

// ScoredAlpha is an alpha with its derived ranking columns
type ScoredAlpha struct {
	brain.Alpha
	ReturnsToDrawdown float64
	FitnessRank       int
	SharpeRank        int
	RDDRank           int
	CompositeScore    int
	FailCount         int
}

// Score derives ranking columns for every alpha that carries in-sample
// metrics. Ranks are dense, descending (best metric gets rank 1); the
// composite score is the sum of the three ranks, lower is better.
func Score(alphas []brain.Alpha) []ScoredAlpha {
	scored := make([]ScoredAlpha, 0, len(alphas))
	for _, a := range alphas {
		if a.IS == nil {
			continue
		}
		sa := ScoredAlpha{Alpha: a, FailCount: a.FailCount()}
		if a.IS.Drawdown != 0 {
			sa.ReturnsToDrawdown = a.IS.Returns / a.IS.Drawdown
		}
		scored = append(scored, sa)
	}

	assignRanks(scored, func(sa *ScoredAlpha) float64 { return sa.IS.Fitness },
		func(sa *ScoredAlpha, rank int) { sa.FitnessRank = rank })
	assignRanks(scored, func(sa *ScoredAlpha) float64 { return sa.IS.Sharpe },
		func(sa *ScoredAlpha, rank int) { sa.SharpeRank = rank })
	assignRanks(scored, func(sa *ScoredAlpha) float64 { return sa.ReturnsToDrawdown },
		func(sa *ScoredAlpha, rank int) { sa.RDDRank = rank })

	for i := range scored {
		scored[i].CompositeScore = scored[i].FitnessRank + scored[i].SharpeRank + scored[i].RDDRank
	}
	return scored
}

// assignRanks ranks by value descending, ties broken by input order
func assignRanks(scored []ScoredAlpha, value func(*ScoredAlpha) float64, set func(*ScoredAlpha, int)) {
	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return value(&scored[order[a]]) > value(&scored[order[b]])
	})
	for rank, idx := range order {
		set(&scored[idx], rank+1)
	}
}

// WriteReport renders the markdown analysis report for a result file
func WriteReport(w io.Writer, filename string, alphas []brain.Alpha, now time.Time) error {
	scored := Score(alphas)

	fmt.Fprintf(w, "# Alpha Simulation Analysis Report\n\n")
	fmt.Fprintf(w, "**Generated:** %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "**Source file:** `%s`\n\n", filename)

	// 1. Alphas passing every check
	fmt.Fprintf(w, "## 1. Alphas passing all checks\n\n")
	var allPass []ScoredAlpha
	for _, sa := range scored {
		if sa.FailCount == 0 {
			allPass = append(allPass, sa)
		}
	}
	if len(allPass) > 0 {
		sort.SliceStable(allPass, func(a, b int) bool {
			return allPass[a].CompositeScore < allPass[b].CompositeScore
		})
		fmt.Fprintf(w, "%d alphas passed every check, ordered by composite score:\n\n", len(allPass))
		writeBoard(w, allPass)
	} else {
		fmt.Fprintf(w, "No alpha passed all checks.\n\n")
	}

	// 2. Overview
	fmt.Fprintf(w, "## 2. Overview\n\n")
	fmt.Fprintf(w, "- **Total alphas:** %d\n", len(scored))
	fmt.Fprintf(w, "- **Grade distribution:**\n\n")
	writeDistribution(w, gradeCounts(scored))
	fmt.Fprintf(w, "- **Failed-check distribution:**\n\n")
	writeDistribution(w, failCounts(scored))

	// 3. Metric summary
	fmt.Fprintf(w, "## 3. Metric summary\n\n")
	fmt.Fprintf(w, "| metric | mean | std | min | max |\n")
	fmt.Fprintf(w, "|---|---|---|---|---|\n")
	for _, m := range []struct {
		name  string
		value func(*ScoredAlpha) float64
	}{
		{"fitness", func(sa *ScoredAlpha) float64 { return sa.IS.Fitness }},
		{"sharpe", func(sa *ScoredAlpha) float64 { return sa.IS.Sharpe }},
		{"returns", func(sa *ScoredAlpha) float64 { return sa.IS.Returns }},
		{"turnover", func(sa *ScoredAlpha) float64 { return sa.IS.Turnover }},
		{"drawdown", func(sa *ScoredAlpha) float64 { return sa.IS.Drawdown }},
	} {
		mean, std, min, max := summarize(scored, m.value)
		fmt.Fprintf(w, "| %s | %.4f | %.4f | %.4f | %.4f |\n", m.name, mean, std, min, max)
	}
	fmt.Fprintf(w, "\n")

	// 4. Top-10 boards
	fmt.Fprintf(w, "## 4. Top 10 boards\n\n")

	fmt.Fprintf(w, "### Composite (all-pass first, lower score is better)\n\n")
	composite := append([]ScoredAlpha(nil), scored...)
	sort.SliceStable(composite, func(a, b int) bool {
		if composite[a].FailCount != composite[b].FailCount {
			return composite[a].FailCount < composite[b].FailCount
		}
		return composite[a].CompositeScore < composite[b].CompositeScore
	})
	writeBoard(w, top(composite, 10))

	fmt.Fprintf(w, "### Promising alphas (failed checks, strong metrics)\n\n")
	var failedButGood []ScoredAlpha
	for _, sa := range scored {
		if sa.FailCount > 0 {
			failedButGood = append(failedButGood, sa)
		}
	}
	if len(failedButGood) > 0 {
		sort.SliceStable(failedButGood, func(a, b int) bool {
			return failedButGood[a].CompositeScore < failedButGood[b].CompositeScore
		})
		writeBoard(w, top(failedButGood, 10))
	} else {
		fmt.Fprintf(w, "No alphas with failed checks.\n\n")
	}

	fmt.Fprintf(w, "### Fitness\n\n")
	byFitness := append([]ScoredAlpha(nil), scored...)
	sort.SliceStable(byFitness, func(a, b int) bool { return byFitness[a].IS.Fitness > byFitness[b].IS.Fitness })
	writeBoard(w, top(byFitness, 10))

	fmt.Fprintf(w, "### Sharpe\n\n")
	bySharpe := append([]ScoredAlpha(nil), scored...)
	sort.SliceStable(bySharpe, func(a, b int) bool { return bySharpe[a].IS.Sharpe > bySharpe[b].IS.Sharpe })
	writeBoard(w, top(bySharpe, 10))

	fmt.Fprintf(w, "### Returns / drawdown\n\n")
	byRDD := append([]ScoredAlpha(nil), scored...)
	sort.SliceStable(byRDD, func(a, b int) bool { return byRDD[a].ReturnsToDrawdown > byRDD[b].ReturnsToDrawdown })
	writeBoard(w, top(byRDD, 10))

	return nil
}

func writeBoard(w io.Writer, rows []ScoredAlpha) {
	fmt.Fprintf(w, "| id | grade | checks | fitness | sharpe | ret/dd | score |\n")
	fmt.Fprintf(w, "|---|---|---|---|---|---|---|\n")
	for _, sa := range rows {
		passed := "pass"
		if sa.FailCount > 0 {
			passed = fmt.Sprintf("%d fail", sa.FailCount)
		}
		fmt.Fprintf(w, "| %s | %s | %s | %.4f | %.4f | %.4f | %d |\n",
			sa.ID, sa.Grade, passed, sa.IS.Fitness, sa.IS.Sharpe, sa.ReturnsToDrawdown, sa.CompositeScore)
	}
	fmt.Fprintf(w, "\n")
}

func writeDistribution(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "```\n")
	for _, k := range keys {
		fmt.Fprintf(w, "%-12s %d\n", k, counts[k])
	}
	fmt.Fprintf(w, "```\n\n")
}

func gradeCounts(scored []ScoredAlpha) map[string]int {
	counts := make(map[string]int)
	for _, sa := range scored {
		grade := sa.Grade
		if grade == "" {
			grade = "N/A"
		}
		counts[grade]++
	}
	return counts
}

func failCounts(scored []ScoredAlpha) map[string]int {
	counts := make(map[string]int)
	for _, sa := range scored {
		counts[fmt.Sprintf("%d failed", sa.FailCount)]++
	}
	return counts
}

func summarize(scored []ScoredAlpha, value func(*ScoredAlpha) float64) (mean, std, min, max float64) {
	if len(scored) == 0 {
		return 0, 0, 0, 0
	}
	min = math.Inf(1)
	max = math.Inf(-1)
	for i := range scored {
		v := value(&scored[i])
		mean += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean /= float64(len(scored))
	for i := range scored {
		d := value(&scored[i]) - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(scored)))
	return mean, std, min, max
}

func top(rows []ScoredAlpha, n int) []ScoredAlpha {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
