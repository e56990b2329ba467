package learning

import (
	"math"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

const defaultFisherDecay = 0.95

// decayEvery controls how often the running-sum is decayed relative to
// straight squared-gradient accumulation — every 50 updates, matching
// a memory.Consolidator's "periodic, not every write" cadence
// for its ticking maintenance tasks.
const decayEvery = 50

// gradient is the elementwise difference between a new pattern's
// embedding and its most-similar existing pattern's embedding.
func gradient(a, b []float32) []float32 {
	if len(a) != len(b) || len(a) == 0 {
		return nil
	}
	g := make([]float32, len(a))
	for i := range a {
		g[i] = a[i] - b[i]
	}
	return g
}

// updateFisher applies one FisherInfo.update(gradient) step: accumulate
// squared gradient into the running sum, bump the update counter, then
// recompute importance[i] = running_sum[i] / update_count. Every
// decayEvery updates the running sum is scaled by fisherDecay first.
func updateFisher(fs catalog.FisherState, g []float32, fisherDecay float64) catalog.FisherState {
	if fisherDecay <= 0 {
		fisherDecay = defaultFisherDecay
	}
	n := len(fs.RunningSum)
	if n == 0 {
		n = len(g)
		fs.RunningSum = make([]float32, n)
		fs.Importance = make([]float32, n)
	}

	fs.UpdateCount++
	if fs.UpdateCount%decayEvery == 0 {
		for i := range fs.RunningSum {
			fs.RunningSum[i] *= float32(fisherDecay)
		}
	}

	for i := 0; i < n && i < len(g); i++ {
		fs.RunningSum[i] += g[i] * g[i]
	}

	count := float64(fs.UpdateCount)
	if count < 1 {
		count = 1
	}
	fs.Importance = make([]float32, n)
	for i := range fs.RunningSum {
		fs.Importance[i] = float32(float64(fs.RunningSum[i]) / count)
	}
	return fs
}

const recencyTauDays = 30.0

// recencyFactor mirrors a memory.RecencyDecay shape:
// exp(-age_days / tau).
func recencyFactor(ageDays float64) float64 {
	return math.Exp(-ageDays / recencyTauDays)
}

func accessFactor(accessCount int) float64 {
	return 1 + math.Log(1+float64(accessCount))
}

// lambdaScale computes 1 + lambda * mean_i(importance[i] * |embedding[i]|) / 10.
func lambdaScale(lambda float64, importance []float32, embedding []float32) float64 {
	if len(importance) == 0 || len(embedding) == 0 {
		return 1
	}
	n := len(importance)
	if len(embedding) < n {
		n = len(embedding)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(importance[i]) * math.Abs(float64(embedding[i]))
	}
	mean := sum / float64(n)
	return 1 + lambda*mean/10
}

// retentionImportance implements §4.9's retention-importance formula,
// shared by pattern-write (age=0, access=0) and consolidation (current
// age/access).
func retentionImportance(reward float64, ageDays float64, accessCount int, fisherImportance []float32, embedding []float32, lambda float64) float64 {
	base := math.Abs(reward)
	if reward > 0 {
		base *= 1.5
	}
	return base * recencyFactor(ageDays) * accessFactor(accessCount) * lambdaScale(lambda, fisherImportance, embedding)
}
