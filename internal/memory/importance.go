// Package memory implements the agent's memory graph: importance
// scoring with decay, vector retrieval, episodic extraction, and the
// consolidation engine that folds episodic memories into semantic
// ones.
package memory

import (
	"math"
	"strings"
	"time"
)

// maxAccessCount normalizes the frequency factor.
const maxAccessCount = 1000

// relationSaturation is the relation count at which the relations
// factor reaches 1.
const relationSaturation = 20

// Component weights of the combined importance score.
const (
	weightStored    = 0.35
	weightTime      = 0.25
	weightFrequency = 0.25
	weightRelations = 0.15
)

// DecayRate returns the per-hour decay rate for a category, adjusted
// for access frequency and stored importance. Heavily accessed or
// high-importance memories decay slower; rarely touched or
// low-importance ones decay faster.
func DecayRate(category string, accessCount int, storedImportance float64) float64 {
	var rate float64
	switch strings.ToLower(category) {
	case "topic":
		rate = 0.1
	case "location":
		rate = 0.07
	case "person":
		rate = 0.04
	case "concept":
		rate = 0.03
	default:
		rate = 0.05
	}

	if accessCount > 50 {
		rate *= 0.5
	} else if accessCount < 5 {
		rate *= 1.5
	}

	if storedImportance > 0.9 {
		rate *= 0.1
	} else if storedImportance < 0.2 {
		rate *= 2.0
	}
	return rate
}

// CalculateImportance combines the stored importance with time decay,
// access frequency, and relation connectivity. The result is always
// in [0, 1].
func CalculateImportance(storedImportance float64, category string, updatedAt time.Time, accessCount, relationCount int, now time.Time) float64 {
	hours := now.Sub(updatedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	timeFactor := math.Exp(-hours * DecayRate(category, accessCount, storedImportance))
	frequencyFactor := math.Log(1+float64(accessCount)) / math.Log(1+maxAccessCount)
	relationsFactor := math.Min(float64(relationCount)/relationSaturation, 1)

	score := weightStored*storedImportance +
		weightTime*timeFactor +
		weightFrequency*frequencyFactor +
		weightRelations*relationsFactor

	return math.Max(0, math.Min(1, score))
}
