package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestConvergenceStatusBuckets(t *testing.T) {
	assert.Equal(t, ConvergenceConverged, convergenceStatus(1.0))
	assert.Equal(t, ConvergenceConverged, convergenceStatus(0.99))
	assert.Equal(t, ConvergenceNear, convergenceStatus(0.95))
	assert.Equal(t, ConvergenceImproving, convergenceStatus(0.80))
	assert.Equal(t, ConvergenceLearning, convergenceStatus(0.50))
	assert.Equal(t, ConvergenceDivergent, convergenceStatus(0.49))
}

func TestConvergenceFromObservationsAggregatesPerTool(t *testing.T) {
	obs := []ToolObservation{
		{ToolName: "search", Success: true, LatencyMS: 100},
		{ToolName: "search", Success: false, LatencyMS: 200, ErrorCategory: strPtr("timeout")},
		{ToolName: "fetch", Success: true, LatencyMS: 50},
	}
	m := convergenceFromObservations(24, obs)

	assert.EqualValues(t, 3, m.TotalCalls)
	assert.EqualValues(t, 2, m.Successes)
	assert.InDelta(t, 2.0/3.0, m.ConvergenceRate, 0.0001)
	assert.Equal(t, ConvergenceLearning, m.Status)

	var searchMetrics *ToolMetrics
	for i := range m.PerTool {
		if m.PerTool[i].ToolName == "search" {
			searchMetrics = &m.PerTool[i]
		}
	}
	if assert.NotNil(t, searchMetrics) {
		assert.EqualValues(t, 2, searchMetrics.Calls)
		assert.InDelta(t, 0.5, searchMetrics.SuccessRate, 0.0001)
		assert.InDelta(t, 150, searchMetrics.AvgLatencyMS, 0.0001)
	}

	assert.Len(t, m.TopErrorCategories, 1)
	assert.Equal(t, "timeout", m.TopErrorCategories[0].Category)
}

func TestConvergenceFromObservationsEmptyIsZeroRate(t *testing.T) {
	m := convergenceFromObservations(1, nil)
	assert.Zero(t, m.TotalCalls)
	assert.Zero(t, m.ConvergenceRate)
	assert.Equal(t, ConvergenceDivergent, m.Status)
}

func TestSortErrorCategoriesDescendingByCount(t *testing.T) {
	cats := []ErrorCategoryCount{
		{Category: "a", Count: 1},
		{Category: "b", Count: 5},
		{Category: "c", Count: 3},
	}
	sortErrorCategories(cats)
	assert.Equal(t, "b", cats[0].Category)
	assert.Equal(t, "c", cats[1].Category)
	assert.Equal(t, "a", cats[2].Category)
}
