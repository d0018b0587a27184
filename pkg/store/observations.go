package store

import (
	"context"
	"time"
)

// RecordToolObservation appends a ToolObservation, the raw material for
// convergence metrics.
func (s *Store) RecordToolObservation(ctx context.Context, o ToolObservation) error {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		s.mem.recordObservation(o)
		return nil
	}
	return s.executeWithRetry(ctx, "RecordToolObservation", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tool_observations
				(tool_name, input_hash, output_hash, success, latency_ms, error_category, error_code, request_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ToolName, o.InputHash, o.OutputHash, o.Success, o.LatencyMS, o.ErrorCategory, o.ErrorCode, o.RequestID)
		return err
	})
}

// GetConvergenceMetrics aggregates tool observations over the last
// windowHours, bucketing overall health per spec §4.1's fixed thresholds.
func (s *Store) GetConvergenceMetrics(ctx context.Context, windowHours int) (*ConvergenceMetrics, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		return convergenceFromObservations(windowHours, s.mem.observationsSince(time.Now().Add(-time.Duration(windowHours)*time.Hour))), nil
	}

	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	var metrics *ConvergenceMetrics
	err := s.executeWithRetry(ctx, "GetConvergenceMetrics", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT tool_name, input_hash, output_hash, success, latency_ms, error_category, error_code, request_id
			FROM tool_observations WHERE created_at >= $1`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		var obs []ToolObservation
		for rows.Next() {
			var o ToolObservation
			if err := rows.Scan(&o.ToolName, &o.InputHash, &o.OutputHash, &o.Success, &o.LatencyMS, &o.ErrorCategory, &o.ErrorCode, &o.RequestID); err != nil {
				return err
			}
			obs = append(obs, o)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		metrics = convergenceFromObservations(windowHours, obs)
		return nil
	})
	return metrics, err
}

func convergenceFromObservations(windowHours int, obs []ToolObservation) *ConvergenceMetrics {
	m := &ConvergenceMetrics{WindowHours: windowHours}
	m.TotalCalls = int64(len(obs))

	perTool := make(map[string]*ToolMetrics)
	errCounts := make(map[string]int64)
	var latencySum float64

	for _, o := range obs {
		if o.Success {
			m.Successes++
		}
		latencySum += float64(o.LatencyMS)
		tm, ok := perTool[o.ToolName]
		if !ok {
			tm = &ToolMetrics{ToolName: o.ToolName}
			perTool[o.ToolName] = tm
		}
		tm.Calls++
		if o.Success {
			tm.SuccessRate++
		}
		tm.AvgLatencyMS += float64(o.LatencyMS)
		if o.ErrorCategory != nil {
			errCounts[*o.ErrorCategory]++
		}
	}

	for _, tm := range perTool {
		if tm.Calls > 0 {
			tm.AvgLatencyMS /= float64(tm.Calls)
			tm.SuccessRate /= float64(tm.Calls)
		}
		m.PerTool = append(m.PerTool, *tm)
	}

	for cat, count := range errCounts {
		m.TopErrorCategories = append(m.TopErrorCategories, ErrorCategoryCount{Category: cat, Count: count})
	}
	sortErrorCategories(m.TopErrorCategories)

	if m.TotalCalls > 0 {
		m.ConvergenceRate = float64(m.Successes) / float64(m.TotalCalls)
	}
	m.Status = convergenceStatus(m.ConvergenceRate)
	return m
}

func convergenceStatus(rate float64) ConvergenceStatus {
	switch {
	case rate >= 0.99:
		return ConvergenceConverged
	case rate >= 0.95:
		return ConvergenceNear
	case rate >= 0.80:
		return ConvergenceImproving
	case rate >= 0.50:
		return ConvergenceLearning
	default:
		return ConvergenceDivergent
	}
}

func sortErrorCategories(cats []ErrorCategoryCount) {
	for i := 1; i < len(cats); i++ {
		for j := i; j > 0 && cats[j].Count > cats[j-1].Count; j-- {
			cats[j], cats[j-1] = cats[j-1], cats[j]
		}
	}
}
