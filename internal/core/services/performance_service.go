package services

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recommendation severities
const (
	RecommendationSeverityMedium = "medium"
	RecommendationSeverityHigh   = "high"
)

// Recommendation is one tuning suggestion derived from an operation's metrics
type Recommendation struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
}

// OperationMetrics captures one measured operation
type OperationMetrics struct {
	Operation       string           `json:"operation"`
	ItemCount       int              `json:"item_count"`
	Duration        time.Duration    `json:"duration"`
	DurationMs      int64            `json:"duration_ms"`
	QueriesIssued   int64            `json:"queries_issued"`
	MemoryUsedBytes uint64           `json:"memory_used_bytes"`
	Recommendations []Recommendation `json:"recommendations"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// activeOperation tracks an in-flight measurement between Start and End
type activeOperation struct {
	name       string
	startedAt  time.Time
	startAlloc uint64
	startComms int64
}

const metricsHistoryCapacity = 200

// PerformanceService measures batch operations (wall time, queries, memory)
// and derives tuning recommendations. Query counts come from the bulk
// loader's counter, sampled before and after each operation.
type PerformanceService struct {
	queryCounter func() int64

	mu      sync.RWMutex
	active  map[string]*activeOperation
	history []OperationMetrics
}

// NewPerformanceService builds a monitor. queryCounter returns the running
// total of queries issued by the data layer; pass a function returning 0 to
// disable query tracking.
func NewPerformanceService(queryCounter func() int64) *PerformanceService {
	return &PerformanceService{
		queryCounter: queryCounter,
		active:       make(map[string]*activeOperation),
	}
}

// StartOperation begins measuring a named operation and returns a token to
// pass to EndOperation.
func (s *PerformanceService) StartOperation(name string) string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	token := uuid.NewString()
	s.mu.Lock()
	s.active[token] = &activeOperation{
		name:       name,
		startedAt:  time.Now(),
		startAlloc: ms.Alloc,
		startComms: s.queryCounter(),
	}
	s.mu.Unlock()
	return token
}

// EndOperation finishes the measurement identified by token, records it in
// the rolling history, and returns the metrics with recommendations attached.
// itemCount is the number of records the operation processed.
func (s *PerformanceService) EndOperation(token string, itemCount int) *OperationMetrics {
	s.mu.Lock()
	op, ok := s.active[token]
	if ok {
		delete(s.active, token)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	duration := time.Since(op.startedAt)
	metrics := &OperationMetrics{
		Operation:     op.name,
		ItemCount:     itemCount,
		Duration:      duration,
		DurationMs:    duration.Milliseconds(),
		QueriesIssued: s.queryCounter() - op.startComms,
		FinishedAt:    time.Now(),
	}
	if ms.Alloc > op.startAlloc {
		metrics.MemoryUsedBytes = ms.Alloc - op.startAlloc
	}
	metrics.Recommendations = deriveRecommendations(metrics)

	s.mu.Lock()
	s.history = append(s.history, *metrics)
	if len(s.history) > metricsHistoryCapacity {
		s.history = s.history[len(s.history)-metricsHistoryCapacity:]
	}
	s.mu.Unlock()

	return metrics
}

// deriveRecommendations applies the tuning heuristics to one operation's
// metrics.
func deriveRecommendations(m *OperationMetrics) []Recommendation {
	recs := []Recommendation{}
	if m.ItemCount <= 0 {
		return recs
	}

	queriesPerItem := float64(m.QueriesIssued) / float64(m.ItemCount)
	if queriesPerItem > 3 {
		severity := RecommendationSeverityMedium
		if queriesPerItem > 5 {
			severity = RecommendationSeverityHigh
		}
		recs = append(recs, Recommendation{
			Type:           "query_batching",
			Severity:       severity,
			Issue:          fmt.Sprintf("%.1f queries per item in %s", queriesPerItem, m.Operation),
			Recommendation: "Load related records in bulk instead of per item",
		})
	}

	const memoryThreshold = 100 * 1024 * 1024
	if m.MemoryUsedBytes > memoryThreshold {
		recs = append(recs, Recommendation{
			Type:           "memory_usage",
			Severity:       RecommendationSeverityMedium,
			Issue:          fmt.Sprintf("%s allocated %d MB", m.Operation, m.MemoryUsedBytes/(1024*1024)),
			Recommendation: "Process records in smaller pages to bound memory",
		})
	}

	msPerItem := float64(m.DurationMs) / float64(m.ItemCount)
	if msPerItem > 100 {
		severity := RecommendationSeverityMedium
		if msPerItem > 500 {
			severity = RecommendationSeverityHigh
		}
		recs = append(recs, Recommendation{
			Type:           "processing_time",
			Severity:       severity,
			Issue:          fmt.Sprintf("%.0f ms per item in %s", msPerItem, m.Operation),
			Recommendation: "Profile the per-item work and cache repeated lookups",
		})
	}

	return recs
}

// XMLStats describes one generated SEPA payment file
type XMLStats struct {
	SizeBytes       int64            `json:"size_bytes"`
	ElementCount    int              `json:"element_count"`
	MaxDepth        int              `json:"max_depth"`
	Recommendations []Recommendation `json:"recommendations"`
}

// AnalyzeXMLGeneration records stats about a generated payment file and
// advises splitting when the file grows past what banks reliably accept.
func (s *PerformanceService) AnalyzeXMLGeneration(sizeBytes int64, elementCount, maxDepth int) *XMLStats {
	stats := &XMLStats{
		SizeBytes:       sizeBytes,
		ElementCount:    elementCount,
		MaxDepth:        maxDepth,
		Recommendations: []Recommendation{},
	}

	const sizeThreshold = 10 * 1024 * 1024
	if sizeBytes > sizeThreshold {
		stats.Recommendations = append(stats.Recommendations, Recommendation{
			Type:           "file_size",
			Severity:       RecommendationSeverityHigh,
			Issue:          fmt.Sprintf("payment file is %d MB", sizeBytes/(1024*1024)),
			Recommendation: "Split the batch into multiple smaller files before submission",
		})
	}
	return stats
}

// OperationAggregate rolls up every recorded run of one named operation
type OperationAggregate struct {
	Count         int     `json:"count"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
	AvgMemoryMB   float64 `json:"avg_memory_mb"`
	TotalQueries  int64   `json:"total_queries"`
	TotalItems    int     `json:"total_items"`
}

// PerformanceSummary aggregates recent operation metrics
type PerformanceSummary struct {
	OperationCount  int                            `json:"operation_count"`
	TotalQueries    int64                          `json:"total_queries"`
	AvgDurationMs   int64                          `json:"avg_duration_ms"`
	ByOperation     map[string]*OperationAggregate `json:"by_operation"`
	Recommendations []Recommendation               `json:"recommendations"`
	Operations      []OperationMetrics             `json:"operations"`
}

// GetPerformanceSummary aggregates metrics recorded in the last hoursBack
// hours, overall and per operation name.
func (s *PerformanceService) GetPerformanceSummary(hoursBack int) *PerformanceSummary {
	cutoff := time.Now().Add(-time.Duration(hoursBack) * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &PerformanceSummary{
		ByOperation:     make(map[string]*OperationAggregate),
		Recommendations: []Recommendation{},
		Operations:      []OperationMetrics{},
	}

	var totalMs int64
	totalDurationMs := make(map[string]int64)
	totalMemory := make(map[string]uint64)
	for _, m := range s.history {
		if m.FinishedAt.Before(cutoff) {
			continue
		}
		summary.OperationCount++
		summary.TotalQueries += m.QueriesIssued
		totalMs += m.DurationMs

		agg, ok := summary.ByOperation[m.Operation]
		if !ok {
			agg = &OperationAggregate{}
			summary.ByOperation[m.Operation] = agg
		}
		agg.Count++
		agg.TotalQueries += m.QueriesIssued
		agg.TotalItems += m.ItemCount
		if m.DurationMs > agg.MaxDurationMs {
			agg.MaxDurationMs = m.DurationMs
		}
		totalDurationMs[m.Operation] += m.DurationMs
		totalMemory[m.Operation] += m.MemoryUsedBytes

		summary.Recommendations = append(summary.Recommendations, m.Recommendations...)
		summary.Operations = append(summary.Operations, m)
	}
	for name, agg := range summary.ByOperation {
		agg.AvgDurationMs = totalDurationMs[name] / int64(agg.Count)
		agg.AvgMemoryMB = float64(totalMemory[name]) / float64(agg.Count) / (1024 * 1024)
	}
	if summary.OperationCount > 0 {
		summary.AvgDurationMs = totalMs / int64(summary.OperationCount)
	}
	return summary
}
