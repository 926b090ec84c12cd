package services

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartEndOperation(t *testing.T) {
	t.Run("Given a measured operation When it ends Then query delta and duration are recorded", func(t *testing.T) {
		var queries atomic.Int64
		svc := NewPerformanceService(queries.Load)

		token := svc.StartOperation("assemble_batch")
		queries.Add(4)
		metrics := svc.EndOperation(token, 2)

		if metrics == nil {
			t.Fatal("expected metrics")
		}
		if metrics.Operation != "assemble_batch" {
			t.Errorf("expected assemble_batch, got %s", metrics.Operation)
		}
		if metrics.QueriesIssued != 4 {
			t.Errorf("expected 4 queries, got %d", metrics.QueriesIssued)
		}
		if metrics.Duration < 0 {
			t.Errorf("expected non-negative duration, got %s", metrics.Duration)
		}
	})

	t.Run("Given an unknown token When ending Then nil", func(t *testing.T) {
		svc := NewPerformanceService(func() int64 { return 0 })
		if metrics := svc.EndOperation("no-such-token", 1); metrics != nil {
			t.Errorf("expected nil, got %+v", metrics)
		}
	})
}

func TestDeriveRecommendations(t *testing.T) {
	t.Run("Given more than three queries per item When deriving Then a medium batching recommendation", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 10, QueriesIssued: 35})
		if len(recs) != 1 || recs[0].Type != "query_batching" || recs[0].Severity != RecommendationSeverityMedium {
			t.Errorf("expected one medium query_batching recommendation, got %+v", recs)
		}
	})

	t.Run("Given more than five queries per item When deriving Then severity escalates to high", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 10, QueriesIssued: 60})
		if len(recs) != 1 || recs[0].Severity != RecommendationSeverityHigh {
			t.Errorf("expected one high recommendation, got %+v", recs)
		}
	})

	t.Run("Given heavy memory use When deriving Then a memory recommendation", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 10, MemoryUsedBytes: 150 * 1024 * 1024})
		if len(recs) != 1 || recs[0].Type != "memory_usage" {
			t.Errorf("expected one memory_usage recommendation, got %+v", recs)
		}
	})

	t.Run("Given slow per-item processing When deriving Then a processing time recommendation", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 10, DurationMs: 6000})
		if len(recs) != 1 || recs[0].Type != "processing_time" || recs[0].Severity != RecommendationSeverityHigh {
			t.Errorf("expected one high processing_time recommendation, got %+v", recs)
		}
	})

	t.Run("Given zero items When deriving Then no recommendations", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 0, QueriesIssued: 100})
		if len(recs) != 0 {
			t.Errorf("expected none, got %+v", recs)
		}
	})

	t.Run("Given healthy metrics When deriving Then no recommendations", func(t *testing.T) {
		recs := deriveRecommendations(&OperationMetrics{ItemCount: 100, QueriesIssued: 5, DurationMs: 200})
		if len(recs) != 0 {
			t.Errorf("expected none, got %+v", recs)
		}
	})
}

func TestAnalyzeXMLGeneration(t *testing.T) {
	svc := NewPerformanceService(func() int64 { return 0 })

	t.Run("Given a small payment file When analyzing Then no recommendations", func(t *testing.T) {
		stats := svc.AnalyzeXMLGeneration(2*1024*1024, 5000, 6)
		if len(stats.Recommendations) != 0 {
			t.Errorf("expected none, got %+v", stats.Recommendations)
		}
	})

	t.Run("Given an oversized payment file When analyzing Then split advice", func(t *testing.T) {
		stats := svc.AnalyzeXMLGeneration(12*1024*1024, 400000, 6)
		if len(stats.Recommendations) != 1 || stats.Recommendations[0].Type != "file_size" {
			t.Errorf("expected a file_size recommendation, got %+v", stats.Recommendations)
		}
	})
}

func TestGetPerformanceSummary(t *testing.T) {
	t.Run("Given two finished operations When summarizing Then counts and averages aggregate", func(t *testing.T) {
		var queries atomic.Int64
		svc := NewPerformanceService(queries.Load)

		token := svc.StartOperation("assemble_batch")
		queries.Add(3)
		svc.EndOperation(token, 3)

		token = svc.StartOperation("coverage_sweep")
		queries.Add(2)
		svc.EndOperation(token, 500)

		summary := svc.GetPerformanceSummary(1)
		if summary.OperationCount != 2 {
			t.Fatalf("expected 2 operations, got %d", summary.OperationCount)
		}
		if summary.TotalQueries != 5 {
			t.Errorf("expected 5 queries, got %d", summary.TotalQueries)
		}
		assemble := summary.ByOperation["assemble_batch"]
		sweep := summary.ByOperation["coverage_sweep"]
		if assemble == nil || sweep == nil {
			t.Fatalf("expected aggregates for both operations, got %+v", summary.ByOperation)
		}
		if assemble.Count != 1 || sweep.Count != 1 {
			t.Errorf("unexpected per-operation counts: %d / %d", assemble.Count, sweep.Count)
		}
		if assemble.TotalQueries != 3 || sweep.TotalQueries != 2 {
			t.Errorf("unexpected per-operation queries: %d / %d", assemble.TotalQueries, sweep.TotalQueries)
		}
		if assemble.TotalItems != 3 || sweep.TotalItems != 500 {
			t.Errorf("unexpected per-operation items: %d / %d", assemble.TotalItems, sweep.TotalItems)
		}
	})

	t.Run("Given repeated runs of one operation When summarizing Then its aggregate spans all runs", func(t *testing.T) {
		var queries atomic.Int64
		svc := NewPerformanceService(queries.Load)

		token := svc.StartOperation("assemble_batch")
		queries.Add(4)
		svc.EndOperation(token, 10)

		token = svc.StartOperation("assemble_batch")
		queries.Add(6)
		svc.EndOperation(token, 20)

		summary := svc.GetPerformanceSummary(1)
		agg := summary.ByOperation["assemble_batch"]
		if agg == nil {
			t.Fatal("expected an aggregate for assemble_batch")
		}
		if agg.Count != 2 {
			t.Errorf("expected 2 runs, got %d", agg.Count)
		}
		if agg.TotalQueries != 10 {
			t.Errorf("expected 10 queries in total, got %d", agg.TotalQueries)
		}
		if agg.TotalItems != 30 {
			t.Errorf("expected 30 items in total, got %d", agg.TotalItems)
		}
		if agg.MaxDurationMs < agg.AvgDurationMs {
			t.Errorf("max duration %d must not be below the average %d", agg.MaxDurationMs, agg.AvgDurationMs)
		}
		if agg.AvgMemoryMB < 0 {
			t.Errorf("expected non-negative average memory, got %f", agg.AvgMemoryMB)
		}
	})

	t.Run("Given an aged-out operation When summarizing a short window Then it is excluded", func(t *testing.T) {
		svc := NewPerformanceService(func() int64 { return 0 })
		token := svc.StartOperation("old_run")
		m := svc.EndOperation(token, 1)
		if m == nil {
			t.Fatal("expected metrics")
		}

		// Backdate the recorded entry past the summary window
		svc.mu.Lock()
		svc.history[0].FinishedAt = time.Now().Add(-2 * time.Hour)
		svc.mu.Unlock()

		summary := svc.GetPerformanceSummary(1)
		if summary.OperationCount != 0 {
			t.Errorf("expected the old operation excluded, got %d", summary.OperationCount)
		}
	})
}
