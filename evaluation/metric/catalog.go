//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package metric

// Catalog is the static grouping of metric names into categories. It is
// read-only and process-wide.
type Catalog struct {
	// RAGMetrics lists retrieval-augmented-generation quality metrics.
	RAGMetrics []string `json:"rag_metrics"`
	// SafetyEthics lists safety metrics whose scores are lower-is-better.
	SafetyEthics []string `json:"safety_ethics"`
	// TaskSpecific lists metrics tied to a task shape.
	TaskSpecific []string `json:"task_specific"`
	// CustomMetrics lists user-configurable metrics.
	CustomMetrics []string `json:"custom_metrics"`
}

// Category name constants.
const (
	CategoryRAG          = "rag"
	CategorySafetyEthics = "safety_ethics"
	CategoryTaskSpecific = "task_specific"
	CategoryCustom       = "custom"
)

// DefaultCatalog returns the built-in metric catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		RAGMetrics: []string{
			MetricAnswerRelevancy,
			MetricFaithfulness,
			MetricContextualPrecision,
			MetricContextualRecall,
			MetricContextualRelevancy,
		},
		SafetyEthics: []string{
			MetricBias,
			MetricToxicity,
			MetricHallucination,
		},
		TaskSpecific: []string{
			MetricSummarization,
			MetricClassification,
			MetricGeneration,
		},
		CustomMetrics: []string{
			MetricGEval,
			MetricCustomDomain,
		},
	}
}

// All returns every metric name in the catalog, category order preserved.
func (c *Catalog) All() []string {
	all := make([]string, 0,
		len(c.RAGMetrics)+len(c.SafetyEthics)+len(c.TaskSpecific)+len(c.CustomMetrics))
	all = append(all, c.RAGMetrics...)
	all = append(all, c.SafetyEthics...)
	all = append(all, c.TaskSpecific...)
	all = append(all, c.CustomMetrics...)
	return all
}
