//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package metric

// Canonical metric name constants, shared by the registry and callers.
const (
	// RAG metrics.
	MetricAnswerRelevancy     = "answer_relevancy"
	MetricFaithfulness        = "faithfulness"
	MetricContextualPrecision = "contextual_precision"
	MetricContextualRecall    = "contextual_recall"
	MetricContextualRelevancy = "contextual_relevancy"

	// Safety and ethics metrics. Lower scores are better.
	MetricBias          = "bias"
	MetricToxicity      = "toxicity"
	MetricHallucination = "hallucination"

	// Task-specific metrics.
	MetricSummarization  = "summarization"
	MetricClassification = "classification"
	MetricGeneration     = "generation"

	// Custom metrics.
	MetricGEval        = "geval"
	MetricCustomDomain = "custom_domain"
)
