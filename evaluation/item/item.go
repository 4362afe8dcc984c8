//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package item defines the evaluation item consumed by metrics.
package item

// Item is one question/answer/context tuple to be scored. Items are produced
// by the dataset loader and treated as immutable once constructed.
type Item struct {
	// Question is the prompt that was asked.
	Question string `json:"question"`
	// Answer is the model output under evaluation.
	Answer string `json:"answer"`
	// Context is the retrieval or source context the answer is grounded on.
	Context string `json:"context"`
	// ExpectedAnswer is the reference answer, when available.
	ExpectedAnswer string `json:"expected_answer"`
	// ReferenceOutput is a reference generation used by task-specific metrics.
	ReferenceOutput string `json:"reference_output"`
	// Metadata carries free-form item annotations such as category or difficulty.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	cloned := *it
	if it.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}
