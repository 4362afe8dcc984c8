//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package status provides the model and process states of an evaluation.
package status

// ModelState represents the evaluation state of a single configured model
// within a process.
type ModelState int

const (
	// ModelStateNotStarted means the model has not been evaluated yet.
	ModelStateNotStarted ModelState = iota
	// ModelStateInProgress means the model is currently being evaluated.
	ModelStateInProgress
	// ModelStateCompleted means the model evaluation finished successfully.
	ModelStateCompleted
	// ModelStateFailed means the model evaluation finished with an error.
	ModelStateFailed
)

// String returns the record form of the model state.
func (s ModelState) String() string {
	switch s {
	case ModelStateNotStarted:
		return "Not Started"
	case ModelStateInProgress:
		return "In Progress"
	case ModelStateCompleted:
		return "Completed"
	case ModelStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s ModelState) Terminal() bool {
	return s == ModelStateCompleted || s == ModelStateFailed
}

// rank orders model states for the monotonic-transition guard. Completed and
// Failed share a rank: both are terminal and neither may replace the other.
func (s ModelState) rank() int {
	switch s {
	case ModelStateNotStarted:
		return 0
	case ModelStateInProgress:
		return 1
	case ModelStateCompleted, ModelStateFailed:
		return 2
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next preserves the partial
// order NotStarted < InProgress < {Completed, Failed}. A state never reverts
// and terminal states never change.
func (s ModelState) CanTransition(next ModelState) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ProcessState represents the overall state of an evaluation process.
type ProcessState int

const (
	// ProcessStatePending means the process record exists but the run has not
	// started yet.
	ProcessStatePending ProcessState = iota
	// ProcessStateInProgress means the process run is executing.
	ProcessStateInProgress
	// ProcessStateCompleted means every configured model completed.
	ProcessStateCompleted
	// ProcessStateFailed means at least one model failed.
	ProcessStateFailed
	// ProcessStateStopped means the process was stopped by an external request.
	ProcessStateStopped
)

// String returns the record form of the process state.
func (s ProcessState) String() string {
	switch s {
	case ProcessStatePending:
		return "Pending"
	case ProcessStateInProgress:
		return "In Progress"
	case ProcessStateCompleted:
		return "Completed"
	case ProcessStateFailed:
		return "Failed"
	case ProcessStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the process state admits no further transitions.
func (s ProcessState) Terminal() bool {
	switch s {
	case ProcessStateCompleted, ProcessStateFailed, ProcessStateStopped:
		return true
	default:
		return false
	}
}

// SummarizeModels reduces the model states of a finalized run to the overall
// process state: Completed iff every model completed, Failed otherwise.
func SummarizeModels(states []ModelState) ProcessState {
	for _, s := range states {
		if s != ModelStateCompleted {
			return ProcessStateFailed
		}
	}
	return ProcessStateCompleted
}
