package models

import "fmt"

// UnknownParameterError indicates a parameter name outside the session's parameter set
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	return "unknown parameter: " + e.Name
}

// InvalidWeightsError indicates a weight triplet that cannot be normalized
type InvalidWeightsError struct {
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return "invalid weights: " + e.Reason
}

// InvalidSelectionError indicates a malformed or out-of-range parameter selection
type InvalidSelectionError struct {
	Input  string
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	if e.Input == "" {
		return "invalid selection: " + e.Reason
	}
	return fmt.Sprintf("invalid selection %q: %s", e.Input, e.Reason)
}
