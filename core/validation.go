// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Component status values recorded in ValidationResult.Details.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// ComponentStatus is the per-component outcome of a validation pass.
type ComponentStatus struct {
	Status   string
	Messages []string
}

// ValidationResult accumulates the outcome of a validation pass. A pass
// records every problem it finds rather than stopping at the first one.
// Callers must treat a returned result as read-only.
type ValidationResult struct {
	IsValid         bool
	Errors          []string
	Warnings        []string
	ChecksPerformed []string
	Details         map[string]*ComponentStatus
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		IsValid: true,
		Details: make(map[string]*ComponentStatus),
	}
}

// AddError records a failure and marks the result invalid.
func (v *ValidationResult) AddError(component, msg string) {
	v.Errors = append(v.Errors, msg)
	v.IsValid = false
	v.record(component, StatusError, msg)
}

// AddWarning records a non-fatal problem.
func (v *ValidationResult) AddWarning(component, msg string) {
	v.Warnings = append(v.Warnings, msg)
	v.record(component, StatusWarning, msg)
}

// AddSuccess records a passed check.
func (v *ValidationResult) AddSuccess(component, msg string) {
	v.ChecksPerformed = append(v.ChecksPerformed, msg)
	v.record(component, StatusSuccess, msg)
}

// Merge appends everything recorded in other.
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
	v.ChecksPerformed = append(v.ChecksPerformed, other.ChecksPerformed...)
	if !other.IsValid {
		v.IsValid = false
	}
	for component, status := range other.Details {
		for _, msg := range status.Messages {
			v.record(component, status.Status, msg)
		}
	}
}

// Err returns nil for a valid result, otherwise ErrValidation joined with
// every recorded error message.
func (v *ValidationResult) Err() error {
	if v.IsValid {
		return nil
	}
	errs := make([]error, 0, len(v.Errors))
	for _, msg := range v.Errors {
		errs = append(errs, fmt.Errorf("%w: %s", ErrValidation, msg))
	}
	return errors.Join(errs...)
}

// record keeps the most severe status per component.
func (v *ValidationResult) record(component, status, msg string) {
	if component == "" {
		component = "general"
	}
	entry, ok := v.Details[component]
	if !ok {
		entry = &ComponentStatus{Status: status}
		v.Details[component] = entry
	}
	if severity(status) > severity(entry.Status) {
		entry.Status = status
	}
	entry.Messages = append(entry.Messages, msg)
}

func severity(status string) int {
	switch status {
	case StatusError:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// ValidateObject validates an Object according to domain rules.
//
// Validation rules:
//   - Class must be a registered entity class
//   - ExternalID must not be empty
//
// NOT validated:
//   - Fields (sources may legitimately omit labels)
//   - Vector (empty when no embedder is configured)
//   - Id (derived from Class and ExternalID by the store)
func ValidateObject(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("%w: object is nil", ErrInvalidObject)
	}
	if !obj.Class.IsKnown() {
		return fmt.Errorf("%w: %w", ErrInvalidObject, &UnknownClassError{Name: string(obj.Class)})
	}
	if obj.ExternalID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidObject, ErrEmptyExternalID)
	}
	return nil
}

// ValidateMetadata checks that a metadata record can be persisted.
func ValidateMetadata(md *IngestionMetadata) error {
	if md == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidMetadata)
	}
	if _, ok := stateNames[md.Status]; !ok {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, ErrInvalidState)
	}
	if md.Timestamp == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidMetadata)
	}
	if _, err := ParseTimestamp(md.Timestamp); err != nil {
		return err
	}
	return nil
}
