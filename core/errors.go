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

// Error taxonomy. Components wrap these with fmt.Errorf("%w: ...") so callers
// can classify failures with errors.Is.
var (
	// ErrConnectivity indicates the store is unreachable.
	ErrConnectivity = errors.New("store unreachable")

	// ErrValidation indicates ingestion prerequisites are not met.
	ErrValidation = errors.New("validation failed")

	// ErrData indicates a malformed or missing source record.
	ErrData = errors.New("invalid source data")

	// ErrPersistence indicates a write to the store failed after retries.
	ErrPersistence = errors.New("persistence failed")
)

// Domain validation errors
var (
	// ErrInvalidObject indicates an Object failed validation.
	ErrInvalidObject = errors.New("invalid object")

	// ErrEmptyExternalID indicates the object has no external identifier.
	ErrEmptyExternalID = errors.New("external identifier cannot be empty")

	// ErrInvalidMetadata indicates an IngestionMetadata record failed validation.
	ErrInvalidMetadata = errors.New("invalid ingestion metadata")

	// ErrInvalidState indicates an unrecognized ingestion state value.
	ErrInvalidState = errors.New("invalid ingestion state")
)

// UnknownClassError is returned when a class name does not match any
// registered entity class.
type UnknownClassError struct {
	Name string
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("unknown entity class %q", e.Name)
}
