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


package search

import "errors"

var (
	// ErrObjectRepositoryRequired is returned when an object repository is not provided.
	ErrObjectRepositoryRequired = errors.New("object repository required")

	// ErrStateReaderRequired is returned when a state reader is not provided.
	ErrStateReaderRequired = errors.New("state reader required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrIngestionNotComplete is returned when a search is attempted before
	// ingestion has completed.
	ErrIngestionNotComplete = errors.New("ingestion not complete")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("empty query")
)
