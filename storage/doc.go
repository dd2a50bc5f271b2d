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


// Package storage provides the storage abstraction layer for skillgraph.
//
// This package defines repository interfaces that decouple the ingestion and
// search code from the store implementation. Every component receives its
// repositories explicitly through its constructor; nothing reaches for a
// process-wide store.
//
// # Architecture
//
//   - ObjectRepository: taxonomy objects, their identifier index, directed
//     references with set semantics, and vector similarity search
//   - MetadataRepository: the append-only ingestion bookkeeping table
//
// # Usage
//
// Open repositories backed by BadgerDB:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	objects, err := badger.NewObjectRepository(backend)
//
// Use in tests with in-memory storage:
//
//	objects, metadata, backend, err := badger.NewMemoryRepositories()
//
// # Serialization
//
// Objects are encoded with mus-go. Metadata records are encoded as JSON
// because their details map holds values of mixed types.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
