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


// Package search provides semantic search over ingested taxonomy entities.
//
// The Searcher embeds the query, ranks stored objects by the dot product of
// their normalized vectors and boosts objects whose labels contain every
// query word, after stop-word filtering.
//
// Searches are refused with ErrIngestionNotComplete until the latest
// ingestion state is COMPLETED, so callers never see a half-loaded taxonomy.
package search
