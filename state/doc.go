// Package state derives the ingestion lifecycle state from the append-only
// metadata table and decides whether a new run may start.
//
// Coordination between processes is advisory. A process reads the latest
// record and refuses to start while a live run is recorded; two processes
// racing between that read and their first IN_PROGRESS write can both
// proceed. Entity upserts and reference adds are idempotent, so such a
// duplicate run converges on the same data.
package state
