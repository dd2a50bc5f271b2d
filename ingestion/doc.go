// Package ingestion loads the ESCO taxonomy into the object store.
//
// A run is a fixed sequence of twelve phases: schema preparation, five
// entity phases and six relation phases. Entity phases upsert objects keyed
// by their concept URI; relation phases resolve both endpoints through a
// run-scoped identifier cache and add references with set semantics,
// together with the registered inverse. Both are idempotent, so a run that
// crashed part way is resumed by running it again from the start.
//
// Progress is persisted to the metadata table after every phase and, during
// long phases, every HeartbeatInterval records. Per-batch and per-row
// problems are collected into the result; only phase-level failures abort a
// run, after a FAILED record has been written.
//
// The Service type composes the state manager, the orchestrator and the
// store into the operations the CLI needs.
package ingestion
