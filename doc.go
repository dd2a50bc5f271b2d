// Package skillgraph loads the ESCO skills and occupations taxonomy into an
// embedded object store and keeps track of ingestion progress so an
// interrupted load can be resumed.
//
// Database is the entry point: it opens the store, the source files and an
// optional embedding provider, and hands out the ingestion service, the
// searcher and the re-embedder.
package skillgraph
