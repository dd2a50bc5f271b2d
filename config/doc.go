// Package config loads skillgraph settings from a YAML file with
// SKILLGRAPH_* environment overrides.
//
// A minimal file:
//
//	data_source: s3://esco-exports/v1.2?region=eu-west-1
//	store_path: /var/lib/skillgraph
//	ingestion:
//	  batch_size: 500
//	  staleness_threshold: 2h
//	ai:
//	  enabled: true
//	  model: embeddinggemma
//
// Durations accept Go duration strings or a bare number of seconds.
package config
