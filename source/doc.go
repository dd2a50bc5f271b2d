// Package source streams ESCO taxonomy CSV files in fixed-size batches.
//
// Files are read through a gocloud.dev blob bucket, so the data location can
// be a local directory or an object store URL (s3://, gs://, mem://). Column
// names are normalized per file: common variants such as preferredLabel_en
// or uri are renamed to their canonical form, and hierarchy files published
// in "Level N URI" layout are reshaped into broader/narrower pairs.
//
// A pass over a file is restartable: every ForEachBatch call reopens it.
package source
