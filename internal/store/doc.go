// Package store persists plugin descriptors, their lifecycle state and an
// index of execution records in a SQLite database.
//
// It implements the loader's Catalog and RecordSink interfaces and sits
// outside the plugin core: nothing under internal/plugin imports it.
package store
