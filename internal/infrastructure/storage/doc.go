// Package storage provides the raw resource access the credential reader
// builds on: open, stat, read and close of named resources grouped by class.
//
// Two backends implement Store:
//   - FS maps each resource class to a directory on disk
//   - SQLite keeps resources as blobs in the credential_resources table
//
// Handles are opaque and must be closed on every path. Both backends track
// open handles so leaks are observable through OpenHandles.
package storage
