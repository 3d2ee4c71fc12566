// Package storage persists registry documents as versioned JSON files.
//
// Each Store is bound to one key under the .storage/ directory. Documents
// carry a version and minor version so old files can be migrated forward
// on load. Writes go to a temp sibling, are fsynced, then renamed over the
// target so a crash never leaves a truncated file.
package storage
