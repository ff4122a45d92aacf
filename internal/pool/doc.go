// Package pool implements Mercury's QuadStorePool: a named collection
// of quad-store directories under one root, plus a temporary-store
// lifecycle (CreateTemp/Rent/Return) for scratch state. The query
// executor does not rent temporary stores; it keeps SERVICE results as
// in-memory rows.
//
// A pool directory holds one pool.json metadata file and a stores/
// subdirectory containing one subdirectory per store, named by GUID
// rather than by the caller-facing name — this is what makes
// Switch(a, b) an O(1) metadata swap instead of a directory rename or
// data copy.
//
// Thread-safety: a *Pool serializes all metadata mutation
// (Create/Delete/SetActive/Switch/Rent/Return) behind one mutex; the
// *store.Store instances it hands out have their own independent
// concurrency discipline (see internal/store) once obtained.
package pool
