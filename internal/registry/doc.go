// Package registry implements the persistent registries for entities,
// devices, areas, floors and labels.
//
// Each registry keeps a primary map plus secondary indexes rebuilt inside
// the same critical section, persists through a versioned storage document
// with a debounced flush, and fires an <registry>_updated event on every
// mutation.
package registry
