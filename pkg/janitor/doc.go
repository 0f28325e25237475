// Package janitor sweeps orphaned staging artifacts out of the storage root.
//
// A crash between staging and commit can leave temp and backup files next to
// their targets. Readers never see them because lookups go through exact
// paths, but they accumulate. The janitor removes artifacts older than a
// configured age, on a timer and optionally on filesystem events.
package janitor
