// Package fsio provides atomic single-file persistence primitives.
//
// WriteAtomic guarantees readers never observe a partially written file:
// content lands in a uniquely named sibling temp file first and becomes
// visible in one rename. All filesystem calls go through the Backend
// interface so tests can inject faults without touching global state.
package fsio
