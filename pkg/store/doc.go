// Package store maps project identifiers to on-disk directories and provides
// the non-transactional fast path for saving and loading JSON records.
//
// Layout: one directory per project under the storage root, one file per
// record. Directories are created lazily on first write and are safe to
// recreate if removed externally between calls. Multi-file atomicity lives in
// package txn; Save here is single-file atomic only.
package store
