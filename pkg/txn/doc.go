// Package txn provides multi-file transactions over the atomic file layer.
//
// A Transaction stages file writes and validation hooks in order. Each staged
// write persists its payload to a private temp file immediately and snapshots
// the prior target content as a backup. Commit runs validations first, then
// applies writes in staging order by atomically renaming each temp file onto
// its target; any failure rolls every applied write back from its backup
// before the error surfaces. Independent transactions never share staged
// state; two transactions racing on the same target path are last-writer-wins
// unless path serialization is enabled on the Coordinator.
package txn
