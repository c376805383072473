// Package theatre is the state layer of an animation studio built on the
// dataverse reactive engine.
//
// A Studio holds three state trees, each a record atom: historic state (the
// project, subject to undo), ahistoric state (persisted UI state) and
// ephemeral state. Derived values are built with the runtime returned by
// Studio.Runtime, or with prisms created through Studio.Prism, which the
// studio disposes on Close.
//
// Writes that must land together go through Studio.Transaction:
//
//	err := studio.Transaction(func(tx *theatre.Transaction) error {
//		for i, kf := range copied {
//			tx.Set(theatre.Historic, kpath.Of("tracks", "x", "keyframes", i), kf)
//		}
//		return nil
//	})
//
// Snapshots of the persisted branches are written to a kstate.Store with
// Studio.Snapshot and read back with Studio.Restore.
package theatre
