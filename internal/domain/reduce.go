// Package domain holds the family reduction rules.
package domain

import "github.com/famkit/famsync"

// ReduceFamily is the container's reducer for the family state.
//
// Register binds the key while preserving any value already held, so a create
// acknowledgment arriving before the first StateChanged leaves a usable state.
// StateChanged replaces the state wholesale; a nil state clears it. Delete
// deliberately leaves state untouched: the deferred deletion effect needs the
// registered key after reduction, and removal becomes visible through the
// change stream.
func ReduceFamily(state *famsync.FamilyState, action famsync.Action) *famsync.FamilyState {
	switch a := action.(type) {
	case famsync.Register:
		if state != nil {
			return &famsync.FamilyState{Key: a.Key, Value: state.Value.Clone()}
		}
		return &famsync.FamilyState{Key: a.Key}

	case famsync.StateChanged:
		if a.State == nil {
			return nil
		}
		return &famsync.FamilyState{Key: a.State.Key, Value: a.State.Value.Clone()}

	default:
		return state
	}
}
