package state

import "golang.org/x/exp/slices"

// Snapshot is a point-in-time copy of the externally visible state.
type Snapshot map[string]any

// Patch is a partial snapshot describing proposed changes.
type Patch map[string]any

// Computer is implemented by instances that expose derived state.
type Computer interface {
	ComputedState() map[string]any
}

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string { return sortedKeys(s) }

// Keys returns the patch keys in sorted order.
func (p Patch) Keys() []string { return sortedKeys(p) }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
