package mms

// activeTransfers tracks the record ids currently believed to be in flight
// with the transport engine: accepted downloads that have not finalized, and
// dispatched sends that have not been acknowledged.
//
// The list lives for the process lifetime only and is not persisted; after a
// restart, in-flight transfers are no longer cancellable until their next
// event arrives naturally. It keeps insertion order so mass cancellation
// happens oldest-first, and it is only touched while holding the engine
// mutex.
type activeTransfers struct {
	ids []int64
}

// add appends a record id. Re-dispatching a transfer may add the same id
// again; removal drops one occurrence at a time.
func (a *activeTransfers) add(id int64) {
	a.ids = append(a.ids, id)
}

// remove drops the first occurrence of id, reporting whether it was present.
func (a *activeTransfers) remove(id int64) bool {
	for i, v := range a.ids {
		if v == id {
			a.ids = append(a.ids[:i], a.ids[i+1:]...)
			return true
		}
	}
	return false
}

// contains reports whether id is tracked.
func (a *activeTransfers) contains(id int64) bool {
	for _, v := range a.ids {
		if v == id {
			return true
		}
	}
	return false
}

// drain returns all tracked ids and clears the list.
func (a *activeTransfers) drain() []int64 {
	ids := a.ids
	a.ids = nil
	return ids
}

// snapshot returns a copy of the tracked ids in insertion order.
func (a *activeTransfers) snapshot() []int64 {
	out := make([]int64, len(a.ids))
	copy(out, a.ids)
	return out
}

// size returns the number of tracked ids.
func (a *activeTransfers) size() int {
	return len(a.ids)
}
