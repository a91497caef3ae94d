package app

// fence orders results of repeated fetches of one cache: only a result
// newer than the last applied one is taken, so a slow stale fetch can
// never overwrite a fresher snapshot.
type fence struct {
	issued  uint64
	applied uint64
}

// next sequence number for a fetch about to be dispatched
func (f *fence) next() uint64 {
	f.issued++
	return f.issued
}

// accept reports whether the result tagged seq may be applied
func (f *fence) accept(seq uint64) bool {
	if seq <= f.applied {
		return false
	}
	f.applied = seq
	return true
}
