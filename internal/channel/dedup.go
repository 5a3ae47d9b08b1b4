package channel

// seenSet remembers the most recent request ids whose completion was already
// observed, so late or duplicate completion signals (e.g. arriving after a
// fallback already fired) can be ignored. It keeps at most cap ids, evicting
// the oldest.
//
// Not safe for concurrent use; the owning Channel serialises access.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	cap   int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids: make(map[string]struct{}, capacity),
		cap: capacity,
	}
}

// observe records id and reports whether it was seen before.
func (s *seenSet) observe(id string) (duplicate bool) {
	if id == "" {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return false
}
