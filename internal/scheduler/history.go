package scheduler

// idHistory is a bounded insertion-ordered set of request ids; the oldest id
// is evicted once limit is reached.
type idHistory struct {
	limit int
	ids   []string
	set   map[string]struct{}
}

func newIDHistory(limit int) *idHistory {
	return &idHistory{limit: limit, set: make(map[string]struct{}, limit)}
}

func (h *idHistory) add(id string) {
	if len(h.ids) >= h.limit {
		delete(h.set, h.ids[0])
		h.ids = h.ids[1:]
	}
	h.ids = append(h.ids, id)
	h.set[id] = struct{}{}
}

func (h *idHistory) contains(id string) bool {
	_, ok := h.set[id]
	return ok
}

// State returns where request id currently is: "pending", "processing",
// "retrying", "completed" or "failed". Ids evicted from the bounded
// completed and failed histories, or never seen, return "".
func (s *Scheduler) State(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processing[id]; ok {
		return stateProcessing.String()
	}
	if _, ok := s.retrying[id]; ok {
		return stateRetrying.String()
	}
	if s.completed.contains(id) {
		return "completed"
	}
	if s.failed.contains(id) {
		return "failed"
	}
	var pending bool
	s.queue.items.Scan(func(_ uint64, j *job) bool {
		pending = j.req.ID == id
		return !pending
	})
	if pending {
		return statePending.String()
	}
	return ""
}
