package scheduler

import (
	"github.com/tidwall/btree"
)

// requestQueue keeps pending jobs ordered by (priority, arrival). The key
// packs the tier into the top byte and a monotonically increasing sequence
// into the rest, so PopMin yields strict priority with FIFO inside a tier.
type requestQueue struct {
	items   btree.Map[uint64, *job]
	seq     uint64
	perTier [PriorityLow + 1]int
}

func queueKey(p Priority, seq uint64) uint64 {
	return uint64(p)<<56 | seq&(1<<56-1)
}

// push appends j at the tail of its tier.
func (q *requestQueue) push(j *job) {
	q.seq++
	j.key = queueKey(j.req.Priority, q.seq)
	q.items.Set(j.key, j)
	q.perTier[j.req.Priority]++
}

func (q *requestQueue) pop() *job {
	_, j, ok := q.items.PopMin()
	if !ok {
		return nil
	}
	q.perTier[j.req.Priority]--
	return j
}

func (q *requestQueue) remove(j *job) bool {
	if _, ok := q.items.Delete(j.key); !ok {
		return false
	}
	q.perTier[j.req.Priority]--
	return true
}

func (q *requestQueue) len() int {
	return q.items.Len()
}

func (q *requestQueue) tierLen(p Priority) int {
	return q.perTier[p]
}

// drain removes and returns every pending job in dequeue order.
func (q *requestQueue) drain() []*job {
	out := make([]*job, 0, q.items.Len())
	for {
		j := q.pop()
		if j == nil {
			return out
		}
		out = append(out, j)
	}
}
