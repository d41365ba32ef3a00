package guess

// HistoryCap is the number of records kept; older ones are evicted.
const HistoryCap = 20

// History is a fixed capacity ring of records.
type History struct {
	buf  [HistoryCap]Record
	next int
	n    int
}

// Push adds r as the most recent record, evicting the oldest when full.
func (h *History) Push(r Record) {
	h.buf[h.next] = r
	h.next = (h.next + 1) % HistoryCap
	if h.n < HistoryCap {
		h.n++
	}
}

func (h *History) Len() int { return h.n }

// Records returns the records most recent first.
func (h *History) Records() []Record {
	out := make([]Record, 0, h.n)
	for i := 1; i <= h.n; i++ {
		out = append(out, h.buf[(h.next-i+HistoryCap)%HistoryCap])
	}
	return out
}

func (h *History) Clear() { *h = History{} }
