package broker

// workerQueue holds ready worker identities, least recently ready first.
// A worker appears at most once.
type workerQueue struct {
	ids   [][]byte
	index map[string]struct{}
}

func newWorkerQueue() *workerQueue {
	return &workerQueue{index: make(map[string]struct{})}
}

// Push appends id unless it is already queued.
func (q *workerQueue) Push(id []byte) bool {
	if _, ok := q.index[string(id)]; ok {
		return false
	}
	q.index[string(id)] = struct{}{}
	q.ids = append(q.ids, id)
	return true
}

// Pop removes and returns the least recently ready worker.
func (q *workerQueue) Pop() ([]byte, bool) {
	if len(q.ids) == 0 {
		return nil, false
	}
	id := q.ids[0]
	q.ids[0] = nil
	q.ids = q.ids[1:]
	delete(q.index, string(id))
	return id, true
}

// Remove drops id wherever it is in the queue.
func (q *workerQueue) Remove(id []byte) bool {
	if _, ok := q.index[string(id)]; !ok {
		return false
	}
	delete(q.index, string(id))
	for i, v := range q.ids {
		if string(v) == string(id) {
			q.ids = append(q.ids[:i:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

func (q *workerQueue) Len() int {
	return len(q.ids)
}

// Snapshot returns the queued identities in order.
func (q *workerQueue) Snapshot() [][]byte {
	return append([][]byte(nil), q.ids...)
}
