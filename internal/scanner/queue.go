package scanner

import "sync"

// folderQueue is an ordered dedup set of root-folder names: re-queuing a
// name that is already pending is a no-op, and names come back out in the
// order they were first added so runs are reproducible.
type folderQueue struct {
	mu      sync.Mutex
	pending []string
	member  map[string]struct{}
}

func newFolderQueue() *folderQueue {
	return &folderQueue{member: make(map[string]struct{})}
}

func (q *folderQueue) Push(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.member[name]; ok {
		return false
	}

	q.member[name] = struct{}{}
	q.pending = append(q.pending, name)
	return true
}

func (q *folderQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}

	name := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.member, name)
	return name, true
}

func (q *folderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
