package session

import "errors"

// ErrQueueUnderflow means a pairing was attempted with no outstanding launch.
// The controller never pushes less than it pops, so seeing this is a bookkeeping bug.
var ErrQueueUnderflow = errors.New("pending-spawn queue underflow")

// Queue holds launch identifiers of workers that were started but not yet paired, oldest first.
// It is not goroutine-safe; the lifecycle controller is its only writer.
type Queue struct {
	ids []string
}

func (q *Queue) Push(id string) {
	q.ids = append(q.ids, id)
}

// Pop removes and returns the oldest outstanding launch identifier.
func (q *Queue) Pop() (string, error) {
	if len(q.ids) == 0 {
		return "", ErrQueueUnderflow
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, nil
}

// Remove drops id from the queue, reporting whether it was present.
func (q *Queue) Remove(id string) bool {
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.ids) }

// Items returns a copy of the outstanding identifiers, oldest first.
func (q *Queue) Items() []string {
	return append([]string(nil), q.ids...)
}

// Clear empties the queue and returns what was in it.
func (q *Queue) Clear() []string {
	ids := q.ids
	q.ids = nil
	return ids
}
