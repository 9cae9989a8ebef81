package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/sunr3d/folderzip/models"
)

// entryQueue: один писатель (обход дерева), один читатель (fetcher).
type entryQueue struct {
	mu     sync.Mutex
	items  []models.Entry
	done   bool
	err    error
	notify chan struct{}
}

func newEntryQueue() *entryQueue {
	return &entryQueue{notify: make(chan struct{}, 1)}
}

func (q *entryQueue) push(entries ...models.Entry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, entries...)
	q.mu.Unlock()

	q.wake()
}

func (q *entryQueue) close(err error) {
	q.mu.Lock()
	q.done = true
	q.err = err
	q.mu.Unlock()

	q.wake()
}

func (q *entryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *entryQueue) pop(ctx context.Context) (models.Entry, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			entry := q.items[0]
			q.items[0] = models.Entry{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return entry, nil
		}
		done, err := q.done, q.err
		q.mu.Unlock()

		if done {
			if err != nil {
				return models.Entry{}, err
			}
			return models.Entry{}, io.EOF
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return models.Entry{}, cancelled(ctx)
		}
	}
}

func (q *entryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
