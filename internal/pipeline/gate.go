package pipeline

import (
	"context"
	"sync"
)

// pauseGate: resumed != nil, пока стоит пауза; paused закрывается
// в момент следующей паузы.
type pauseGate struct {
	mu      sync.Mutex
	resumed chan struct{}
	paused  chan struct{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resumed != nil {
		return
	}
	g.resumed = make(chan struct{})
	if g.paused != nil {
		close(g.paused)
		g.paused = nil
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resumed != nil {
		close(g.resumed)
		g.resumed = nil
	}
}

// pausedCh возвращает канал, закрытый на время паузы или в момент
// следующей паузы.
func (g *pauseGate) pausedCh() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resumed != nil {
		return closedCh
	}
	if g.paused == nil {
		g.paused = make(chan struct{})
	}
	return g.paused
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// wait блокируется, пока стоит пауза. Отмена контекста прерывает ожидание.
func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		resumed := g.resumed
		g.mu.Unlock()

		if resumed == nil {
			if ctx.Err() != nil {
				return cancelled(ctx)
			}
			return nil
		}

		select {
		case <-resumed:
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}
}
