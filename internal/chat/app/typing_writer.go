package app

import (
	"context"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

type typingWrite struct {
	ind domain.TypingIndicator
}

// typingWriter serializes typing upserts of one viewer so a true and the
// false that follows it reach the store in that order
type typingWriter struct {
	repo    repository.TypingRepository
	timeout time.Duration
	onError func(ind domain.TypingIndicator, err error)

	mu     sync.Mutex
	closed bool
	queue  chan typingWrite
	done   chan struct{}
}

func newTypingWriter(repo repository.TypingRepository, timeout time.Duration, size int, onError func(domain.TypingIndicator, error)) *typingWriter {
	w := &typingWriter{
		repo:    repo,
		timeout: timeout,
		onError: onError,
		queue:   make(chan typingWrite, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *typingWriter) run() {
	defer close(w.done)
	for job := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.repo.Upsert(ctx, job.ind)
		cancel()
		if err != nil && w.onError != nil {
			w.onError(job.ind, err)
		}
	}
}

// enqueue never blocks, a write is dropped when the queue is full or closed
func (w *typingWriter) enqueue(ind domain.TypingIndicator) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- typingWrite{ind: ind}:
		return true
	default:
		return false
	}
}

// Close flush queued writes and stop
func (w *typingWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
