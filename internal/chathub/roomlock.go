package chathub

import (
	"context"
	"coursechat/backend/internal/models"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedMutex hands out one weight-1 semaphore per room key and forgets it
// once nobody holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[models.RoomKey]*refSemaphore
}

type refSemaphore struct {
	sem  *semaphore.Weighted
	refs int
}

// Lock blocks until the lock for key is held or ctx is done. On success it
// returns the release func.
func (k *keyedMutex) Lock(ctx context.Context, key models.RoomKey) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[models.RoomKey]*refSemaphore)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refSemaphore{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.release(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		k.release(key, l)
	}, nil
}

func (k *keyedMutex) release(key models.RoomKey, l *refSemaphore) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
