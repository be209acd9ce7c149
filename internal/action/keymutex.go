package action

import (
	"fmt"
	"sync"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex provides one mutex per (chat,user) key so command handling,
// scheduler fires and federation fan-out serialize against each other
// without a global lock. Idle keys hold no memory.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewKeyMutex returns an empty KeyMutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

func lockKey(chatID, userID int64) string {
	return fmt.Sprintf("%d/%d", chatID, userID)
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the mutex for key and frees it once unreferenced.
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keymutex: unlock of unlocked key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
