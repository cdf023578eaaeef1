package service

import (
	"sort"
	"sync"
)

// KeyedLocker cấp một mutex cho mỗi key (số slot, biển số) để chuỗi kiểm tra rồi ghi
// trên cùng slot hoặc cùng xe chạy lần lượt. Key được xóa khi không còn ai giữ hay chờ.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock lấy các key theo thứ tự đã sắp xếp nên hai caller có tập key giao nhau
// không thể deadlock. Hàm trả về nhả tất cả.
func (l *KeyedLocker) Lock(keys ...string) (unlock func()) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	entries := make([]*keyedEntry, 0, len(sorted))
	for _, k := range sorted {
		e := l.acquire(k)
		e.mu.Lock()
		entries = append(entries, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(entries) - 1; i >= 0; i-- {
				entries[i].mu.Unlock()
				l.release(sorted[i])
			}
		})
	}
}

func (l *KeyedLocker) acquire(key string) *keyedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyedEntry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size: số key đang tồn tại (dùng trong test)
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func slotKey(slotNumber string) string { return "slot:" + slotNumber }

func plateKey(plate string) string { return "plate:" + plate }
