package store

import "sync"

// inflight counts remote creates that have been started and not finished.
type inflight struct {
	mu  sync.Mutex
	ids map[int64]int
}

// start marks id and returns the func that clears it.
func (f *inflight) start(id int64) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = make(map[int64]int)
	}
	f.ids[id]++
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.ids[id]--; f.ids[id] <= 0 {
				delete(f.ids, id)
			}
		})
	}
}

func (f *inflight) has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id] > 0
}
