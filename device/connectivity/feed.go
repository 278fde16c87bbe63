package connectivity

import "sync"

// Feed fans values out to subscribers. Subscribers are called synchronously
// in subscription order and must not block.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
	order  []int
}

// OnChange registers fn and returns a func that unregisters it.
func (f *Feed[T]) OnChange(fn func(T)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[int]func(T){}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.order = append(f.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	fns := make([]func(T), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}
