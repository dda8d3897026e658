package fleet

import (
	"fmt"
	"sync"

	"github.com/nerrad567/spherolink/internal/protocol/notify"
)

// EventFunc receives every notification from every member. It runs on the
// member's delivery worker and must not block.
type EventFunc func(toy string, ev notify.Event)

type eventHub struct {
	mu     sync.RWMutex
	funcs  map[uint64]EventFunc
	nextID uint64
}

// Listen registers fn for notifications from all members, current and
// future, and returns a function that removes it.
func (f *Fleet) Listen(fn EventFunc) (cancel func()) {
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	if f.events.funcs == nil {
		f.events.funcs = make(map[uint64]EventFunc)
	}
	f.events.nextID++
	id := f.events.nextID
	f.events.funcs[id] = fn

	return func() {
		f.events.mu.Lock()
		delete(f.events.funcs, id)
		f.events.mu.Unlock()
	}
}

func (f *Fleet) emit(name string, ev notify.Event) {
	f.events.mu.RLock()
	funcs := make([]EventFunc, 0, len(f.events.funcs))
	for _, fn := range f.events.funcs {
		funcs = append(funcs, fn)
	}
	f.events.mu.RUnlock()

	for _, fn := range funcs {
		f.safeEmit(fn, name, ev)
	}
}

func (f *Fleet) safeEmit(fn EventFunc, name string, ev notify.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event listener panic", "toy", name, "notification", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	fn(name, ev)
}
