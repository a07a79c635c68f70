package backend

import (
	"slices"
	"sync"

	"github.com/hitoshi/mealdash/internal/model"
)

// emitter は認証状態変化のリスナーを管理する。
// emitは直列化されるため、全リスナーは同じ順序でイベントを受け取る。
type emitter struct {
	emitMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]func(model.AuthStateChange)
	nextID    uint64
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[uint64]func(model.AuthStateChange))}
}

// subscribe はリスナーを登録する。返された関数は何度呼んでもよい。
func (e *emitter) subscribe(fn func(model.AuthStateChange)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// emit は登録順にリスナーを呼び出す。
func (e *emitter) emit(change model.AuthStateChange) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	for _, fn := range e.snapshot() {
		fn(change)
	}
}

func (e *emitter) snapshot() []func(model.AuthStateChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	// 登録順に並べる
	slices.Sort(ids)

	fns := make([]func(model.AuthStateChange), len(ids))
	for i, id := range ids {
		fns[i] = e.listeners[id]
	}
	return fns
}
