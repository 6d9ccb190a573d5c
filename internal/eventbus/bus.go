package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type Handler[E any] func(ctx context.Context, event E) error

// Bus 进程内事件总线，按键分发事件；SubscribeAll 的订阅者接收全部事件
type Bus[K comparable, E any] struct {
	mutex       sync.RWMutex
	subscribers map[K]map[uint64]Handler[E]
	all         map[uint64]Handler[E]
	counter     uint64
}

func NewBus[K comparable, E any]() *Bus[K, E] {
	return &Bus[K, E]{
		subscribers: make(map[K]map[uint64]Handler[E]),
		all:         make(map[uint64]Handler[E]),
	}
}

func (b *Bus[K, E]) Subscribe(key K, handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[key] == nil {
		b.subscribers[key] = make(map[uint64]Handler[E])
	}
	b.subscribers[key][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[key]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, key)
			}
		}
		b.mutex.Unlock()
	}
}

func (b *Bus[K, E]) SubscribeAll(handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	b.all[id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		delete(b.all, id)
		b.mutex.Unlock()
	}
}

func (b *Bus[K, E]) Publish(ctx context.Context, key K, event E) error {
	b.mutex.RLock()
	handlersMap := b.subscribers[key]
	handlers := make([]Handler[E], 0, len(handlersMap)+len(b.all))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	for _, handler := range b.all {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Subscribers 返回某个键上的订阅者数量
func (b *Bus[K, E]) Subscribers(key K) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers[key])
}
