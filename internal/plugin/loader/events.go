package loader

// EventType is the kind of registry event.
type EventType int

const (
	// EventLoaded is emitted when a plugin enters the registry.
	EventLoaded EventType = iota
	// EventUnloaded is emitted when a plugin leaves the registry.
	EventUnloaded
	// EventReloaded is emitted when a registered plugin is replaced.
	EventReloaded
	// EventExecuted is emitted after every execution record is written.
	EventExecuted
	// EventError is emitted when a background reload fails.
	EventError
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventUnloaded:
		return "unloaded"
	case EventReloaded:
		return "reloaded"
	case EventExecuted:
		return "executed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event describes a registry change.
type Event struct {
	Type     EventType
	PluginID string
	Error    error
}

// EventHandler handles registry events.
// Handlers must be non-blocking and should not call back into the Loader
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event Event)

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (l *Loader) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	index := len(l.handlers) - 1
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Set to nil instead of removing to keep other indexes valid
		if index < len(l.handlers) {
			l.handlers[index] = nil
		}
	}
}

// emit sends an event to all handlers outside the lock.
func (l *Loader) emit(event Event) {
	l.mu.RLock()
	handlers := make([]EventHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				_ = recover()
			}()
			handler(event)
		}()
	}
}
