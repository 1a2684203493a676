package plugins

// EventType is the kind of notification emitted by the host.
type EventType int

const (
	// EventProgress is emitted before and after each activation attempt.
	EventProgress EventType = iota
	// EventDiscoveryComplete is emitted once at the end of every Discover call.
	EventDiscoveryComplete
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventDiscoveryComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is a host notification.
type Event struct {
	Type EventType
	// Percent is the share of the queue processed so far, 0 to 100.
	Percent int
	Message string
	// Path is the module file the event is about, if any.
	Path string
	// Loaded is the number of modules activated by the Discover call; set on completion.
	Loaded int
}

// EventHandler receives host events on the goroutine running Discover.
// Handlers must not call Discover or Shutdown. Panics are recovered.
type EventHandler func(event Event)

// Subscribe adds an event handler and returns a function that removes it.
func (h *PluginHost) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	h.hmu.Lock()
	h.handlers = append(h.handlers, handler)
	index := len(h.handlers) - 1
	h.hmu.Unlock()

	return func() {
		h.hmu.Lock()
		defer h.hmu.Unlock()
		// Cleared in place so other unsubscribe funcs keep their index.
		if index < len(h.handlers) {
			h.handlers[index] = nil
		}
	}
}

func (h *PluginHost) emit(event Event) {
	h.hmu.RLock()
	handlers := make([]EventHandler, len(h.handlers))
	copy(handlers, h.handlers)
	h.hmu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Warn("event handler panicked", "event", event.Type.String(), "panic", r)
				}
			}()
			handler(event)
		}()
	}
}

func loadingMessage(d *Descriptor) string {
	return "Loading module " + d.String() + "."
}

func statusMessage(d *Descriptor, success bool) string {
	if success {
		return "Module " + d.String() + " loaded."
	}
	return "Module " + d.String() + " failed."
}
