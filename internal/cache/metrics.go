package cache

// Metrics receives lifecycle events from the Store.
type Metrics interface {
	// Hit is called when GetOrCreate finds a valid entry.
	Hit()
	// Miss is called when GetOrCreate has to create the entry.
	Miss()
	// Expire is called when a lazily discovered expired entry is deleted.
	Expire()
	// Evict is called when an entry is removed to make room.
	Evict()
	// Refresh is called when an entry's expiry is pushed forward.
	Refresh()
}

// NoopMetrics ignores all events.
type NoopMetrics struct{}

func (NoopMetrics) Hit()     {}
func (NoopMetrics) Miss()    {}
func (NoopMetrics) Expire()  {}
func (NoopMetrics) Evict()   {}
func (NoopMetrics) Refresh() {}
