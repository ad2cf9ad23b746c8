package handler

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// StatusHandler serves a snapshot of the running bot. Each section is a
// callback so the handler never holds component locks itself.
type StatusHandler struct {
	mode    string
	started time.Time

	mu       sync.RWMutex
	sections map[string]func() any
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string) *StatusHandler {
	return &StatusHandler{
		mode:     mode,
		started:  time.Now(),
		sections: make(map[string]func() any),
	}
}

// Add registers a named section of the status response.
func (h *StatusHandler) Add(name string, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sections[name] = fn
}

// Sections returns the registered section names, sorted.
func (h *StatusHandler) Sections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.sections))
	for name := range h.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus responds with the mode, uptime and every registered section.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	h.mu.RLock()
	for name, fn := range h.sections {
		out[name] = fn()
	}
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}
