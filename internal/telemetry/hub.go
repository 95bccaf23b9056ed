package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unicro/uniscout/internal/config"
)

// Event types.
const (
	EventReady     = "ready"
	EventDevices   = "devices"
	EventProgress  = "progress"
	EventState     = "state"
	EventHeartbeat = "heartbeat"
)

// allRuns keys the buffer holding every event regardless of run.
const allRuns = ""

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Run  string                 `json:"run,omitempty"`

	at time.Time
}

// SnapshotSource supplies the ready event payload for new clients.
type SnapshotSource func() map[string]interface{}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Run     string
	Events  chan Event // never closed; publishers may still hold the client
	mu      sync.Mutex // Protect Writer access
}

// Hub manages SSE telemetry distribution with per-run buffering.
//
// Lock ordering: h.mu before EventBuffer.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffers map[string]*EventBuffer
	runs    []string // runs with a buffer, oldest first
	nextID  int64    // atomic

	config   config.TelemetryConfig
	logger   *slog.Logger
	snapshot SnapshotSource

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a telemetry hub.
func NewHub(cfg config.TelemetryConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		buffers: make(map[string]*EventBuffer),
		config:  cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// SetSnapshotSource sets the provider of the ready event snapshot.
func (h *Hub) SetSnapshotSource(source SnapshotSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = source
}

// Subscribe serves one SSE client until ctx ends or the hub stops.
// Clients may filter on a run with ?run=<id> and resume with Last-Event-ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control, Last-Event-ID")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	bufferSize := h.config.ClientBuffer
	if bufferSize < 1 {
		bufferSize = 100
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Run:     r.URL.Query().Get("run"),
		Events:  make(chan Event, bufferSize),
	}

	select {
	case <-h.done:
		cancel()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	h.logger.Debug("telemetry client connected", "client", client.ID, "run", client.Run, "lastEventId", lastEventID)

	if err := h.sendReadyEvent(client); err != nil {
		h.unregisterClient(client.ID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		if err := h.replayEvents(client, lastEventID); err != nil {
			h.unregisterClient(client.ID)
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.handleClient(client)
	return nil
}

// Publish assigns an id, buffers the event and fans it out. Clients whose
// queue is full miss the event; they can recover it with Last-Event-ID.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if event.ID == 0 {
		event.ID = atomic.AddInt64(&h.nextID, 1)
	}
	event.at = time.Now()

	if event.Type != EventHeartbeat {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Run == "" || event.Run == "" || client.Run == event.Run {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
		case client.Events <- event:
		default:
			h.logger.Debug("telemetry client lagging, event dropped", "client", client.ID, "event", event.ID)
		}
	}

	return nil
}

// PublishRun publishes an event belonging to a scan run.
func (h *Hub) PublishRun(runID string, event Event) error {
	event.Run = runID
	return h.Publish(event)
}

func (h *Hub) sendReadyEvent(client *Client) error {
	h.mu.RLock()
	source := h.snapshot
	h.mu.RUnlock()

	snapshot := map[string]interface{}{}
	if source != nil {
		snapshot = source()
	}

	return h.sendEventToClient(client, Event{
		Type: EventReady,
		Data: map[string]interface{}{
			"clientId": client.ID,
			"snapshot": snapshot,
		},
	})
}

func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Run]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	for _, event := range buffer.GetEventsAfter(lastEventID) {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}
	return nil
}

// sendEventToClient writes a single event in SSE framing.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		h.unregisterClient(client.ID)
		h.logger.Debug("telemetry client disconnected", "client", client.ID)
	}()

	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// bufferEvent records the event in the all-runs buffer and in its run's buffer.
// Only the most recent RetainedRuns runs keep a buffer.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := []string{allRuns}
	if event.Run != "" {
		keys = append(keys, event.Run)
	}
	for _, key := range keys {
		buffer, exists := h.buffers[key]
		if !exists {
			buffer = NewEventBuffer(h.config.EventBufferSize, h.config.EventBufferRetention)
			h.buffers[key] = buffer
			if key != allRuns {
				h.trackRun(key)
			}
		}
		buffer.AddEvent(event)
	}
}

// trackRun records a new run buffer and evicts the oldest beyond the limit.
// Caller holds h.mu.
func (h *Hub) trackRun(run string) {
	h.runs = append(h.runs, run)

	limit := h.config.RetainedRuns
	if limit < 1 {
		limit = 1
	}
	for len(h.runs) > limit {
		evicted := h.runs[0]
		h.runs = h.runs[1:]
		delete(h.buffers, evicted)
		h.logger.Debug("telemetry run buffer evicted", "run", evicted)
	}
}

// RunBufferCount returns how many runs currently keep a replay buffer.
func (h *Hub) RunBufferCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval + h.config.HeartbeatJitter/2
	if interval <= 0 {
		interval = 15 * time.Second
	}

	h.heartbeatTicker = time.NewTicker(interval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: EventHeartbeat,
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop disconnects every client and stops the heartbeat. It is safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
		}
		if h.stopHeartbeat != nil {
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.logger.Warn("telemetry hub stop timed out waiting for heartbeat")
		}
	})
}
