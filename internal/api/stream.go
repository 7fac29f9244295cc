package api

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"faris/backend/internal/analysis"
)

// Stream event types.
const (
	EventStage  = "stage"
	EventResult = "result"
	EventError  = "error"
)

// StageEvent describes websocket payloads emitted while analyses run.
type StageEvent struct {
	Type       string           `json:"type"`
	AnalysisID string           `json:"analysis_id,omitempty"`
	Stage      string           `json:"stage,omitempty"`
	ElapsedMs  int64            `json:"elapsed_ms,omitempty"`
	Errors     int              `json:"errors,omitempty"`
	Message    string           `json:"message,omitempty"`
	Result     *AnalyzeResponse `json:"result,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// clientQueueSize bounds the events buffered for one websocket client.
const clientQueueSize = 64

var errClientClosed = errors.New("websocket client closed")

// wsClient owns a websocket connection. Queued events are written by the
// client's own writeLoop goroutine.
type wsClient struct {
	conn      *websocket.Conn
	send      chan StageEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan StageEvent, clientQueueSize),
		done: make(chan struct{}),
	}
}

// StageNotifier keeps track of websocket clients and broadcasts stage events
// of every running analysis to them.
type StageNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *StageEvent
}

// NewStageNotifier constructs a notifier instance.
func NewStageNotifier() *StageNotifier {
	return &StageNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the latest status.
func (n *StageNotifier) Register(conn *websocket.Conn) *wsClient {
	client := newWSClient(conn)
	go client.writeLoop()

	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		client.enqueue(*status)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *StageNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	client.close()
}

// Broadcast queues the supplied event for all registered websocket clients.
// It never waits on a socket; clients whose queue is full are dropped.
func (n *StageNotifier) Broadcast(event StageEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	if event.Type == EventStage || event.Type == EventResult {
		snapshot := event
		snapshot.Result = nil
		n.lastStatus = &snapshot
	}

	for client := range n.clients {
		if !client.enqueue(event) {
			delete(n.clients, client)
			client.close()
		}
	}
}

// Send queues an event for one client only.
func (n *StageNotifier) Send(client *wsClient, event StageEvent) error {
	event.Timestamp = time.Now().UTC()
	if !client.enqueue(event) {
		return errClientClosed
	}
	return nil
}

// Observer adapts the notifier to pipeline stage events.
func (n *StageNotifier) Observer() analysis.Observer {
	if n == nil {
		return nil
	}
	return func(ev analysis.Event) {
		n.Broadcast(StageEvent{
			Type:       EventStage,
			AnalysisID: ev.RunID,
			Stage:      string(ev.Stage),
			ElapsedMs:  ev.Elapsed.Milliseconds(),
			Errors:     ev.Errors,
			Message:    ev.Message,
		})
	}
}

// ClientCount returns the number of connected clients.
func (n *StageNotifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// LastStatus returns a copy of the most recent stage or result event.
func (n *StageNotifier) LastStatus() *StageEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	status := *n.lastStatus
	return &status
}

func (c *wsClient) enqueue(event StageEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			if err := c.writeJSON(event); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) writeJSON(payload interface{}) error {
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
