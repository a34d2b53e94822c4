// Package api implements the control-plane websocket server (spec.md
// §4.8, C8's UI-facing interface): the UI worker connects over
// websocket, reads parameters, receives history snapshots, and writes
// parameter changes into the shared control.Namespace. Grounded on the
// teacher's internal/api/server.go (Server/transportClient/wsClient,
// the addClient/removeClient/broadcast pattern, gorilla/websocket
// upgrader), narrowed to this domain's message surface and with the
// teacher's gRPC transport dropped (see DESIGN.md).
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"gccnmf/internal/control"
	"gccnmf/internal/device"
	"gccnmf/internal/dictionary"
	"gccnmf/internal/pipeline"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrTransport is the sentinel every client send/close failure wraps.
var ErrTransport = errors.New("api: transport error")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected UI worker, matching the teacher's wsClient.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: client %s: %v", ErrTransport, c.id, err)
	}
	return nil
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

// Server is the control-plane websocket server. It holds no DSP state
// of its own: every param read/write goes through control.Namespace,
// and every history read goes through pipeline.Pipeline's ring
// buffers, so the server never touches the DSP worker's buffers
// directly (spec.md §5's "UI worker ... never touches DSP buffers
// directly").
type Server struct {
	Control  *control.Namespace
	Pipeline *pipeline.Pipeline
	Dict     *dictionary.Store
	Devices  *device.Duplex

	// HistoryPushInterval gates how often connected clients receive an
	// unsolicited history_update push. Zero disables the push loop;
	// clients can still poll with get_history.
	HistoryPushInterval time.Duration

	mu      sync.Mutex
	clients map[*wsClient]bool

	stopPush chan struct{}
}

// NewServer builds a Server. Pipeline, Dict and Devices may be nil in
// batch-only processes that still want to expose get_params.
func NewServer(ctrl *control.Namespace, pl *pipeline.Pipeline, dict *dictionary.Store, dev *device.Duplex) *Server {
	return &Server{
		Control:             ctrl,
		Pipeline:            pl,
		Dict:                dict,
		Devices:             dev,
		HistoryPushInterval: 200 * time.Millisecond,
		clients:             make(map[*wsClient]bool),
	}
}

// RegisterHandlers wires the websocket endpoint onto mux, matching the
// teacher's Start()'s http.HandleFunc wiring (narrowed to one route:
// this domain has no session/model/voiceprint REST surface).
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the periodic history-push loop until stop is closed. Call
// it in its own goroutine; it returns when Stop is called.
func (s *Server) Start() {
	s.mu.Lock()
	if s.stopPush != nil {
		s.mu.Unlock()
		return
	}
	s.stopPush = make(chan struct{})
	stop := s.stopPush
	s.mu.Unlock()

	if s.HistoryPushInterval <= 0 || s.Pipeline == nil {
		<-stop
		return
	}

	ticker := time.NewTicker(s.HistoryPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.broadcast(Message{Type: "history_update", History: s.historySnapshot()})
		}
	}
}

// Stop ends the history-push loop started by Start.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPush != nil {
		close(s.stopPush)
		s.stopPush = nil
	}
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	if len(s.clients) == 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			log.Printf("api: send error: %v", err)
			s.removeClient(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: upgrade: %v", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}
	s.addClient(client)
	defer s.removeClient(client)

	_ = client.Send(Message{Type: "hello", ClientID: client.id})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("api: read: %v", err)
			return
		}
		s.processMessage(client.Send, msg)
	}
}

func (s *Server) processMessage(send func(Message) error, msg Message) {
	switch msg.Type {
	case "get_params":
		send(Message{Type: "params", Params: snapshotParams(s.Control)})

	case "set_param":
		if msg.Delta == nil {
			send(Message{Type: "error", Error: "set_param requires a delta payload"})
			return
		}
		applyDelta(s.Control, *msg.Delta)
		send(Message{Type: "params", Params: snapshotParams(s.Control)})

	case "play":
		s.Control.SetAudioPlaying(true)
		send(Message{Type: "params", Params: snapshotParams(s.Control)})

	case "pause":
		s.Control.SetAudioPlaying(false)
		send(Message{Type: "params", Params: snapshotParams(s.Control)})

	case "set_file_name":
		if msg.Delta == nil || msg.Delta.FileName == nil {
			send(Message{Type: "error", Error: "set_file_name requires delta.fileName"})
			return
		}
		s.Control.SetFileName(*msg.Delta.FileName)
		send(Message{Type: "params", Params: snapshotParams(s.Control)})

	case "get_devices":
		if s.Devices == nil {
			send(Message{Type: "devices", Devices: nil})
			return
		}
		infos, err := s.Devices.ListDevices()
		if err != nil {
			send(Message{Type: "error", Error: err.Error()})
			return
		}
		send(Message{Type: "devices", Devices: infos})

	case "get_history":
		send(Message{Type: "history_update", History: s.historySnapshot()})

	default:
		send(Message{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *Server) historySnapshot() *HistoryPayload {
	if s.Pipeline == nil {
		return nil
	}
	hist := s.Pipeline.Histories()
	return &HistoryPayload{
		InputSpectrogram:  hist.InputSpectrogram.Unraveled(),
		OutputSpectrogram: hist.OutputSpectrogram.Unraveled(),
		GCCPHAT:           hist.GCCPHAT.Unraveled(),
		CoefficientMask:   hist.CoefficientMask.Unraveled(),
		Underruns:         s.Pipeline.Underruns(),
	}
}
