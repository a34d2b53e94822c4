package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gccnmf/internal/control"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(control.New(control.DefaultParams()), nil, nil, nil)
	s.HistoryPushInterval = 0

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	return s, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recvUntil(t *testing.T, conn *websocket.Conn, wantType string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestGetParamsReturnsDefaults(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)

	recvUntil(t, conn, "hello")

	if err := conn.WriteJSON(Message{Type: "get_params"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "params")
	if msg.Params == nil {
		t.Fatal("expected non-nil params")
	}
	want := control.DefaultParams()
	if msg.Params.NumTDOAs != want.NumTDOAs {
		t.Errorf("NumTDOAs = %d, want %d", msg.Params.NumTDOAs, want.NumTDOAs)
	}
	if msg.Params.DictionaryType != "Pretrained" {
		t.Errorf("DictionaryType = %q, want Pretrained", msg.Params.DictionaryType)
	}
}

func TestSetParamUpdatesNamespaceAndMarksRebuild(t *testing.T) {
	s, url := startTestServer(t)
	conn := dial(t, url)
	recvUntil(t, conn, "hello")

	newSeparation := 0.25
	if err := conn.WriteJSON(Message{
		Type:  "set_param",
		Delta: &ParamsDelta{MicrophoneSeparationInMetres: &newSeparation},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "params")
	if msg.Params.MicrophoneSeparationInMetres != newSeparation {
		t.Errorf("MicrophoneSeparationInMetres = %v, want %v", msg.Params.MicrophoneSeparationInMetres, newSeparation)
	}

	changed, rebuild := s.Control.Drain()
	if !rebuild {
		t.Error("expected rebuild flag set after changing MicrophoneSeparationInMetres")
	}
	if !changed["MicrophoneSeparationInMetres"] {
		t.Errorf("changed = %v, want MicrophoneSeparationInMetres present", changed)
	}
}

func TestSetParamWithoutDeltaReturnsError(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)
	recvUntil(t, conn, "hello")

	if err := conn.WriteJSON(Message{Type: "set_param"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "error")
	if msg.Error == "" {
		t.Error("expected non-empty error message")
	}
}

func TestPlayPauseTogglesAudioPlayingFlag(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)
	recvUntil(t, conn, "hello")

	if err := conn.WriteJSON(Message{Type: "play"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "params")
	if !msg.Params.AudioPlayingFlag {
		t.Error("expected AudioPlayingFlag true after play")
	}

	if err := conn.WriteJSON(Message{Type: "pause"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = recvUntil(t, conn, "params")
	if msg.Params.AudioPlayingFlag {
		t.Error("expected AudioPlayingFlag false after pause")
	}
}

func TestGetDevicesWithNilBackendReturnsEmptyList(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)
	recvUntil(t, conn, "hello")

	if err := conn.WriteJSON(Message{Type: "get_devices"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "devices")
	if len(msg.Devices) != 0 {
		t.Errorf("Devices = %v, want empty", msg.Devices)
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)
	recvUntil(t, conn, "hello")

	if err := conn.WriteJSON(Message{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := recvUntil(t, conn, "error")
	if !strings.Contains(msg.Error, "bogus") {
		t.Errorf("Error = %q, want it to mention the unknown type", msg.Error)
	}
}
