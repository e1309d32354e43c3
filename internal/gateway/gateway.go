// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway multiplexes one browser WebSocket across many RPC
// sessions, routing commands to the child process manager and replaying
// buffered events through the reliability layer.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ravshansbox/rho-sub003/internal/reliability"
	"github.com/ravshansbox/rho-sub003/internal/rpcagent"
	"github.com/ravshansbox/rho-sub003/internal/uibroadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Multiplexer serves /ws and owns the RPC/reliability wiring.
type Multiplexer struct {
	agents       *rpcagent.Manager
	rel          *reliability.Layer
	ui           *uibroadcast.Broadcaster
	sessionsRoot string
}

// New constructs a Multiplexer.
func New(agents *rpcagent.Manager, rel *reliability.Layer, ui *uibroadcast.Broadcaster, sessionsRoot string) *Multiplexer {
	return &Multiplexer{agents: agents, rel: rel, ui: ui, sessionsRoot: sessionsRoot}
}

// inbound frame shapes.
type inboundFrame struct {
	Type         string          `json:"type"`
	Ts           int64           `json:"ts,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	SessionFile  string          `json:"sessionFile,omitempty"`
	LastEventSeq *uint64         `json:"lastEventSeq,omitempty"`
	Command      json.RawMessage `json:"command,omitempty"`
	ID           string          `json:"id,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
}

type rawCommand struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	SwitchSession  json.RawMessage `json:"switch_session,omitempty"`
}

type switchSessionPayload struct {
	Path        string `json:"path,omitempty"`
	SessionPath string `json:"sessionPath,omitempty"`
	SessionFile string `json:"sessionFile,omitempty"`
}

// ServeHTTP upgrades the connection and runs the per-socket multiplex loop.
func (m *Multiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sock := newSocket(conn, m)
	defer sock.close()

	unregister := m.ui.RegisterSocket(sock.sendUIEvent)
	defer unregister()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	readCh := make(chan []byte, 16)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			readCh <- data
		}
	}()

	for {
		select {
		case data := <-readCh:
			sock.handleFrame(data)
		case <-closed:
			return
		}
	}
}

// socket tracks one browser connection's subscriptions and write mutex.
type socket struct {
	conn   *websocket.Conn
	mux    *Multiplexer
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]func() // sessionId -> unsubscribe
}

func newSocket(conn *websocket.Conn, mux *Multiplexer) *socket {
	return &socket{conn: conn, mux: mux, subs: make(map[string]func())}
}

func (s *socket) writeJSON(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(v); err != nil {
		log.Printf("gateway: write failed: %v", err)
	}
}

func (s *socket) sendUIEvent(name string, at int64, data json.RawMessage) {
	s.writeJSON(map[string]interface{}{"type": "ui_event", "name": name, "at": at, "data": data})
}

func (s *socket) close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sessionID, unsub := range s.subs {
		unsub()
		delete(s.subs, sessionID)
		s.mux.onSubscriberDropped(sessionID)
	}
}

func (s *socket) handleFrame(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.writeJSON(map[string]string{"type": "error", "message": "malformed frame"})
		return
	}

	switch f.Type {
	case "rpc_ping":
		s.writeJSON(map[string]interface{}{"type": "rpc_pong", "ts": f.Ts})
	case "rpc_command":
		s.handleRPCCommand(f)
	case "extension_ui_response":
		s.handleExtensionUIResponse(f)
	}
}

func (s *socket) handleExtensionUIResponse(f inboundFrame) {
	if f.SessionID == "" {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"type":  "extension_ui_response",
		"id":    f.ID,
		"value": f.Value,
	})
	_ = s.mux.agents.SendCommand(f.SessionID, rpcagent.Command{Raw: payload})
}

func (s *socket) handleRPCCommand(f inboundFrame) {
	var cmd rawCommand
	if err := json.Unmarshal(f.Command, &cmd); err != nil || cmd.Type == "" {
		s.writeJSON(map[string]string{"type": "error", "message": "command.type must be a string"})
		return
	}

	sessionID := f.SessionID
	sessionFile := f.SessionFile
	reused := false

	if sessionID == "" {
		if sessionFile == "" && cmd.Type == "switch_session" && len(cmd.SwitchSession) > 0 {
			var sw switchSessionPayload
			json.Unmarshal(cmd.SwitchSession, &sw)
			switch {
			case sw.Path != "":
				sessionFile = sw.Path
			case sw.SessionPath != "":
				sessionFile = sw.SessionPath
			case sw.SessionFile != "":
				sessionFile = sw.SessionFile
			}
		}
		if sessionFile == "" {
			s.writeJSON(map[string]string{"type": "error", "message": "sessionId or sessionFile required"})
			return
		}
		if !filepath.IsAbs(sessionFile) {
			sessionFile = filepath.Join(s.mux.sessionsRoot, sessionFile)
		}

		if existing, ok := s.mux.agents.FindSessionByFile(sessionFile); ok {
			sessionID = existing.ID()
			reused = true
		} else {
			started, err := s.mux.agents.StartSession(sessionFile)
			if err != nil {
				s.writeJSON(map[string]string{"type": "error", "message": err.Error()})
				return
			}
			sessionID = started.ID()
		}
		s.subscribe(sessionID, sessionFile)
		s.writeJSON(map[string]interface{}{"type": "session_started", "sessionId": sessionID, "sessionFile": sessionFile})

		if reused {
			s.mux.agents.SendCommand(sessionID, rpcagent.Command{Type: rpcagent.CmdGetState, ID: sessionID + "-resync"})
		}
		if cmd.Type == "switch_session" {
			return
		}
	} else {
		s.subMu.Lock()
		_, already := s.subs[sessionID]
		s.subMu.Unlock()
		if !already {
			if _, ok := s.mux.agents.FindSession(sessionID); !ok {
				s.writeJSON(map[string]string{"type": "error", "message": "rpc_session_not_found"})
				s.writeJSON(map[string]interface{}{"type": "rpc_session_not_found", "sessionId": sessionID})
				return
			}
			s.subscribe(sessionID, sessionFile)
		}
	}

	if f.LastEventSeq != nil {
		replay := s.mux.rel.GetReplay(sessionID, *f.LastEventSeq)
		if replay.Gap {
			s.writeJSON(map[string]interface{}{"type": "rpc_replay_gap", "sessionId": sessionID, "oldestSeq": replay.OldestSeq, "latestSeq": replay.LatestSeq})
		}
		for _, ev := range replay.Events {
			s.writeJSON(map[string]interface{}{"type": "rpc_event", "sessionId": sessionID, "seq": ev.Seq, "event": ev.Payload, "replay": true})
		}
	}

	if cmd.ID != "" {
		reg := s.mux.rel.RegisterCommand(sessionID, cmd.ID)
		if reg.Duplicate {
			if reg.CachedResponse != nil {
				s.writeJSON(map[string]interface{}{"type": "rpc_event", "sessionId": sessionID, "seq": reg.CachedResponseSeq, "event": reg.CachedResponse})
			}
			return
		}
	}

	if err := s.mux.agents.SendCommand(sessionID, rpcagent.Command{Raw: f.Command}); err != nil {
		s.writeJSON(map[string]string{"type": "error", "message": err.Error()})
	}
}

func (s *socket) subscribe(sessionID, sessionFile string) {
	s.subMu.Lock()
	if _, ok := s.subs[sessionID]; ok {
		s.subMu.Unlock()
		return
	}
	s.subMu.Unlock()

	ch, unsub, err := s.mux.agents.OnEvent(sessionID)
	if err != nil {
		return
	}
	s.mux.rel.CancelOrphan(sessionID)

	s.subMu.Lock()
	s.subs[sessionID] = unsub
	s.subMu.Unlock()

	go func() {
		for event := range ch {
			var commandID string
			if event.Type == rpcagent.EventResponse {
				commandID = event.ID
			}
			seq := s.mux.rel.RecordEvent(sessionID, event.Type, commandID, event.Raw)
			s.writeJSON(map[string]interface{}{"type": "rpc_event", "sessionId": sessionID, "seq": seq, "event": event.Raw})
		}
	}()
}

func (m *Multiplexer) onSubscriberDropped(sessionID string) {
	if m.agents.HasSubscribers(sessionID) {
		return
	}
	m.rel.ScheduleOrphan(sessionID,
		func() bool { return m.agents.HasSubscribers(sessionID) },
		func() {
			m.agents.SendCommand(sessionID, rpcagent.Command{Type: rpcagent.CmdAbort})
		},
		func() {
			m.agents.StopSession(sessionID)
			m.rel.ClearSession(sessionID)
		},
	)
}
