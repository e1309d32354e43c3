// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the review WebSocket upgrade on router.
func RegisterRoutes(router *mux.Router, bus *Bus) {
	router.HandleFunc("/review/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		serveReviewWS(w, r, bus)
	})
}

func serveReviewWS(w http.ResponseWriter, r *http.Request, bus *Bus) {
	id := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")
	role := r.URL.Query().Get("role")

	sess, ok := bus.Get(id)
	if !ok {
		http.Error(w, "review session not found", http.StatusNotFound)
		return
	}
	if !sess.AuthenticateToken(token) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("review: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu chan struct{} = make(chan struct{}, 1)
	writeMu <- struct{}{}
	send := func(frame interface{}) {
		<-writeMu
		defer func() { writeMu <- struct{}{} }()
		if frame == nil {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("review: write failed for %s: %v", id, err)
		}
	}

	switch role {
	case "tool":
		serveToolSocket(conn, sess, send)
	case "ui":
		serveUISocket(conn, sess, bus, id, send)
	default:
		conn.Close()
	}
}

func serveToolSocket(conn *websocket.Conn, sess *Session, send func(frame interface{})) {
	if sess.IsDone() {
		result := sess.resultSnapshot()
		send(map[string]interface{}{
			"type":      "review_result",
			"cancelled": result.Cancelled,
			"comments":  result.Comments,
		})
		conn.Close()
		return
	}

	unregister := sess.RegisterToolSocket(send)
	defer unregister()

	send(map[string]interface{}{"type": "init", "files": sess.Files, "message": sess.Message})

	// Tool sockets are read-only from the client's perspective; drain reads
	// until close so the connection's ReadPump notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveUISocket(conn *websocket.Conn, sess *Session, bus *Bus, id string, send func(frame interface{})) {
	if sess.IsDone() {
		conn.Close()
		return
	}

	unregister := sess.RegisterUISocket(send)
	defer unregister()

	send(map[string]interface{}{"type": "init", "files": sess.Files, "message": sess.Message})

	var terminalMsg struct {
		Type     string    `json:"type"`
		Comments []Comment `json:"comments"`
	}

	// Accept exactly one terminal message; everything after is ignored.
	accepted := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if accepted {
			continue
		}
		if err := json.Unmarshal(data, &terminalMsg); err != nil {
			continue
		}
		switch terminalMsg.Type {
		case "submit":
			accepted = true
			if err := bus.Submit(id, terminalMsg.Comments); err != nil {
				log.Printf("review: submit %s failed: %v", id, err)
			}
		case "cancel":
			accepted = true
			if err := bus.Cancel(id); err != nil {
				log.Printf("review: cancel %s failed: %v", id, err)
			}
		}
	}
}
