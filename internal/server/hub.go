// Package server exposes the batch-table backend over HTTP: the table
// resource endpoints and the websocket feed of confirmed update batches.
package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"
)

// broadcastFrame is one websocket message: a confirmed update batch scoped
// to a single table.
type broadcastFrame struct {
	OrganizationID string          `json:"organization_id"`
	BatchTableID   string          `json:"batch_table_id"`
	Updates        json.RawMessage `json:"updates"`
}

type watcher struct {
	room string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans confirmed update batches out to every websocket watcher of the
// same table. Rooms are keyed by organization and table id.
type Hub struct {
	rooms      map[string]map[*watcher]bool
	register   chan *watcher
	unregister chan *watcher
	broadcast  chan broadcastFrame
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*watcher]bool),
		register:   make(chan *watcher),
		unregister: make(chan *watcher),
		broadcast:  make(chan broadcastFrame),
	}
}

func roomKey(orgID, tableID string) string {
	return orgID + "/" + tableID
}

// Run owns the room table. It exits when ctx is cancelled, closing every
// watcher's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, watchers := range h.rooms {
				for w := range watchers {
					close(w.send)
				}
			}
			return

		case w := <-h.register:
			if h.rooms[w.room] == nil {
				h.rooms[w.room] = make(map[*watcher]bool)
			}
			h.rooms[w.room][w] = true

		case w := <-h.unregister:
			if watchers, ok := h.rooms[w.room]; ok {
				if _, ok := watchers[w]; ok {
					delete(watchers, w)
					close(w.send)
					if len(watchers) == 0 {
						delete(h.rooms, w.room)
					}
				}
			}

		case frame := <-h.broadcast:
			payload, err := json.Marshal(frame)
			if err != nil {
				log.Printf("hub: encode frame: %v", err)
				continue
			}
			for w := range h.rooms[roomKey(frame.OrganizationID, frame.BatchTableID)] {
				select {
				case w.send <- payload:
				default:
					// Watcher cannot keep up; drop it rather than block
					// every other room member.
					close(w.send)
					delete(h.rooms[w.room], w)
				}
			}
		}
	}
}

// Broadcast queues a confirmed batch for every watcher of the table.
func (h *Hub) Broadcast(orgID, tableID string, updates json.RawMessage) {
	h.broadcast <- broadcastFrame{OrganizationID: orgID, BatchTableID: tableID, Updates: updates}
}

func (w *watcher) writePump() {
	defer w.conn.Close()
	for payload := range w.send {
		if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound messages; the watch feed is one-way. Its job is
// to notice the peer going away and unregister.
func (w *watcher) readPump(h *Hub) {
	defer func() {
		h.unregister <- w
		w.conn.Close()
	}()
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}
