package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"gridsync/engine/internal/patch"
)

type broadcastFrame struct {
	OrganizationID string          `json:"organization_id"`
	BatchTableID   string          `json:"batch_table_id"`
	Updates        json.RawMessage `json:"updates"`
}

// Watch subscribes to the backend's confirmed-update broadcast for one
// table and invokes fn for every batch. It blocks until ctx is cancelled or
// the connection drops; callers typically feed fn into Engine.ApplyRemote.
func (c *Client) Watch(ctx context.Context, orgID, tableID string, fn func([]patch.Operation)) error {
	wsURL := c.tableURL(orgID, tableID) + "/watch"
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	if _, err := url.Parse(wsURL); err != nil {
		return fmt.Errorf("watch url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial watch socket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame broadcastFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read broadcast: %w", err)
		}
		if frame.OrganizationID != orgID || frame.BatchTableID != tableID {
			log.Printf("client: broadcast for %s/%s on %s/%s watch, dropping",
				frame.OrganizationID, frame.BatchTableID, orgID, tableID)
			continue
		}
		ops, err := patch.DecodeOps(frame.Updates)
		if err != nil {
			log.Printf("client: undecodable broadcast: %v", err)
			continue
		}
		fn(ops)
	}
}
