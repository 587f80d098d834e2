package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// SocketReply is one frame sent back over the websocket. Exactly one of
// Result or Error is set.
type SocketReply struct {
	Command Command `json:"command"`
	Result  any     `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  int     `json:"status,omitempty"`
}

// socketConn serialises writes; gorilla connections allow one writer.
type socketConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *socketConn) reply(v SocketReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// WebSocket upgrades the request and serves protocol messages over it.
//
// Each frame carries the same {id, value} envelope as the HTTP endpoint.
// Frames are handled concurrently so a pending poll never blocks a move.
// Polls have no timeout: the socket pushes the result when it is ready.
// Closing the socket abandons pending polls but leaves the sessions alive.
func (a *API) WebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer ws.Close()

	remote := a.extractClientIP(r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.events.log(ctx, EventSocketOpened, remote, "")
	defer a.events.log(ctx, EventSocketClosed, remote, "")

	conn := &socketConn{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()
	// Cancel before waiting so pending polls return.
	defer cancel()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			conn.reply(SocketReply{Error: errMalformedRequest.Error(), Status: http.StatusBadRequest})
			continue
		}

		wg.Go(func() {
			reply := SocketReply{}
			if cmd, err := parseCommand(req.Value); err == nil {
				reply.Command = cmd.kind
			}
			result, err := a.execute(ctx, remote, req, 0)
			switch {
			case errors.Is(err, errClientGone):
				return
			case err != nil:
				reply.Error = err.Error()
				reply.Status = statusFor(err)
			default:
				reply.Result = result
			}
			conn.reply(reply)
		})
	}
}
