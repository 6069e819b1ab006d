package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fl-sean03/agentgate/internal/core"
)

// wsClientMessage is one message a dashboard client sends (spec.md §6):
// `{type:"subscribe", workOrderId, filters?}`, `{type:"unsubscribe",
// workOrderId}`, `{type:"ping"}`.
type wsClientMessage struct {
	Type        string                    `json:"type"`
	WorkOrderID string                    `json:"workOrderId,omitempty"`
	Filters     []core.ProgressEventType  `json:"filters,omitempty"`
}

// wsServerMessage is what AgentGate sends back: progress events plus the
// control replies `subscription_confirmed | unsubscription_confirmed |
// pong | error{code:"INVALID_MESSAGE"}`.
type wsServerMessage struct {
	Type        string             `json:"type"`
	WorkOrderID string             `json:"workOrderId,omitempty"`
	Code        string             `json:"code,omitempty"`
	Message     string             `json:"message,omitempty"`
	Event       *core.ProgressEvent `json:"event,omitempty"`
}

// handleWebSocket implements the dashboard subscribe/unsubscribe protocol
// over one connection: a client may hold at most one active subscription
// at a time, switching it by sending a new subscribe message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var subCh <-chan core.ProgressEvent
	var subID int
	subscribed := false

	defer func() {
		if subscribed {
			s.bus.Unsubscribe(subID)
		}
	}()

	// readLoop feeds decoded client messages into msgCh; it exits (closing
	// msgCh) when the connection errors or closes.
	msgCh := make(chan wsClientMessage)
	errCh := make(chan error, 1)
	go func() {
		defer close(msgCh)
		for {
			var msg wsClientMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		var ev core.ProgressEvent
		var evOK bool
		if subCh != nil {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				if !s.handleWSMessage(ctx, conn, msg, &subCh, &subID, &subscribed) {
					return
				}
				continue
			case ev, evOK = <-subCh:
				if !evOK {
					subCh = nil
					continue
				}
			}
			if err := wsjson.Write(ctx, conn, wsServerMessage{Type: string(ev.Type), Event: &ev}); err != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if !s.handleWSMessage(ctx, conn, msg, &subCh, &subID, &subscribed) {
				return
			}
		}
	}
}

func (s *Server) handleWSMessage(ctx context.Context, conn *websocket.Conn, msg wsClientMessage, subCh *<-chan core.ProgressEvent, subID *int, subscribed *bool) bool {
	switch msg.Type {
	case "subscribe":
		if *subscribed {
			s.bus.Unsubscribe(*subID)
		}
		ch, id := s.bus.Subscribe(core.WorkOrderID(msg.WorkOrderID), "", msg.Filters...)
		*subCh = ch
		*subID = id
		*subscribed = true
		return wsjson.Write(ctx, conn, wsServerMessage{Type: "subscription_confirmed", WorkOrderID: msg.WorkOrderID}) == nil

	case "unsubscribe":
		if *subscribed {
			s.bus.Unsubscribe(*subID)
			*subscribed = false
			*subCh = nil
		}
		return wsjson.Write(ctx, conn, wsServerMessage{Type: "unsubscription_confirmed", WorkOrderID: msg.WorkOrderID}) == nil

	case "ping":
		return wsjson.Write(ctx, conn, wsServerMessage{Type: "pong"}) == nil

	default:
		return wsjson.Write(ctx, conn, wsServerMessage{Type: "error", Code: "INVALID_MESSAGE", Message: "unknown message type"}) == nil
	}
}
