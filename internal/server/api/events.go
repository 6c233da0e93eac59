package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/systemshift/apigraph/internal/server/events"
	"github.com/systemshift/apigraph/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// graphSummary is the payload of graph events. Clients re-read the graph
// through GET /api/graph.
type graphSummary struct {
	Source  string `json:"source,omitempty"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
	Visible int    `json:"visible"`
	Partial bool   `json:"partial"`
}

// publish turns a state change into a hub event.
func (s *Server) publish(change state.Change, snap state.Snapshot) {
	var (
		typ     string
		payload any
	)
	switch change {
	case state.ChangeGraph:
		typ = events.EventGraphUpdated
		sum := graphSummary{Source: snap.Source, Visible: snap.Visibility.Count()}
		if snap.NodeData != nil {
			sum.Nodes = len(snap.NodeData.Nodes)
			sum.Edges = len(snap.NodeData.Edges)
		}
		if snap.Report != nil {
			sum.Partial = snap.Report.Partial()
		}
		payload = sum
	case state.ChangeFilter:
		typ = events.EventFilterUpdated
		payload = map[string]any{
			"filter":  snap.NodeFilter,
			"visible": snap.Visibility.Visible(),
		}
	case state.ChangeSelection:
		typ = events.EventSelectionUpdated
		payload = map[string]any{"selection": snap.Selection}
	case state.ChangeAuth:
		typ = events.EventAuthUpdated
		payload = authResponse(snap)
	default:
		s.logger.Warn("unknown state change not published", "change", change)
		return
	}

	s.hub.Emit(events.Event{
		Type:    typ,
		Version: snap.Version,
		Payload: payload,
	})
}

// Events handles GET /api/events. The connection receives every state change
// whose type is listed in the comma-separated types parameter, or all of them
// when it is absent.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}

	var pattern events.Pattern
	if t := r.URL.Query().Get("types"); t != "" {
		for _, typ := range strings.Split(t, ",") {
			if typ = strings.TrimSpace(typ); typ != "" {
				pattern.EventTypes = append(pattern.EventTypes, typ)
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := s.hub.Register(conn, pattern)
	defer s.hub.Unregister(id)

	// The client sends nothing; reading detects the close.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", "client", id, "error", err)
			}
			return
		}
	}
}
