package ucapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit    = 64 * 1024
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	writeTimeout = 5 * time.Second
)

type session struct {
	api  *API
	conn *websocket.Conn
	send chan []byte
}

// ServeHTTP upgrades a hub connection and serves it until it closes.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	s := &session{api: a, conn: conn, send: make(chan []byte, 32)}
	a.addSession(s)
	a.log.Info("hub connected", "remote", r.RemoteAddr)

	go s.writePump()
	s.respond(0, StatusOK, msgAuthentication, nil)
	s.readPump(r)
	a.log.Info("hub disconnected", "remote", r.RemoteAddr)
}

func (a *API) addSession(s *session) {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	a.sessions[s] = struct{}{}
}

func (a *API) removeSession(s *session) {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	if _, ok := a.sessions[s]; ok {
		delete(a.sessions, s)
		close(s.send)
		_ = s.conn.Close()
	}
}

func (a *API) closeSessions() {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	for s := range a.sessions {
		delete(a.sessions, s)
		close(s.send)
		_ = s.conn.Close()
	}
}

func (a *API) broadcast(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	for s := range a.sessions {
		select {
		case s.send <- b:
		default:
			// Slow hub session; drop it.
			delete(a.sessions, s)
			close(s.send)
			_ = s.conn.Close()
		}
	}
	return nil
}

func (s *session) enqueue(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.api.log.Error("encode message failed", "error", err)
		return
	}
	s.api.sessionsMu.Lock()
	defer s.api.sessionsMu.Unlock()
	if _, ok := s.api.sessions[s]; !ok {
		return
	}
	select {
	case s.send <- b:
	default:
		s.api.log.Warn("hub session send buffer full, dropping message")
	}
}

func (s *session) respond(reqID int64, code StatusCode, msg string, data any) {
	s.enqueue(response{Kind: kindResp, ReqID: reqID, Code: code, Msg: msg, MsgData: data})
}

func (s *session) sendEvent(ev event) { s.enqueue(ev) }

func (s *session) readPump(r *http.Request) {
	defer s.api.removeSession(s)
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ctx := r.Context()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			s.api.log.Warn("invalid hub message", "error", err)
			continue
		}
		s.api.log.Debug("hub message", "kind", in.Kind, "msg", in.Msg, "id", in.ID)
		switch in.Kind {
		case kindReq:
			s.api.handleRequest(ctx, s, in)
		case kindEvent:
			s.api.handleEvent(ctx, in)
		default:
			s.api.log.Debug("ignoring hub message kind", "kind", in.Kind)
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
