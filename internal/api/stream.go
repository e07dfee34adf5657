package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/round"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4 << 20

	sseKeepAlive = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams session updates as server-sent events. The current
// snapshot is sent first.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	snap, err := app.Game.Snapshot(r.Context(), sessionID)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	updates, unsubscribe, err := app.Game.Subscribe(sessionID)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrTypeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := app.requestLog(r).WithField("session", sessionID)
	if err := writeEvent(w, game.Update{Type: game.UpdateState, Snapshot: snap}); err != nil {
		log.WithError(err).Debug("Failed to write event")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, update); err != nil {
				log.WithError(err).Debug("Failed to write event")
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, update game.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
	return err
}

// wsMessage is written to WebSocket clients. Frames are acknowledged through
// the session's state updates; only rejected frames get a direct reply.
type wsMessage struct {
	Type     string          `json:"type"`
	Snapshot *round.Snapshot `json:"snapshot,omitempty"`
	Result   *round.Result   `json:"result,omitempty"`
	Error    *ErrorResponse  `json:"error,omitempty"`
}

func updateMessage(u game.Update) wsMessage {
	snap := u.Snapshot
	return wsMessage{Type: u.Type, Snapshot: &snap, Result: u.Result}
}

func errorMessage(errType, message string) wsMessage {
	return wsMessage{Type: "error", Error: &ErrorResponse{Type: errType, Message: message}}
}

// WebSocketHandler accepts frames over a WebSocket. Text messages carry a
// FrameRequest; binary messages carry a raw camera frame for server-side
// detection of the current round.
func (app *App) WebSocketHandler(frameRate rate.Limit, frameBurst int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		snap, err := app.Game.Snapshot(r.Context(), sessionID)
		if err != nil {
			app.writeDomainError(w, r, err)
			return
		}
		updates, unsubscribe, err := app.Game.Subscribe(sessionID)
		if err != nil {
			app.writeDomainError(w, r, err)
			return
		}
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			app.requestLog(r).WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		log := app.requestLog(r).WithField("session", sessionID)
		log.Debug("WebSocket connected")

		out := make(chan wsMessage, 16)
		done := make(chan struct{})
		go app.wsWriter(conn, log, updates, out, done)

		out <- updateMessage(game.Update{Type: game.UpdateState, Snapshot: snap})
		app.wsReader(r, conn, log, sessionID, rate.NewLimiter(frameRate, frameBurst), out, done)
		log.Debug("WebSocket disconnected")
	}
}

// wsReader handles incoming frames until the connection or the writer fails.
func (app *App) wsReader(r *http.Request, conn *websocket.Conn, log logrus.FieldLogger, sessionID string, limiter *rate.Limiter, out chan<- wsMessage, done <-chan struct{}) {
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	reply := func(msg wsMessage) bool {
		select {
		case out <- msg:
			return true
		case <-done:
			return false
		}
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !limiter.Allow() {
			if !reply(errorMessage(ErrTypeRateLimited, "frame dropped")) {
				return
			}
			continue
		}

		var frame game.Frame
		switch kind {
		case websocket.BinaryMessage:
			frame = game.Frame{Image: data}
		case websocket.TextMessage:
			var req FrameRequest
			if err := json.Unmarshal(data, &req); err != nil {
				if !reply(errorMessage(ErrTypeInvalidRequest, "invalid JSON frame")) {
					return
				}
				continue
			}
			if err := app.validate.Struct(req); err != nil {
				if !reply(errorMessage(ErrTypeInvalidRequest, validationMessage(err))) {
					return
				}
				continue
			}
			if frame, err = req.frame(); err != nil {
				if !reply(errorMessage(ErrTypeInvalidRequest, err.Error())) {
					return
				}
				continue
			}
		default:
			continue
		}

		if _, err := app.Game.SubmitFrame(r.Context(), sessionID, frame); err != nil {
			_, errType := classify(err)
			if !reply(errorMessage(errType, err.Error())) {
				return
			}
		}
	}
}

// wsWriter is the connection's only writer. It exits when the session closes,
// a write fails, or the reader stops.
func (app *App) wsWriter(conn *websocket.Conn, log logrus.FieldLogger, updates <-chan game.Update, out <-chan wsMessage, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(msg wsMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		var err error
		select {
		case u, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			err = write(updateMessage(u))
		case msg := <-out:
			err = write(msg)
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.WithError(err).Debug("WebSocket write failed")
			return
		}
	}
}
