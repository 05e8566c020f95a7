package networking

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebsocketMessageHandler usage:
// * Read from GetReader chan until closed (which means the other party closed it)
// * Write into GetWriter chan until you want - if you close it than the websocket will be closed gracefully.
//
// NOTE: This assumes the message encoding is websocket.TextMessage type (NOT websocket.Binary),
// every message is a JSON event.
type WebsocketMessageHandler interface {
	// GetReader is where websocket.ReadMessage will produce messages into UNTIL the websocket is closed,
	// then the Reader chan will be CLOSED, i.e. do NOT close this channel yourself as panic is a guaranteed.
	GetReader() chan<- []byte
	// GetWriter is where you can write response - upon channel close, or invalid message produced,
	// the websocket will attempt to close gracefully.
	GetWriter() <-chan []byte
}

const (
	maxMessageSize = 64 * 1024
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Adjust the origin check as needed
	},
}

func getClientIpAddress(r *http.Request) (clientIP string) {
	clientIP = r.RemoteAddr

	// Check for real IP in headers (useful if behind proxy)
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		clientIP = realIP
	} else if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		clientIP = forwardedFor
	}
	return
}

// NewWebsocketHandlerFunc takes the raw http reader / writer,
// and abstracts it into WebsocketMessageHandler which works at the chan []byte message level.
// createHandler is called once per connection, after the upgrade succeeded.
func NewWebsocketHandlerFunc(createHandler func(r *http.Request) WebsocketMessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIpAddress(r)
		log.Info().Str("client_ip", clientIP).Str("method", r.Method).Str("request_url", r.URL.String()).Msg("attempting to establish a websocket connection")

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errLog(err, "websocket upgrader.Upgrade")
			return
		}
		ws.SetReadLimit(maxMessageSize)

		handler := createHandler(r)
		writerDone := make(chan struct{})
		defer func() {
			close(handler.GetReader())
			<-writerDone
			errLog(ws.Close(), "websocket.Close()")
			log.Info().Str("client_ip", clientIP).Msg("websocket connection finished")
		}()

		go func() {
			defer close(writerDone)
			failed := false
			for msg := range handler.GetWriter() {
				if failed {
					continue // keep draining so the handler never blocks on us
				}
				dbg(ws.SetWriteDeadline(time.Now().Add(writeWait)))
				if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) || err == websocket.ErrCloseSent {
						log.Info().Msg("websocket too late to write message, as already closed")
					} else {
						errLog(err, "ws.WriteMessage")
					}
					failed = true
				}
			}
			// Channel closed by the handler, attempt to close connection gracefully.
			// That will also end up the reader loop.
			if !failed {
				log.Info().Msg("websocket writer channel closed, attempting to close connection gracefully")
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				dbg(ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)))
			}
		}()

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived, websocket.CloseGoingAway) {
					log.Info().Msg("websocket connection closed normally from the other party")
				} else {
					log.Error().Err(err).Msg("couldn't read message from websocket")
				}
				// Usually, nothing good will happen ever after a bad websocket message
				return
			}
			handler.GetReader() <- msg
		}
	}
}

func errLog(err error, what string) {
	if err != nil {
		log.Error().Err(err).Msg(what)
	}
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
