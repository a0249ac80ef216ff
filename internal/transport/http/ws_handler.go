package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
	"github.com/FTacke/hispanistica-games-sub000/internal/engine"
)

// BackendProvider yields the player-bound backend a run session talks to.
// Satisfied by local.Service; a remote deployment can plug in a provider
// returning backend.Client values instead.
type BackendProvider interface {
	ForPlayer(userID, topicID string) backend.Backend
}

type WSHandler struct {
	backends BackendProvider
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(backends BackendProvider, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		backends: backends,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	OptionID string `json:"optionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type questionPayload struct {
	Index        int                 `json:"index"`
	Question     backend.RunQuestion `json:"question"`
	Order        []string            `json:"order"`
	StartedAtMs  int64               `json:"startedAtMs"`
	DeadlineAtMs int64               `json:"deadlineAtMs"`
}

type hiddenPayload struct {
	Index     int      `json:"index"`
	OptionIDs []string `json:"optionIds"`
}

type errorPayload struct {
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
}

// wsViewport implements engine.ViewPort by enqueueing outbound envelopes.
// The session calls these under its lock, so they must never block: a full
// send buffer drops the update and the client re-syncs on reconnect.
type wsViewport struct {
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
	send   chan outboundMessage[any]
}

func (v *wsViewport) enqueue(msg outboundMessage[any]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.send <- msg:
	default:
		v.log.Warn().Str("type", msg.Type).Msg("send buffer full; dropping message")
	}
}

// close stops the writer goroutine. Late timer callbacks that still try to
// enqueue become no-ops instead of hitting a closed channel.
func (v *wsViewport) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.send)
}

func (v *wsViewport) RenderQuestion(index int, question backend.RunQuestion, order []string, startedAtMs, deadlineAtMs int64) {
	v.enqueue(outboundMessage[any]{Type: "question", Payload: questionPayload{
		Index:        index,
		Question:     question,
		Order:        order,
		StartedAtMs:  startedAtMs,
		DeadlineAtMs: deadlineAtMs,
	}})
}

func (v *wsViewport) ShowOutcome(outcome domain.AnswerOutcome) {
	v.enqueue(outboundMessage[any]{Type: "outcome", Payload: outcome})
}

func (v *wsViewport) HideOptions(index int, optionIDs []string) {
	v.enqueue(outboundMessage[any]{Type: "options_hidden", Payload: hiddenPayload{Index: index, OptionIDs: optionIDs}})
}

func (v *wsViewport) ShowFinished(summary domain.RunSummary) {
	v.enqueue(outboundMessage[any]{Type: "finished", Payload: summary})
}

func (v *wsViewport) ShowError(retryable bool, message string) {
	v.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Retryable: retryable, Message: message}})
}

// ServeWS upgrades HTTP requests to websockets and drives one run session
// per connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topicID := r.URL.Query().Get("topicId")
	userID := r.URL.Query().Get("userId")
	if topicID == "" || userID == "" {
		http.Error(w, "missing topicId or userId", http.StatusBadRequest)
		return
	}
	forceNew := r.URL.Query().Get("new") == "1"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("user_id", userID).Str("topic_id", topicID).Logger()
	view := &wsViewport{
		send: make(chan outboundMessage[any], 32),
		log:  log,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range view.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	session := engine.NewSession(h.backends.ForPlayer(userID, topicID), view, topicID, log)

	if err := session.Start(r.Context(), forceNew); err != nil {
		log.Error().Err(err).Msg("run start failed")
		view.ShowError(true, "run could not be started")
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "select":
			var payload selectPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				view.ShowError(false, "invalid select payload")
				continue
			}
			h.report(log, view, session.SelectOption(r.Context(), payload.OptionID))
		case "joker":
			h.report(log, view, session.UseJoker(r.Context()))
		case "continue":
			h.report(log, view, session.Continue(r.Context()))
		case "restart":
			h.report(log, view, session.Restart(r.Context()))
		default:
			view.ShowError(false, "unsupported message type")
		}
	}

	session.Close()
	view.close()
	<-writerDone
}

// report logs entry-point results. Resource-exhaustion and out-of-phase
// inputs are engine-internal by design and never surface to the player;
// transport failures already reached the viewport via ShowError.
func (h *WSHandler) report(log zerolog.Logger, view *wsViewport, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrJokerLimit),
		errors.Is(err, domain.ErrNotAnswerable),
		errors.Is(err, domain.ErrSubmitInFlight):
		log.Debug().Err(err).Msg("input rejected")
	case errors.Is(err, domain.ErrOptionNotFound):
		view.ShowError(false, "unknown option")
	default:
		log.Error().Err(err).Msg("session operation failed")
	}
}
