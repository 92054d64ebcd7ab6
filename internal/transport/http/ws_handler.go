package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"autograde-session/internal/app"
	"autograde-session/internal/domain"
	"github.com/gorilla/websocket"
)

// Engine is the per-connection pair of session controller and submission coordinator.
type Engine struct {
	Controller  *app.Controller
	Coordinator *app.Coordinator
}

// EngineFactory builds an engine for one connection. auth is nil for guests.
type EngineFactory func(auth app.AuthProvider) Engine

// WSHandler lets a browser UI drive the session engine over a websocket.
type WSHandler struct {
	newEngine EngineFactory
	upgrader  websocket.Upgrader
}

func NewWSHandler(newEngine EngineFactory) *WSHandler {
	return &WSHandler{
		newEngine: newEngine,
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

type testPayload struct {
	TestID   string `json:"testId"`
	Username string `json:"username"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type bookmarkPayload struct {
	QuestionID string `json:"questionId"`
	Bookmarked bool   `json:"bookmarked"`
}

type resumePayload struct {
	SessionID string `json:"sessionId"`
}

type questionState struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	Answered   bool   `json:"answered"`
	Bookmarked bool   `json:"bookmarked"`
}

type statePayload struct {
	app.State
	Error string      `json:"error,omitempty"`
	Kind  domain.Kind `json:"kind,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string      `json:"message"`
	Kind    domain.Kind `json:"kind,omitempty"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: domain.KindOf(err)}}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session use cases.
// Optional query parameters token and userId authenticate the connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var auth app.AuthProvider
	if token := r.URL.Query().Get("token"); token != "" {
		auth = app.StaticAuth{Token: token, UserID: r.URL.Query().Get("userId")}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// In-flight calls are abandoned when the connection goes away.
	ctx, cancelOps := context.WithCancel(r.Context())
	defer cancelOps()

	engine := h.newEngine(auth)
	defer engine.Controller.Close()
	defer engine.Coordinator.Close()

	states, cancelStates := engine.Controller.Subscribe()
	defer cancelStates()
	results, cancelResults := engine.Coordinator.Subscribe()
	defer cancelResults()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			var msg outboundMessage[any]
			select {
			case state, ok := <-states:
				if !ok {
					return
				}
				payload := statePayload{State: state}
				if state.Err != nil {
					payload.Error = state.Err.Error()
					payload.Kind = domain.KindOf(state.Err)
				}
				msg = outboundMessage[any]{Type: "state", Payload: payload}
			case result, ok := <-results:
				if !ok {
					return
				}
				if result.SessionID == "" {
					continue
				}
				if result.Err != nil {
					msg = errorMessage(result.Err)
				} else {
					msg = outboundMessage[any]{Type: "submitted", Payload: result.Ack}
				}
			case <-closeSignals:
				return
			}
			select {
			case send <- msg:
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		reply, ok := h.handle(ctx, engine, inbound)
		if !ok {
			continue
		}
		select {
		case send <- reply:
		case <-writerDone:
		}
	}

	cancelOps()
	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handle runs one inbound command. State changes reach the client through the subscription,
// so only direct replies are returned here.
func (h *WSHandler) handle(ctx context.Context, engine Engine, inbound inboundMessage) (outboundMessage[any], bool) {
	switch inbound.Type {
	case "preview":
		var payload testPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.Validation("preview", "invalid preview payload")), true
		}
		test, err := engine.Controller.Preview(ctx, payload.TestID)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{Type: "preview", Payload: test}, true

	case "start":
		var payload testPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.Validation("start", "invalid start payload")), true
		}
		var err error
		if payload.Username != "" {
			_, err = engine.Controller.StartGuest(ctx, payload.TestID, payload.Username)
		} else {
			_, err = engine.Controller.StartAuthenticated(ctx, payload.TestID)
		}
		// Failures are published as state; validation failures also get a direct reply.
		if err != nil && domain.IsKind(err, domain.KindValidation) {
			return errorMessage(err), true
		}
		return outboundMessage[any]{}, false

	case "resume":
		var payload resumePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.Validation("resume", "invalid resume payload")), true
		}
		if _, err := engine.Controller.Resume(ctx, payload.SessionID); err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{}, false

	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.Validation("answer", "invalid answer payload")), true
		}
		sessionID, err := activeSession(engine)
		if err != nil {
			return errorMessage(err), true
		}
		if err := engine.Coordinator.RecordAnswer(ctx, sessionID, payload.QuestionID, payload.Answer); err != nil {
			return errorMessage(err), true
		}
		return h.question(ctx, engine, payload.QuestionID)

	case "bookmark":
		var payload bookmarkPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.Validation("bookmark", "invalid bookmark payload")), true
		}
		sessionID, err := activeSession(engine)
		if err != nil {
			return errorMessage(err), true
		}
		if err := engine.Coordinator.SetBookmark(ctx, sessionID, payload.QuestionID, payload.Bookmarked); err != nil {
			return errorMessage(err), true
		}
		return h.question(ctx, engine, payload.QuestionID)

	case "submit":
		sessionID, err := activeSession(engine)
		if err != nil {
			return errorMessage(err), true
		}
		// The result is published to the coordinator subscription.
		_, _ = engine.Coordinator.Submit(ctx, sessionID)
		return outboundMessage[any]{}, false

	default:
		return errorMessage(domain.Validation("", "unsupported message type")), true
	}
}

func (h *WSHandler) question(ctx context.Context, engine Engine, questionID string) (outboundMessage[any], bool) {
	text, _, err := engine.Controller.GetAnswer(ctx, questionID)
	if err != nil {
		return errorMessage(err), true
	}
	marked, err := engine.Controller.IsBookmarked(ctx, questionID)
	if err != nil {
		return errorMessage(err), true
	}
	return outboundMessage[any]{Type: "question", Payload: questionState{
		QuestionID: questionID,
		Answer:     text,
		Answered:   domain.IsAnswered(text),
		Bookmarked: marked,
	}}, true
}

func activeSession(engine Engine) (string, error) {
	state := engine.Controller.State()
	if state.Session == nil {
		return "", domain.ErrNoActiveSession
	}
	return state.Session.ID, nil
}
