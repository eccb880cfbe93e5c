package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/session"
)

// Websocket message types.
const (
	msgInputRequest = "input_request"
	msgInput        = "input"
	msgCancel       = "cancel"
	msgResult       = "result"
	msgError        = "error"
)

type clientMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type inputRequestMessage struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
}

type resultMessage struct {
	Type   string             `json:"type"`
	Editor session.EditorView `json:"editor"`
	Result *runner.Result     `json:"result"`
}

type errorMessage struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// wsInput forwards input requests of a running program to the socket loop
// and waits for the operator's answer.
type wsInput struct {
	requests chan runner.InputRequest
	answers  chan string
}

func newWSInput() *wsInput {
	return &wsInput{
		requests: make(chan runner.InputRequest),
		answers:  make(chan string, 1),
	}
}

func (in *wsInput) RequestInput(ctx context.Context, req runner.InputRequest) (string, error) {
	select {
	case in.requests <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case answer := <-in.answers:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type runOutcomeMsg struct {
	view session.EditorView
	res  *runner.Result
	err  error
}

// handleEditorRunWS runs the editor buffer and streams input prompts over a
// websocket. All writes happen on this goroutine.
func (s *Server) handleEditorRunWS(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	id := r.PathValue("id")
	if _, err := sc.Editor(id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := make(chan clientMessage)
	go func() {
		defer close(incoming)
		for {
			var m clientMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			select {
			case incoming <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	input := newWSInput()
	done := make(chan runOutcomeMsg, 1)
	go func() {
		view, res, err := sc.Run(ctx, id, input)
		done <- runOutcomeMsg{view: view, res: res, err: err}
	}()

	pending := false
	for {
		select {
		case req := <-input.requests:
			pending = true
			s.writeWS(conn, inputRequestMessage{Type: msgInputRequest, Index: req.Index, Prompt: req.Prompt})

		case m, ok := <-incoming:
			if !ok {
				// Client went away; stop the program.
				incoming = nil
				cancel()
				continue
			}
			switch m.Type {
			case msgInput:
				if pending {
					pending = false
					input.answers <- m.Value
				}
			case msgCancel:
				if err := sc.Cancel(id); err != nil {
					slog.Debug("cancel run", "editor", id, "error", err)
				}
			}

		case out := <-done:
			if out.err != nil {
				status, message := errorStatus(out.err)
				s.writeWS(conn, errorMessage{Type: msgError, Error: message, Status: status})
			} else {
				s.writeWS(conn, resultMessage{Type: msgResult, Editor: out.view, Result: out.res})
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}

// originChecker accepts same-origin requests, requests without an Origin
// header and the configured CORS origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
