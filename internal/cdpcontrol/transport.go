package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errConnClosed = errors.New("connection closed")

// session owns one WebSocket connection to a single target's debugging
// endpoint and correlates command responses with their callers. Command
// ids come from a small monotonic per-connection counter (the protocol
// rejects large ids, so timestamps are not an option); the counter resets
// when the connection is reopened.
type session struct {
	wsURL string

	mu   sync.Mutex // guards conn and socket writes
	conn net.Conn

	pendingMu sync.Mutex
	seq       int64
	pending   map[int64]chan json.RawMessage

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
	handlerSeq    int64
}

type eventHandler struct {
	id int64
	fn func(method string, params json.RawMessage)
}

// responseEnvelope is the inbound frame shape: a response carries an id
// matching a pending command, an event carries a method and no known id.
type responseEnvelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *protocolError  `json:"error"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newSession(wsURL string) *session {
	return &session{
		wsURL:         wsURL,
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the target's WebSocket endpoint. No-op when already open.
// Opening a connection has no visible effect on page state.
func (s *session) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *session) connectLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	slog.Debug("transport connecting", "ws_url", s.wsURL)
	conn, _, _, err := ws.Dial(ctx, s.wsURL)
	if err != nil {
		return newError(CodeConnectionError, "dial "+s.wsURL, err)
	}

	s.conn = conn
	s.pendingMu.Lock()
	s.pending = make(map[int64]chan json.RawMessage)
	s.seq = 0
	s.pendingMu.Unlock()

	go s.readLoop(conn)
	return nil
}

// close releases the socket and fails every pending command.
func (s *session) close() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	s.closeAllPending()
}

// readLoop demultiplexes inbound frames: frames with an id matching a
// pending command resolve that caller, frames carrying a method are
// unsolicited protocol events. Exits when the socket dies, failing all
// pending commands.
func (s *session) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("transport read loop exit", "ws_url", s.wsURL, "error", err)
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn.Close()
				s.conn = nil
			}
			s.mu.Unlock()
			// Pending commands belong to whichever connection is current.
			// A loop whose socket was already replaced by a reopen must
			// not fail commands registered on the new one.
			if current {
				s.closeAllPending()
			}
			return
		}

		var msg responseEnvelope
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			s.pendingMu.Lock()
			ch, ok := s.pending[msg.ID]
			if ok {
				delete(s.pending, msg.ID)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
			// A response with no pending entry belongs to a caller that
			// already timed out; dropped on purpose.
		} else if msg.Method != "" {
			s.dispatchEvent(msg.Method, msg.Params)
		}
	}
}

func (s *session) closeAllPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *session) deletePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// nextPending allocates the next command id and registers its response
// channel. Ids are unique among pending commands and strictly increasing
// for the lifetime of one connection.
func (s *session) nextPending() (int64, chan json.RawMessage) {
	ch := make(chan json.RawMessage, 1)
	s.pendingMu.Lock()
	s.seq++
	id := s.seq
	s.pending[id] = ch
	s.pendingMu.Unlock()
	return id, ch
}

// call sends one command and waits for its correlated response. The
// context deadline bounds the wait; on timeout the pending entry is
// discarded so a late response is silently dropped. A send failure on a
// dead socket triggers exactly one transparent reopen-and-retry.
func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := s.callOnce(ctx, method, params)
	if err == nil {
		return raw, nil
	}

	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeConnectionError {
		return nil, err
	}

	slog.Debug("transport reopening after send failure", "ws_url", s.wsURL, "method", method, "error", err)
	s.close()
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s.callOnce(ctx, method, params)
}

func (s *session) callOnce(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, newError(CodeConnectionError, "not connected", nil)
	}

	id, ch := s.nextPending()
	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		s.deletePending(id)
		return nil, newError(CodeProtocolError, "marshal "+method, err)
	}

	s.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	s.mu.Unlock()
	if err != nil {
		s.deletePending(id)
		return nil, newError(CodeConnectionError, "send "+method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, newError(CodeConnectionError, "connection closed awaiting "+method, errConnClosed)
		}
		var envelope responseEnvelope
		if err := json.Unmarshal(resp, &envelope); err != nil {
			return nil, newError(CodeProtocolError, "unmarshal "+method+" response", err)
		}
		if envelope.Error != nil {
			return nil, newError(CodeProtocolError,
				fmt.Sprintf("%s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code), nil)
		}
		return envelope.Result, nil
	case <-ctx.Done():
		s.deletePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(CodeTimeout, "no response to "+method+" before deadline", ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// registerEventHandler registers a handler for a protocol event method
// (e.g. "Page.javascriptDialogOpening"). Returns an unregister function.
func (s *session) registerEventHandler(method string, fn func(method string, params json.RawMessage)) func() {
	s.eventMu.Lock()
	s.handlerSeq++
	id := s.handlerSeq
	s.eventHandlers[method] = append(s.eventHandlers[method], eventHandler{id: id, fn: fn})
	s.eventMu.Unlock()
	return func() {
		s.eventMu.Lock()
		defer s.eventMu.Unlock()
		handlers := s.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				s.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (s *session) dispatchEvent(method string, params json.RawMessage) {
	s.eventMu.RLock()
	handlers := make([]eventHandler, len(s.eventHandlers[method]))
	copy(handlers, s.eventHandlers[method])
	s.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(method, params)
	}
}

// evaluate runs a JS expression on the page and returns the raw
// Runtime.evaluate result value. A thrown exception surfaces as a
// protocol error carrying the exception text.
func (s *session) evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: expression, ReturnByValue: true, AwaitPromise: true}

	raw, err := s.call(ctx, "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newError(CodeProtocolError, "unmarshal evaluate response", err)
	}
	if resp.ExceptionDetails != nil {
		text := resp.ExceptionDetails.Text
		if resp.ExceptionDetails.Exception != nil && resp.ExceptionDetails.Exception.Description != "" {
			text = resp.ExceptionDetails.Exception.Description
		}
		return nil, newError(CodeProtocolError, "evaluation exception: "+text, nil)
	}
	return resp.Result.Value, nil
}

// evaluateString evaluates an expression expected to produce a string.
// Non-string values come back in their JSON encoding.
func (s *session) evaluateString(ctx context.Context, expression string) (string, error) {
	value, err := s.evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	var str string
	if err := json.Unmarshal(value, &str); err != nil {
		return string(value), nil
	}
	return str, nil
}

// evaluateBool evaluates an expression expected to produce a boolean.
func (s *session) evaluateBool(ctx context.Context, expression string) (bool, error) {
	value, err := s.evaluate(ctx, expression)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return false, nil
	}
	return b, nil
}

// dispatchKeyEvent sends a keyDown + keyUp pair for one key. Used to
// deliver the synthetic Enter that submits a form after typed text.
func (s *session) dispatchKeyEvent(ctx context.Context, key, code string, keyCode int) error {
	type keyEvent struct {
		Type                  string `json:"type"`
		Key                   string `json:"key"`
		Code                  string `json:"code"`
		WindowsVirtualKeyCode int    `json:"windowsVirtualKeyCode"`
		Text                  string `json:"text,omitempty"`
	}

	down := keyEvent{Type: "keyDown", Key: key, Code: code, WindowsVirtualKeyCode: keyCode, Text: "\r"}
	if _, err := s.call(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}

	up := keyEvent{Type: "keyUp", Key: key, Code: code, WindowsVirtualKeyCode: keyCode}
	if _, err := s.call(ctx, "Input.dispatchKeyEvent", up); err != nil {
		return err
	}
	return nil
}

// captureScreenshot captures the page via Page.captureScreenshot and
// returns the base64-encoded image data. A non-nil clip bounds the
// capture to an element's box.
func (s *session) captureScreenshot(ctx context.Context, clip *screenshotClip) (string, error) {
	params := struct {
		Format                string          `json:"format"`
		CaptureBeyondViewport bool            `json:"captureBeyondViewport"`
		FromSurface           bool            `json:"fromSurface"`
		Clip                  *screenshotClip `json:"clip,omitempty"`
	}{Format: "png", CaptureBeyondViewport: clip == nil, FromSurface: true, Clip: clip}

	raw, err := s.call(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", newError(CodeProtocolError, "unmarshal screenshot response", err)
	}
	return resp.Data, nil
}

type screenshotClip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}
