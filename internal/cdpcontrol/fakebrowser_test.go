package cdpcontrol

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeTab is one page target served by the fake browser.
type fakeTab struct {
	ID    string
	Type  string
	Title string
	URL   string
}

type recordedCommand struct {
	Conn   int
	ID     int64
	Method string
	Params json.RawMessage
}

// fakeBrowser emulates the debugging HTTP endpoint plus a per-target
// WebSocket command loop, enough to exercise the transport, registry,
// poller, and router against realistic wire traffic.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	tabs      []fakeTab
	rejectPut bool
	conns     []net.Conn
	connCount int
	recorded  []recordedCommand

	// respond overrides command handling. withhold leaves the command
	// unanswered (for timeout tests); errMsg produces a protocol error.
	respond func(method string, params json.RawMessage) (result any, errMsg string, withhold bool)

	// evalFn answers Runtime.evaluate when respond is nil. exception
	// non-empty produces exceptionDetails.
	evalFn func(expression string) (value any, exception string)
}

func newFakeBrowser(t *testing.T, tabs ...fakeTab) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{t: t, tabs: tabs}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", fb.handleList)
	mux.HandleFunc("/json/new", fb.handleNew)
	mux.HandleFunc("/json/close/", fb.handleClose)
	mux.HandleFunc("/devtools/page/", fb.handleWS)

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) httpBase() string { return fb.srv.URL }

func (fb *fakeBrowser) wsBase() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBrowser) wsURLFor(id string) string {
	return fb.wsBase() + "/devtools/page/" + id
}

func (fb *fakeBrowser) client() *Client {
	return NewClient(fb.httpBase(), 20*time.Millisecond)
}

func (fb *fakeBrowser) listingEntry(tab fakeTab) map[string]any {
	typ := tab.Type
	if typ == "" {
		typ = "page"
	}
	return map[string]any{
		"id":                   tab.ID,
		"type":                 typ,
		"title":                tab.Title,
		"url":                  tab.URL,
		"webSocketDebuggerUrl": fb.wsURLFor(tab.ID),
	}
}

func (fb *fakeBrowser) handleList(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	entries := make([]map[string]any, 0, len(fb.tabs))
	for _, tab := range fb.tabs {
		entries = append(entries, fb.listingEntry(tab))
	}
	fb.mu.Unlock()
	_ = json.NewEncoder(w).Encode(entries)
}

func (fb *fakeBrowser) handleNew(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.rejectPut && r.Method == http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tab := fakeTab{
		ID:    fmt.Sprintf("tab-%d", len(fb.tabs)+1),
		Title: "new tab",
		URL:   "about:blank",
	}
	if q := r.URL.RawQuery; q != "" {
		if u, err := url.QueryUnescape(q); err == nil {
			tab.URL = u
		}
	}
	fb.tabs = append(fb.tabs, tab)
	_ = json.NewEncoder(w).Encode(fb.listingEntry(tab))
}

func (fb *fakeBrowser) handleClose(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/json/close/")
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i, tab := range fb.tabs {
		if tab.ID == id {
			fb.tabs = append(fb.tabs[:i], fb.tabs[i+1:]...)
			_, _ = w.Write([]byte("Target is closing"))
			return
		}
	}
	http.Error(w, "could not close target", http.StatusNotFound)
}

func (fb *fakeBrowser) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	fb.mu.Lock()
	fb.connCount++
	connID := fb.connCount
	fb.conns = append(fb.conns, conn)
	fb.mu.Unlock()

	go fb.serveConn(conn, connID)
}

func (fb *fakeBrowser) serveConn(conn net.Conn, connID int) {
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}

		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}

		fb.mu.Lock()
		fb.recorded = append(fb.recorded, recordedCommand{Conn: connID, ID: req.ID, Method: req.Method, Params: req.Params})
		fb.mu.Unlock()

		resp := fb.buildResponse(req.ID, req.Method, req.Params)
		if resp == nil {
			continue
		}
		fb.writeFrame(conn, resp)
	}
}

func (fb *fakeBrowser) buildResponse(id int64, method string, params json.RawMessage) map[string]any {
	if fb.respond != nil {
		result, errMsg, withhold := fb.respond(method, params)
		if withhold {
			return nil
		}
		if errMsg != "" {
			return map[string]any{"id": id, "error": map[string]any{"code": -32000, "message": errMsg}}
		}
		if result == nil {
			result = map[string]any{}
		}
		return map[string]any{"id": id, "result": result}
	}

	switch method {
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(params, &p)
		value, exception := any(true), ""
		if fb.evalFn != nil {
			value, exception = fb.evalFn(p.Expression)
		}
		if exception != "" {
			return map[string]any{"id": id, "result": map[string]any{
				"result":           map[string]any{"type": "object"},
				"exceptionDetails": map[string]any{"text": exception},
			}}
		}
		return map[string]any{"id": id, "result": map[string]any{
			"result": map[string]any{"type": jsTypeName(value), "value": value},
		}}
	case "Page.navigate":
		return map[string]any{"id": id, "result": map[string]any{"frameId": "frame-1"}}
	case "Page.captureScreenshot":
		return map[string]any{"id": id, "result": map[string]any{"data": "aGVsbG8="}}
	default:
		return map[string]any{"id": id, "result": map[string]any{}}
	}
}

func jsTypeName(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, float64:
		return "number"
	default:
		return "object"
	}
}

func (fb *fakeBrowser) writeFrame(conn net.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fb.t.Errorf("fake browser marshal: %v", err)
		return
	}
	_ = wsutil.WriteServerText(conn, data)
}

// sendResponse pushes a response frame for a command id to every open
// connection, letting tests answer withheld commands out of order.
func (fb *fakeBrowser) sendResponse(id int64, result any) {
	fb.mu.Lock()
	conns := append([]net.Conn(nil), fb.conns...)
	fb.mu.Unlock()
	for _, conn := range conns {
		fb.writeFrame(conn, map[string]any{"id": id, "result": result})
	}
}

// sendEvent pushes an unsolicited protocol event to every open connection.
func (fb *fakeBrowser) sendEvent(method string, params any) {
	fb.mu.Lock()
	conns := append([]net.Conn(nil), fb.conns...)
	fb.mu.Unlock()
	for _, conn := range conns {
		fb.writeFrame(conn, map[string]any{"method": method, "params": params})
	}
}

// closeConns drops every open WebSocket, simulating a dead socket.
func (fb *fakeBrowser) closeConns() {
	fb.mu.Lock()
	conns := fb.conns
	fb.conns = nil
	fb.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (fb *fakeBrowser) commands() []recordedCommand {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recordedCommand(nil), fb.recorded...)
}

func (fb *fakeBrowser) commandCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.recorded)
}
