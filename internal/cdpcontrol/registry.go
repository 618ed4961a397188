package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// Client resolves browser tabs against the debugging HTTP endpoint and
// hands out one lazily-opened session per target. Listings are never
// cached across calls: every index resolution re-queries the browser, so
// the positional indices a caller sees are always from a fresh snapshot.
type Client struct {
	httpBase     string
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[target.ID]*session
}

// NewClient creates a client against the debugging endpoint, e.g.
// "http://127.0.0.1:9222". The address is injected configuration; the
// client never discovers it dynamically.
func NewClient(httpBase string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Client{
		httpBase:     strings.TrimRight(httpBase, "/"),
		pollInterval: pollInterval,
		sessions:     make(map[target.ID]*session),
	}
}

// Close releases every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[target.ID]*session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	return nil
}

type listEntry struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListTargets queries /json/list and returns page targets in the order
// the browser reports them. That order defines tab indices for this call
// only; closing a lower-indexed tab shifts every index after it.
func (c *Client) ListTargets(ctx context.Context) ([]TabInfo, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, c.httpBase+"/json/list", nil)
	if err != nil {
		return nil, newError(CodeConnectionError, "build target listing request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, newError(CodeConnectionError, "query target listing", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeConnectionError, fmt.Sprintf("/json/list: HTTP %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(CodeConnectionError, "read target listing", err)
	}

	var entries []listEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, newError(CodeProtocolError, "unmarshal target listing", err)
	}

	tabs := make([]TabInfo, 0, len(entries))
	for _, e := range entries {
		if e.Type != "page" {
			continue
		}
		tabs = append(tabs, TabInfo{
			Index:        len(tabs),
			TargetID:     target.ID(e.ID),
			Type:         e.Type,
			Title:        e.Title,
			URL:          e.URL,
			WebSocketURL: e.WebSocketDebuggerURL,
		})
	}
	slog.Debug("registry listed targets", "pages", len(tabs), "total", len(entries))
	return tabs, nil
}

// Resolve maps a tab reference to a live target. An index is resolved
// against a fresh listing made now; an explicit target id matches against
// the current listing by identifier.
func (c *Client) Resolve(ctx context.Context, ref TabRef) (TabInfo, error) {
	tabs, err := c.ListTargets(ctx)
	if err != nil {
		return TabInfo{}, err
	}

	if ref.TargetID != "" {
		for _, tab := range tabs {
			if string(tab.TargetID) == ref.TargetID {
				return tab, nil
			}
		}
		return TabInfo{}, newError(CodeTargetNotFound, "no target with id "+ref.TargetID, nil)
	}

	if ref.Index < 0 || ref.Index >= len(tabs) {
		return TabInfo{}, newError(CodeTargetNotFound,
			fmt.Sprintf("tab index %d out of range (%d tabs)", ref.Index, len(tabs)), nil)
	}
	return tabs[ref.Index], nil
}

// CreateTab asks the browser to open a new tab, optionally navigating it
// immediately, and returns the new target. Newer browsers require PUT on
// /json/new; older ones only accept GET, so a 405 falls back.
func (c *Client) CreateTab(ctx context.Context, openURL string) (TabInfo, error) {
	endpoint := c.httpBase + "/json/new"
	if openURL != "" {
		endpoint += "?" + url.QueryEscape(openURL)
	}

	entry, err := c.newTabRequest(ctx, http.MethodPut, endpoint)
	if err != nil {
		return TabInfo{}, err
	}
	if entry == nil {
		entry, err = c.newTabRequest(ctx, http.MethodGet, endpoint)
		if err != nil {
			return TabInfo{}, err
		}
		if entry == nil {
			return TabInfo{}, newError(CodeProtocolError, "/json/new rejected by browser", nil)
		}
	}

	slog.Info("registry created tab", "target_id", entry.ID, "url", entry.URL)
	return TabInfo{
		TargetID:     target.ID(entry.ID),
		Type:         entry.Type,
		Title:        entry.Title,
		URL:          entry.URL,
		WebSocketURL: entry.WebSocketDebuggerURL,
	}, nil
}

// newTabRequest issues one /json/new attempt. A nil entry with nil error
// means the method was rejected and the caller should fall back.
func (c *Client) newTabRequest(ctx context.Context, method, endpoint string) (*listEntry, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return nil, newError(CodeConnectionError, "build new-tab request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, newError(CodeConnectionError, "create tab", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeProtocolError, fmt.Sprintf("/json/new: HTTP %d", resp.StatusCode), nil)
	}

	var entry listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, newError(CodeProtocolError, "unmarshal new-tab response", err)
	}
	return &entry, nil
}

// CloseTab asks the browser to close the resolved target and releases
// any open session for it.
func (c *Client) CloseTab(ctx context.Context, ref TabRef) (TabInfo, error) {
	tab, err := c.Resolve(ctx, ref)
	if err != nil {
		return TabInfo{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.httpBase+"/json/close/"+string(tab.TargetID), nil)
	if err != nil {
		return TabInfo{}, newError(CodeConnectionError, "build close-tab request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return TabInfo{}, newError(CodeConnectionError, "close tab", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TabInfo{}, newError(CodeProtocolError, fmt.Sprintf("/json/close: HTTP %d", resp.StatusCode), nil)
	}

	c.releaseSession(tab.TargetID)
	slog.Info("registry closed tab", "target_id", tab.TargetID)
	return tab, nil
}

// sessionFor returns the shared session for a target, creating it lazily.
// The connection itself is dialed on first command, not here.
func (c *Client) sessionFor(tab TabInfo) (*session, error) {
	if tab.WebSocketURL == "" {
		return nil, newError(CodeConnectionError, "target "+string(tab.TargetID)+" has no debugger endpoint", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[tab.TargetID]
	if !ok {
		s = newSession(tab.WebSocketURL)
		c.sessions[tab.TargetID] = s
	}
	return s, nil
}

func (c *Client) releaseSession(id target.ID) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	if ok {
		s.close()
	}
}

// resolveSession resolves a tab reference all the way to a live session.
func (c *Client) resolveSession(ctx context.Context, ref TabRef) (*session, TabInfo, error) {
	tab, err := c.Resolve(ctx, ref)
	if err != nil {
		return nil, TabInfo{}, err
	}
	s, err := c.sessionFor(tab)
	if err != nil {
		return nil, TabInfo{}, err
	}
	return s, tab, nil
}
