package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgnsrekt/web_agent/internal/markdown"
)

// Action names accepted by the router.
const (
	ActionNavigate     = "navigate"
	ActionClick        = "click"
	ActionType         = "type"
	ActionSelect       = "select"
	ActionAttr         = "attr"
	ActionExtract      = "extract"
	ActionScreenshot   = "screenshot"
	ActionEval         = "eval"
	ActionAwaitElement = "await_element"
	ActionAwaitText    = "await_text"
	ActionListTabs     = "list_tabs"
	ActionNewTab       = "new_tab"
	ActionCloseTab     = "close_tab"
)

// Actions returns every action name the router dispatches, in a stable
// order.
func Actions() []string {
	return []string{
		ActionNavigate, ActionClick, ActionType, ActionSelect, ActionAttr,
		ActionExtract, ActionScreenshot, ActionEval,
		ActionAwaitElement, ActionAwaitText,
		ActionListTabs, ActionNewTab, ActionCloseTab,
	}
}

// ActionRequest is one unit of work for the router. It is consumed
// entirely within a single Perform call; no state survives across
// requests except the tab sessions beneath the router.
type ActionRequest struct {
	Action   string
	Tab      TabRef
	Selector string
	Payload  []string
	Timeout  time.Duration
}

func (r ActionRequest) payloadFirst() string {
	if len(r.Payload) == 0 {
		return ""
	}
	return r.Payload[0]
}

type actionHandler struct {
	needsSelector bool
	needsPayload  string // human description of the required payload, "" when optional
	run           func(r *Router, ctx context.Context, req ActionRequest) (string, error)
}

// Router translates named actions into ordered protocol commands. It
// holds no action-to-action state; every Perform call is isolated.
type Router struct {
	client         *Client
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	handlers       map[string]actionHandler
}

// NewRouter wires the router over a client. defaultTimeout applies when
// a request carries none; maxTimeout caps every request.
func NewRouter(client *Client, defaultTimeout, maxTimeout time.Duration) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	r := &Router{
		client:         client,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}
	r.handlers = map[string]actionHandler{
		ActionNavigate:     {needsPayload: "URL", run: (*Router).navigate},
		ActionClick:        {needsSelector: true, run: (*Router).click},
		ActionType:         {needsSelector: true, needsPayload: "text", run: (*Router).typeText},
		ActionSelect:       {needsSelector: true, needsPayload: "option value(s)", run: (*Router).selectOptions},
		ActionAttr:         {needsSelector: true, needsPayload: "attribute name", run: (*Router).attr},
		ActionExtract:      {run: (*Router).extract},
		ActionScreenshot:   {needsPayload: "output path", run: (*Router).screenshot},
		ActionEval:         {needsPayload: "code", run: (*Router).eval},
		ActionAwaitElement: {needsSelector: true, run: (*Router).awaitElement},
		ActionAwaitText:    {needsPayload: "text", run: (*Router).awaitText},
		ActionListTabs:     {run: (*Router).listTabs},
		ActionNewTab:       {run: (*Router).newTab},
		ActionCloseTab:     {run: (*Router).closeTab},
	}
	return r
}

// Perform validates the request and dispatches it. Validation failures
// surface before any network I/O; no partial dispatch occurs.
func (r *Router) Perform(ctx context.Context, req ActionRequest) (string, error) {
	handler, ok := r.handlers[req.Action]
	if !ok {
		return "", newError(CodeInvalidParameters, "unknown action "+strings.TrimSpace(req.Action), nil)
	}
	if handler.needsSelector && req.Selector == "" {
		return "", newError(CodeInvalidParameters, req.Action+" requires a selector", nil)
	}
	if handler.needsPayload != "" && req.payloadFirst() == "" {
		return "", newError(CodeInvalidParameters, req.Action+" requires a payload: "+handler.needsPayload, nil)
	}

	req.Timeout = r.clampTimeout(req.Timeout)
	start := time.Now()
	result, err := handler.run(r, ctx, req)
	if err != nil {
		slog.Warn("action failed", "action", req.Action, "tab", req.Tab.String(), "error", err)
		return "", err
	}
	slog.Debug("action done", "action", req.Action, "tab", req.Tab.String(), "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (r *Router) clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return r.defaultTimeout
	}
	if timeout > r.maxTimeout {
		return r.maxTimeout
	}
	return timeout
}

// withDeadline bounds one command exchange by the request timeout.
func withDeadline(ctx context.Context, req ActionRequest) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, req.Timeout)
}

func (r *Router) navigate(ctx context.Context, req ActionRequest) (string, error) {
	session, tab, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}

	// One deadline covers the whole navigation: the command, the load
	// wait, and the final URL read all draw from the same budget.
	deadline := time.Now().Add(req.Timeout)
	navCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	params := struct {
		URL string `json:"url"`
	}{URL: req.payloadFirst()}
	raw, err := session.call(navCtx, "Page.navigate", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.ErrorText != "" {
		return "", newError(CodeProtocolError, "navigation failed: "+resp.ErrorText, nil)
	}

	// Wait for the load to settle by polling readyState rather than
	// subscribing to Page lifecycle events.
	if err := r.client.AwaitPredicate(navCtx, TabRef{TargetID: string(tab.TargetID)}, jsDocumentReady, "page load", time.Until(deadline)); err != nil {
		return "", err
	}

	finalURL, err := session.evaluateString(navCtx, jsLocationHref)
	if err != nil {
		return "", err
	}
	return "navigated to " + finalURL, nil
}

func (r *Router) click(ctx context.Context, req ActionRequest) (string, error) {
	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()
	if _, err := session.evaluate(cmdCtx, jsClick(req.Selector)); err != nil {
		return "", err
	}
	return "clicked " + req.Selector, nil
}

func (r *Router) typeText(ctx context.Context, req ActionRequest) (string, error) {
	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}

	text := req.payloadFirst()
	submit := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()
	if _, err := session.evaluate(cmdCtx, jsSetValue(req.Selector, text)); err != nil {
		return "", err
	}
	if submit {
		// Trailing newline means "press Enter": a synthetic key event so
		// the form submission machinery actually fires.
		if err := session.dispatchKeyEvent(cmdCtx, "Enter", "Enter", 13); err != nil {
			return "", err
		}
		return "typed into " + req.Selector + " and submitted", nil
	}
	return "typed into " + req.Selector, nil
}

func (r *Router) selectOptions(ctx context.Context, req ActionRequest) (string, error) {
	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()
	if _, err := session.evaluate(cmdCtx, jsSelectOptions(req.Selector, req.Payload)); err != nil {
		return "", err
	}
	return fmt.Sprintf("selected %s in %s", strings.Join(req.Payload, ", "), req.Selector), nil
}

func (r *Router) attr(ctx context.Context, req ActionRequest) (string, error) {
	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()
	return session.evaluateString(cmdCtx, jsGetAttribute(req.Selector, req.payloadFirst()))
}

func (r *Router) extract(ctx context.Context, req ActionRequest) (string, error) {
	format := req.payloadFirst()
	if format == "" {
		format = "text"
	}

	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()

	switch format {
	case "text":
		return session.evaluateString(cmdCtx, jsExtractText(req.Selector))
	case "html":
		return session.evaluateString(cmdCtx, jsExtractHTML(req.Selector))
	case "markdown":
		html, err := session.evaluateString(cmdCtx, jsExtractHTML(req.Selector))
		if err != nil {
			return "", err
		}
		md, err := markdown.Convert(html)
		if err != nil {
			return "", newError(CodeProtocolError, "markdown conversion failed", err)
		}
		return md, nil
	default:
		return "", newError(CodeInvalidParameters, "unknown extract format "+format, nil)
	}
}

func (r *Router) screenshot(ctx context.Context, req ActionRequest) (string, error) {
	data, _, err := r.client.CaptureScreenshot(ctx, req.Tab, req.Selector, req.Timeout)
	if err != nil {
		return "", err
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", newError(CodeProtocolError, "decode screenshot data", err)
	}

	path := req.payloadFirst()
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", newError(CodeInvalidParameters, "write screenshot to "+path, err)
	}
	return path, nil
}

func (r *Router) eval(ctx context.Context, req ActionRequest) (string, error) {
	session, _, err := r.client.resolveSession(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	cmdCtx, cancel := withDeadline(ctx, req)
	defer cancel()

	value, err := session.evaluate(cmdCtx, req.payloadFirst())
	if err != nil {
		return "", err
	}
	if len(value) == 0 {
		return "undefined", nil
	}
	var str string
	if err := json.Unmarshal(value, &str); err == nil {
		return str, nil
	}
	return string(value), nil
}

func (r *Router) awaitElement(ctx context.Context, req ActionRequest) (string, error) {
	if err := r.client.AwaitElement(ctx, req.Tab, req.Selector, req.Timeout); err != nil {
		return "", err
	}
	return "element " + req.Selector + " present", nil
}

func (r *Router) awaitText(ctx context.Context, req ActionRequest) (string, error) {
	text := req.payloadFirst()
	if err := r.client.AwaitText(ctx, req.Tab, text, req.Timeout); err != nil {
		return "", err
	}
	return fmt.Sprintf("text %q present", text), nil
}

func (r *Router) listTabs(ctx context.Context, req ActionRequest) (string, error) {
	tabs, err := r.client.ListTargets(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(tabs, "", "  ")
	if err != nil {
		return "", newError(CodeProtocolError, "marshal tab listing", err)
	}
	return string(data), nil
}

func (r *Router) newTab(ctx context.Context, req ActionRequest) (string, error) {
	tab, err := r.client.CreateTab(ctx, req.payloadFirst())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(tab)
	if err != nil {
		return "", newError(CodeProtocolError, "marshal new tab info", err)
	}
	return string(data), nil
}

func (r *Router) closeTab(ctx context.Context, req ActionRequest) (string, error) {
	tab, err := r.client.CloseTab(ctx, req.Tab)
	if err != nil {
		return "", err
	}
	return "closed tab " + string(tab.TargetID), nil
}
