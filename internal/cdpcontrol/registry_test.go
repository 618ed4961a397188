package cdpcontrol

import (
	"context"
	"errors"
	"testing"
)

func errCode(t *testing.T, err error) string {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("got %v, want a coded error", err)
	}
	return coded.Code
}

func TestListTargetsFiltersAndIndexes(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTab{ID: "tab-1", Title: "first", URL: "https://one.test/"},
		fakeTab{ID: "sw-1", Type: "service_worker", URL: "https://one.test/sw.js"},
		fakeTab{ID: "tab-2", Title: "second", URL: "https://two.test/"},
	)
	client := fb.client()
	defer client.Close()

	tabs, err := client.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("got %d tabs, want 2 (service worker filtered out)", len(tabs))
	}
	for i, tab := range tabs {
		if tab.Index != i {
			t.Errorf("tab %d has index %d", i, tab.Index)
		}
		if tab.Type != "page" {
			t.Errorf("tab %d has type %q", i, tab.Type)
		}
	}
	if string(tabs[0].TargetID) != "tab-1" || string(tabs[1].TargetID) != "tab-2" {
		t.Errorf("unexpected order: %v, %v", tabs[0].TargetID, tabs[1].TargetID)
	}
	if tabs[1].WebSocketURL == "" {
		t.Error("listing lost the debugger endpoint")
	}
}

func TestResolveByIndexAndID(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTab{ID: "tab-1", Title: "first"},
		fakeTab{ID: "tab-2", Title: "second"},
	)
	client := fb.client()
	defer client.Close()
	ctx := context.Background()

	tab, err := client.Resolve(ctx, TabRef{Index: 1})
	if err != nil {
		t.Fatalf("resolve index 1: %v", err)
	}
	if string(tab.TargetID) != "tab-2" {
		t.Errorf("index 1 resolved to %s", tab.TargetID)
	}

	tab, err = client.Resolve(ctx, TabRef{TargetID: "tab-1"})
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if tab.Index != 0 {
		t.Errorf("tab-1 resolved to index %d", tab.Index)
	}
}

func TestResolveUnknownTab(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	client := fb.client()
	defer client.Close()
	ctx := context.Background()

	cases := []TabRef{
		{Index: 5},
		{Index: -1},
		{TargetID: "no-such-target"},
	}
	for _, ref := range cases {
		_, err := client.Resolve(ctx, ref)
		if code := errCode(t, err); code != CodeTargetNotFound {
			t.Errorf("resolve %s: code %s, want TARGET_NOT_FOUND", ref, code)
		}
	}
}

func TestCreateTab(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	client := fb.client()
	defer client.Close()

	tab, err := client.CreateTab(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}
	if tab.TargetID == "" {
		t.Fatal("new tab has no target id")
	}
	if tab.URL != "https://example.com/" {
		t.Errorf("new tab url %q", tab.URL)
	}

	tabs, err := client.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(tabs) != 2 {
		t.Errorf("got %d tabs after create, want 2", len(tabs))
	}
}

func TestCreateTabFallsBackToGET(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.rejectPut = true
	client := fb.client()
	defer client.Close()

	tab, err := client.CreateTab(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateTab with GET fallback: %v", err)
	}
	if tab.TargetID == "" {
		t.Fatal("fallback created no tab")
	}
}

func TestCloseTabShiftsIndices(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTab{ID: "tab-1", Title: "first"},
		fakeTab{ID: "tab-2", Title: "second"},
		fakeTab{ID: "tab-3", Title: "third"},
	)
	client := fb.client()
	defer client.Close()
	ctx := context.Background()

	closed, err := client.CloseTab(ctx, TabRef{Index: 0})
	if err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if string(closed.TargetID) != "tab-1" {
		t.Errorf("closed %s, want tab-1", closed.TargetID)
	}

	// Indices are positional per listing: everything after the closed tab
	// moves down by one.
	tabs, err := client.ListTargets(ctx)
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("got %d tabs after close, want 2", len(tabs))
	}
	if string(tabs[0].TargetID) != "tab-2" || tabs[0].Index != 0 {
		t.Errorf("tab 0 is %s at index %d", tabs[0].TargetID, tabs[0].Index)
	}
	if string(tabs[1].TargetID) != "tab-3" || tabs[1].Index != 1 {
		t.Errorf("tab 1 is %s at index %d", tabs[1].TargetID, tabs[1].Index)
	}
}

func TestCloseTabUnknown(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	client := fb.client()
	defer client.Close()

	_, err := client.CloseTab(context.Background(), TabRef{Index: 9})
	if code := errCode(t, err); code != CodeTargetNotFound {
		t.Errorf("code %s, want TARGET_NOT_FOUND", code)
	}
}

func TestSessionForRequiresEndpoint(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 0)
	defer client.Close()

	_, err := client.sessionFor(TabInfo{TargetID: "tab-x"})
	if code := errCode(t, err); code != CodeConnectionError {
		t.Errorf("code %s, want CONNECTION_ERROR", code)
	}
}

func TestSessionForReusesSession(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	client := fb.client()
	defer client.Close()

	tab := TabInfo{TargetID: "tab-1", WebSocketURL: fb.wsURLFor("tab-1")}
	first, err := client.sessionFor(tab)
	if err != nil {
		t.Fatalf("sessionFor: %v", err)
	}
	second, err := client.sessionFor(tab)
	if err != nil {
		t.Fatalf("sessionFor again: %v", err)
	}
	if first != second {
		t.Error("same target produced two sessions")
	}

	client.releaseSession(tab.TargetID)
	third, err := client.sessionFor(tab)
	if err != nil {
		t.Fatalf("sessionFor after release: %v", err)
	}
	if third == first {
		t.Error("released session was handed out again")
	}
}
