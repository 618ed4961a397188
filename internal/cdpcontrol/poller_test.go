package cdpcontrol

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitElementSucceedsAfterPolls(t *testing.T) {
	var polls atomic.Int64
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	fb.evalFn = func(expression string) (any, string) {
		return polls.Add(1) >= 3, ""
	}
	client := fb.client()
	defer client.Close()

	start := time.Now()
	err := client.AwaitElement(context.Background(), TabRef{Index: 0}, "#late", 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitElement: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("wait ran to the deadline (%s) despite the predicate turning true", elapsed)
	}
	if n := polls.Load(); n < 3 {
		t.Errorf("predicate evaluated %d times, want at least 3", n)
	}
}

func TestAwaitElementTimesOut(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	fb.evalFn = func(expression string) (any, string) {
		return false, ""
	}
	client := fb.client()
	defer client.Close()

	timeout := 150 * time.Millisecond
	start := time.Now()
	err := client.AwaitElement(context.Background(), TabRef{Index: 0}, "#never", timeout)
	elapsed := time.Since(start)

	if code := errCode(t, err); code != CodeTimeout {
		t.Fatalf("code %s, want TIMEOUT", code)
	}
	if elapsed < timeout {
		t.Errorf("timed out after %s, before the %s deadline", elapsed, timeout)
	}
	if !strings.Contains(err.Error(), "#never") {
		t.Errorf("timeout error does not name the condition: %v", err)
	}
}

func TestAwaitTextMatches(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	fb.evalFn = func(expression string) (any, string) {
		// The predicate embeds the wanted text as a JS string literal.
		return strings.Contains(expression, `"loading done"`), ""
	}
	client := fb.client()
	defer client.Close()

	if err := client.AwaitText(context.Background(), TabRef{Index: 0}, "loading done", time.Second); err != nil {
		t.Fatalf("AwaitText: %v", err)
	}
}

func TestAwaitPredicateTreatsEvalErrorsAsNotYet(t *testing.T) {
	// First polls throw (as they would mid-navigation), then the predicate
	// holds. The wait must ride through the errors.
	var polls atomic.Int64
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	fb.evalFn = func(expression string) (any, string) {
		if polls.Add(1) < 3 {
			return nil, "Execution context was destroyed"
		}
		return true, ""
	}
	client := fb.client()
	defer client.Close()

	err := client.AwaitPredicate(context.Background(), TabRef{Index: 0}, "window.__ready === true", "app ready", 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitPredicate: %v", err)
	}
}

func TestAwaitPredicateUnknownTab(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	client := fb.client()
	defer client.Close()

	err := client.AwaitElement(context.Background(), TabRef{Index: 4}, "#x", time.Second)
	if code := errCode(t, err); code != CodeTargetNotFound {
		t.Errorf("code %s, want TARGET_NOT_FOUND", code)
	}
}

func TestAwaitPredicateHonorsCancel(t *testing.T) {
	fb := newFakeBrowser(t, fakeTab{ID: "tab-1"})
	fb.evalFn = func(expression string) (any, string) {
		return false, ""
	}
	client := fb.client()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.AwaitElement(ctx, TabRef{Index: 0}, "#never", 10*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("wait returned nil after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait ignored cancellation")
	}
}
