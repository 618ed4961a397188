package cdpcontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AwaitElement polls until the selector matches an element or the
// timeout elapses.
func (c *Client) AwaitElement(ctx context.Context, ref TabRef, selector string, timeout time.Duration) error {
	return c.AwaitPredicate(ctx, ref, jsElementExists(selector), "element "+selector, timeout)
}

// AwaitText polls until the text appears anywhere in the document body.
func (c *Client) AwaitText(ctx context.Context, ref TabRef, text string, timeout time.Duration) error {
	return c.AwaitPredicate(ctx, ref, jsTextExists(text), fmt.Sprintf("text %q", text), timeout)
}

// AwaitPredicate evaluates a side-effect-free boolean expression on the
// tab at a fixed cadence until it turns truthy or the deadline passes.
// Polling is deliberate: it needs no protocol event subscription, and if
// the page navigates mid-wait the next poll simply evaluates against the
// new document. Evaluation errors during a poll are treated as "not yet"
// for the same reason.
func (c *Client) AwaitPredicate(ctx context.Context, ref TabRef, expression, what string, timeout time.Duration) error {
	session, tab, err := c.resolveSession(ctx, ref)
	if err != nil {
		return err
	}

	start := time.Now()
	deadline := start.Add(timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := session.evaluateBool(waitCtx, expression)
		if err == nil && ok {
			slog.Debug("await satisfied", "target_id", tab.TargetID, "what", what, "elapsed", time.Since(start))
			return nil
		}
		if err != nil {
			if timedOut(waitCtx, err) {
				return newError(CodeTimeout,
					fmt.Sprintf("waiting for %s: not satisfied after %s", what, time.Since(start).Round(time.Millisecond)), nil)
			}
			slog.Debug("await poll error", "target_id", tab.TargetID, "what", what, "error", err)
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return newError(CodeTimeout,
					fmt.Sprintf("waiting for %s: not satisfied after %s", what, time.Since(start).Round(time.Millisecond)), nil)
			}
			return waitCtx.Err()
		}
	}
}

// timedOut reports whether an evaluation error means the overall wait
// deadline passed, as opposed to a transient per-poll failure.
func timedOut(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == CodeTimeout && errors.Is(err, context.DeadlineExceeded)
}
