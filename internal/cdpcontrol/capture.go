package cdpcontrol

import (
	"context"
	"encoding/json"
	"time"
)

// CaptureScreenshot captures a full-page raster of the tab, or just the
// selected element's box when selector is non-empty. Returns the
// base64-encoded PNG data along with the resolved tab.
func (c *Client) CaptureScreenshot(ctx context.Context, ref TabRef, selector string, timeout time.Duration) (string, TabInfo, error) {
	session, tab, err := c.resolveSession(ctx, ref)
	if err != nil {
		return "", TabInfo{}, err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var clip *screenshotClip
	if selector != "" {
		boundsJSON, err := session.evaluateString(cmdCtx, jsElementBounds(selector))
		if err != nil {
			return "", TabInfo{}, err
		}
		var bounds struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		}
		if err := json.Unmarshal([]byte(boundsJSON), &bounds); err != nil {
			return "", TabInfo{}, newError(CodeProtocolError, "unmarshal element bounds", err)
		}
		clip = &screenshotClip{X: bounds.X, Y: bounds.Y, Width: bounds.Width, Height: bounds.Height, Scale: 1}
	}

	data, err := session.captureScreenshot(cmdCtx, clip)
	if err != nil {
		return "", TabInfo{}, err
	}
	return data, tab, nil
}
