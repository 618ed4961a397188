// Package agent glues the action router, tab registry, and snapshot
// store into the service the HTTP API drives. The browser session state
// lives in the handle, not in process-wide globals; the caller owns its
// lifecycle.
package agent

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/dgnsrekt/web_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/web_agent/internal/snapshot"
)

type Service struct {
	client    *cdpcontrol.Client
	router    *cdpcontrol.Router
	snapshots *snapshot.Store

	captureTimeout time.Duration
}

func NewService(client *cdpcontrol.Client, router *cdpcontrol.Router, snapshots *snapshot.Store, captureTimeout time.Duration) *Service {
	if captureTimeout <= 0 {
		captureTimeout = 10 * time.Second
	}
	return &Service{
		client:         client,
		router:         router,
		snapshots:      snapshots,
		captureTimeout: captureTimeout,
	}
}

// Perform runs one action. A screenshot request without an output path
// is filed in the snapshot store instead; the result is the stored
// image path.
func (s *Service) Perform(ctx context.Context, req cdpcontrol.ActionRequest) (string, error) {
	if req.Action == cdpcontrol.ActionScreenshot && len(req.Payload) == 0 {
		meta, err := s.CaptureSnapshot(ctx, req.Tab, req.Selector, "")
		if err != nil {
			return "", err
		}
		return s.snapshots.ImagePath(meta), nil
	}
	return s.router.Perform(ctx, req)
}

func (s *Service) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return s.client.ListTargets(ctx)
}

func (s *Service) NewTab(ctx context.Context, url string) (cdpcontrol.TabInfo, error) {
	return s.client.CreateTab(ctx, url)
}

func (s *Service) CloseTab(ctx context.Context, ref cdpcontrol.TabRef) (cdpcontrol.TabInfo, error) {
	return s.client.CloseTab(ctx, ref)
}

// CaptureSnapshot captures the tab (optionally bounded to an element)
// and files the image in the store.
func (s *Service) CaptureSnapshot(ctx context.Context, ref cdpcontrol.TabRef, selector, notes string) (snapshot.Meta, error) {
	data, tab, err := s.client.CaptureScreenshot(ctx, ref, selector, s.captureTimeout)
	if err != nil {
		return snapshot.Meta{}, err
	}

	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return snapshot.Meta{}, err
	}

	meta := snapshot.NewMeta(string(tab.TargetID), tab.URL, tab.Title, selector, "png")
	meta.Notes = notes
	if err := s.snapshots.Save(meta, img); err != nil {
		return snapshot.Meta{}, err
	}
	meta.SizeBytes = len(img)
	return meta, nil
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.Meta, error) {
	return s.snapshots.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error) {
	return s.snapshots.Get(id)
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	return s.snapshots.ReadImage(id)
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	return s.snapshots.Delete(id)
}
