package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/web_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/web_agent/internal/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the surface the HTTP layer drives.
type Service interface {
	Perform(ctx context.Context, req cdpcontrol.ActionRequest) (string, error)
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	NewTab(ctx context.Context, url string) (cdpcontrol.TabInfo, error)
	CloseTab(ctx context.Context, ref cdpcontrol.TabRef) (cdpcontrol.TabInfo, error)
	CaptureSnapshot(ctx context.Context, ref cdpcontrol.TabRef, selector, notes string) (snapshot.Meta, error)
	ListSnapshots(ctx context.Context) ([]snapshot.Meta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// NewServer builds the HTTP handler: chi router, request logging, and
// the huma-registered API operations.
func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Web Agent API", "1.0.0")
	api := humachi.New(router, cfg)

	registerActionHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	// Raw image bytes sit outside the JSON API.
	router.Get("/api/v1/snapshots/{id}/image", func(w http.ResponseWriter, r *http.Request) {
		data, format, err := svc.ReadSnapshotImage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/"+format)
		_, _ = w.Write(data)
	})

	return router
}

func registerActionHandlers(api huma.API, svc Service) {
	type actionInput struct {
		Body actionBody
	}
	type actionOutput struct {
		Body struct {
			Result string `json:"result"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "perform-action", Method: http.MethodPost, Path: "/api/v1/action", Summary: "Perform a browser action", Tags: []string{"Actions"}},
		func(ctx context.Context, input *actionInput) (*actionOutput, error) {
			result, err := svc.Perform(ctx, input.Body.toRequest())
			if err != nil {
				return nil, mapErr(err)
			}
			out := &actionOutput{}
			out.Body.Result = result
			return out, nil
		})

	type actionListOutput struct {
		Body struct {
			Actions []string `json:"actions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-actions", Method: http.MethodGet, Path: "/api/v1/actions", Summary: "List supported action names", Tags: []string{"Actions"}},
		func(ctx context.Context, input *struct{}) (*actionListOutput, error) {
			out := &actionListOutput{}
			out.Body.Actions = cdpcontrol.Actions()
			return out, nil
		})

	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body struct {
			Tabs []cdpcontrol.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs in browser order", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type newTabInput struct {
		Body struct {
			URL string `json:"url,omitempty" doc:"Optional URL to open in the new tab"`
		}
	}
	type tabOutput struct {
		Body cdpcontrol.TabInfo
	}
	huma.Register(api, huma.Operation{OperationID: "new-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Open a new tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *newTabInput) (*tabOutput, error) {
			tab, err := svc.NewTab(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = tab
			return out, nil
		})

	type closeTabInput struct {
		Ref string `path:"ref" doc:"Tab index or target identifier"`
	}
	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{ref}", Summary: "Close a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *closeTabInput) (*tabOutput, error) {
			tab, err := svc.CloseTab(ctx, parseTabRef(input.Ref))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = tab
			return out, nil
		})
}

func registerSnapshotHandlers(api huma.API, svc Service) {
	type captureInput struct {
		Body struct {
			Tab      tabField `json:"tab,omitempty" doc:"Tab index or target identifier"`
			Selector string   `json:"selector,omitempty" doc:"Optional element selector to bound the capture"`
			Notes    string   `json:"notes,omitempty"`
		}
	}
	type metaOutput struct {
		Body snapshot.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "capture-snapshot", Method: http.MethodPost, Path: "/api/v1/snapshots", Summary: "Capture a screenshot into the store", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *captureInput) (*metaOutput, error) {
			meta, err := svc.CaptureSnapshot(ctx, input.Body.Tab.ref, input.Body.Selector, input.Body.Notes)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &metaOutput{}
			out.Body = meta
			return out, nil
		})

	type snapshotsOutput struct {
		Body struct {
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List stored snapshots", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*snapshotsOutput, error) {
			metas, err := svc.ListSnapshots(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &snapshotsOutput{}
			out.Body.Snapshots = metas
			return out, nil
		})

	type snapshotIDInput struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot", Method: http.MethodGet, Path: "/api/v1/snapshots/{id}", Summary: "Get snapshot metadata", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*metaOutput, error) {
			meta, err := svc.GetSnapshot(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &metaOutput{}
			out.Body = meta
			return out, nil
		})

	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/snapshots/{id}", Summary: "Delete a snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*statusOutput, error) {
			if err := svc.DeleteSnapshot(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}

// parseTabRef turns a path segment into a tab reference: digits are a
// listing index, anything else a target identifier.
func parseTabRef(ref string) cdpcontrol.TabRef {
	if idx, err := strconv.Atoi(ref); err == nil {
		return cdpcontrol.TabRef{Index: idx}
	}
	return cdpcontrol.TabRef{TargetID: ref}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeInvalidParameters:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTargetNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeConnectionError, cdpcontrol.CodeProtocolError:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
