package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/web_agent/internal/cdpcontrol"
)

// actionBody is the unified action request body.
type actionBody struct {
	Action   string       `json:"action" doc:"Action name, e.g. navigate, click, extract"`
	Tab      tabField     `json:"tab,omitempty" doc:"Tab index (integer) or target identifier (string); defaults to tab 0"`
	Selector string       `json:"selector,omitempty" doc:"CSS or XPath element selector; leading / selects XPath"`
	Payload  payloadField `json:"payload,omitempty" doc:"Action payload: string or list of strings"`
	Timeout  int          `json:"timeout,omitempty" minimum:"0" maximum:"60000" doc:"Timeout in milliseconds, default 5000"`
}

func (b actionBody) toRequest() cdpcontrol.ActionRequest {
	return cdpcontrol.ActionRequest{
		Action:   b.Action,
		Tab:      b.Tab.ref,
		Selector: b.Selector,
		Payload:  b.Payload.values,
		Timeout:  time.Duration(b.Timeout) * time.Millisecond,
	}
}

// tabField accepts either a JSON number (listing index) or a JSON string
// (target identifier). The zero value addresses tab 0.
type tabField struct {
	ref cdpcontrol.TabRef
}

func (t *tabField) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		t.ref = cdpcontrol.TabRef{Index: idx}
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		t.ref = cdpcontrol.TabRef{TargetID: id}
		return nil
	}
	return fmt.Errorf("tab must be an integer index or a target id string")
}

func (t tabField) MarshalJSON() ([]byte, error) {
	if t.ref.TargetID != "" {
		return json.Marshal(t.ref.TargetID)
	}
	return json.Marshal(t.ref.Index)
}

func (t tabField) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		OneOf: []*huma.Schema{
			{Type: huma.TypeInteger, Description: "Tab listing index"},
			{Type: huma.TypeString, Description: "Target identifier"},
		},
	}
}

// payloadField accepts a JSON string or a list of strings.
type payloadField struct {
	values []string
}

func (p *payloadField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		p.values = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		p.values = list
		return nil
	}
	return fmt.Errorf("payload must be a string or a list of strings")
}

func (p payloadField) MarshalJSON() ([]byte, error) {
	if len(p.values) == 1 {
		return json.Marshal(p.values[0])
	}
	return json.Marshal(p.values)
}

func (p payloadField) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		OneOf: []*huma.Schema{
			{Type: huma.TypeString},
			{Type: huma.TypeArray, Items: &huma.Schema{Type: huma.TypeString}},
		},
	}
}
