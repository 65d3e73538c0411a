// Package wire defines the NDJSON chat stream protocol shared by the
// server-side emitter and the client-side reducer.
//
// Field names and the type tags below are a compatibility contract: renaming
// or restructuring any of them requires a protocol version bump.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event type tags.
const (
	TypeAgentStep      = "agent_step"
	TypeAudienceResult = "audience_result"
	TypeCampaignDraft  = "campaign_draft"
	TypeScheduled      = "scheduled"
	TypeToken          = "token"
	TypeDone           = "done"
	TypeError          = "error"
)

// agent_step statuses.
const (
	StepRunning = "running"
	StepDone    = "done"
	StepError   = "error"
)

// Node names emitted on agent_step events. The emitter uses the tool-name
// spellings; the reducer additionally accepts the phase-name spellings.
const (
	NodeAnalyzing    = "analyzing"
	NodeQueryCRM     = "query_crm"
	NodeGenerateCopy = "generate_campaign_copy"
	NodeSchedule     = "schedule_campaign"
)

// Event is one frame of the chat stream. Exactly one frame per line; the
// Type tag decides which of the optional fields are meaningful.
type Event struct {
	Type    string          `json:"type"`
	Node    string          `json:"node,omitempty"`
	Status  string          `json:"status,omitempty"`
	Content string          `json:"content,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func AgentStep(node string, status string) Event {
	return Event{Type: TypeAgentStep, Node: node, Status: status}
}

func Token(content string) Event {
	return Event{Type: TypeToken, Content: content}
}

func Done() Event {
	return Event{Type: TypeDone}
}

func Error(message string) Event {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "internal error"
	}
	return Event{Type: TypeError, Message: message}
}

func AudienceResult(p AudiencePayload) (Event, error) {
	return dataEvent(TypeAudienceResult, p)
}

func CampaignDraft(p CampaignDraftPayload) (Event, error) {
	return dataEvent(TypeCampaignDraft, p)
}

func Scheduled(p SchedulePayload) (Event, error) {
	return dataEvent(TypeScheduled, p)
}

func dataEvent(typ string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{Type: typ, Data: b}, nil
}

// Decode parses one frame. Callers that tolerate malformed frames should
// drop the frame (and count the drop) when an error is returned.
func Decode(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(ev.Type) == "" {
		return Event{}, errors.New("frame missing type")
	}
	return ev, nil
}

// Audience decodes the payload of an audience_result event.
func (e Event) Audience() (AudiencePayload, error) {
	var p AudiencePayload
	if e.Type != TypeAudienceResult {
		return p, fmt.Errorf("not an audience_result event: %s", e.Type)
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Draft decodes the payload of a campaign_draft event.
func (e Event) Draft() (CampaignDraftPayload, error) {
	var p CampaignDraftPayload
	if e.Type != TypeCampaignDraft {
		return p, fmt.Errorf("not a campaign_draft event: %s", e.Type)
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Schedule decodes the payload of a scheduled event.
func (e Event) Schedule() (SchedulePayload, error) {
	var p SchedulePayload
	if e.Type != TypeScheduled {
		return p, fmt.Errorf("not a scheduled event: %s", e.Type)
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, err
	}
	return p, nil
}
