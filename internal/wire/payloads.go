package wire

// FanSummary is one entry of the bounded fan preview inside an audience
// result. last_purchase_date is YYYY-MM-DD.
type FanSummary struct {
	ID               string  `json:"id,omitempty"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name,omitempty"`
	City             string  `json:"city"`
	State            string  `json:"state,omitempty"`
	LastPurchaseDate string  `json:"last_purchase_date"`
	TotalSpent       float64 `json:"total_spent,omitempty"`
}

// AudiencePayload is the data field of an audience_result event.
// Invariant: len(Fans) <= Count.
type AudiencePayload struct {
	Count     int          `json:"count"`
	SegmentID string       `json:"segment_id"`
	AvgSpent  float64      `json:"avg_spent"`
	OpenRate  float64      `json:"open_rate"`
	Fans      []FanSummary `json:"fans"`
}

type EmailDraft struct {
	Subject     string `json:"subject"`
	PreviewText string `json:"preview_text"`
	Body        string `json:"body"`
}

type SMSDraft struct {
	Body string `json:"body"`
}

// SMSBudgetChars is the conventional SMS length budget. Advisory only; the
// core never rejects longer bodies.
const SMSBudgetChars = 160

// CampaignDraftPayload is the data field of a campaign_draft event.
type CampaignDraftPayload struct {
	Email EmailDraft `json:"email"`
	SMS   SMSDraft   `json:"sms"`
}

// SchedulePayload is the data field of a scheduled event.
type SchedulePayload struct {
	CampaignID   string `json:"campaign_id"`
	SegmentID    string `json:"segment_id"`
	EventName    string `json:"event_name"`
	AudienceSize int    `json:"audience_size"`
	SendAt       string `json:"send_at"`
	Status       string `json:"status"`
}
