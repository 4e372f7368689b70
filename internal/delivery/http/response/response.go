package response

import (
	"time"

	"github.com/user/affiliate-ingest/internal/entity"
)

// SourceResponse summarizes a registered source.
type SourceResponse struct {
	ID       string   `json:"id"`
	EntryURL string   `json:"entry_url"`
	Schedule string   `json:"schedule,omitempty"`
	Encoding string   `json:"encoding"`
	Timezone string   `json:"timezone"`
	Table    string   `json:"table"`
	Policy   string   `json:"policy"`
	Key      []string `json:"key,omitempty"`
	Steps    int      `json:"steps"`
	Fields   int      `json:"fields"`
}

func NewSourceResponse(src *entity.Source) SourceResponse {
	return SourceResponse{
		ID:       src.ID,
		EntryURL: src.EntryURL,
		Schedule: src.Schedule,
		Encoding: string(src.Encoding),
		Timezone: src.Zone().String(),
		Table:    src.Persist.Table,
		Policy:   string(src.Persist.Policy),
		Key:      src.Persist.Key,
		Steps:    len(src.Steps),
		Fields:   len(src.Fields),
	}
}

// IngestResponse carries the results of a synchronous trigger.
type IngestResponse struct {
	Results []entity.IngestionResult `json:"results"`
}

// AcceptedResponse is returned when a trigger runs in the background.
type AcceptedResponse struct {
	Message  string    `json:"message"`
	Sources  []string  `json:"sources"`
	Accepted time.Time `json:"accepted_at"`
}

// ResultsResponse lists the most recent results of one source, newest first.
type ResultsResponse struct {
	SourceID string                   `json:"source_id"`
	Results  []entity.IngestionResult `json:"results"`
}
