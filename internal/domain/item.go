package domain

import "time"

// Item is one candidate returned by the metadata provider. Only its ID outlives a pass.
type Item struct {
	ID          string
	Title       string
	Description string
	// Length in seconds; nil when the provider did not report one.
	Length      *int
	URL         string
	ChannelName string
}

// Preset is a named, reusable URL rewrite rule.
type Preset struct {
	Name        string    `json:"name"`
	Pattern     string    `json:"pattern"`
	Replacement string    `json:"replacement"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NotifiedSet is the per-channel history of dispatched item IDs.
//
// HasRun is persisted explicitly: an empty Items map does not mean the channel never ran.
type NotifiedSet struct {
	ChannelID string               `json:"channel_id"`
	HasRun    bool                 `json:"has_run"`
	LastRunAt time.Time            `json:"last_run_at,omitempty"`
	Items     map[string]time.Time `json:"items,omitempty"`
}

// Add records itemID as notified at.
func (s *NotifiedSet) Add(itemID string, at time.Time) {
	if s.Items == nil {
		s.Items = make(map[string]time.Time)
	}
	s.Items[itemID] = at
}

func (s NotifiedSet) Contains(itemID string) bool {
	if s.Items == nil {
		return false
	}
	_, ok := s.Items[itemID]
	return ok
}
