package models

// Feed kinds keyed by the provider endpoint that produced them. The connector
// emits these names and the resolver dispatches on them, so they double as the
// archive partition name for raw payloads.
const (
	FeedTourActivity = "GetSeniorProspectActivity_tour_activity"
	FeedMoveIn       = "GetSeniorResidentsADTEvents_movein"
	FeedLeadStatus   = "GetSeniorProspectActivity_valid_lead"
)

// RawFeeds maps feed kind -> property id -> raw payload as returned by the
// provider. Payloads are archived verbatim before any parsing happens.
type RawFeeds map[string]map[string][]byte

// Items counts the raw payloads across all feeds.
func (r RawFeeds) Items() int {
	n := 0
	for _, props := range r {
		n += len(props)
	}
	return n
}
