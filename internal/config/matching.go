package config

// MatchingConfig carries the business constants of the matching engine. The
// overlap-gap slack band and the group seat cap are deliberately configuration
// rather than hardcoded invariants.
type MatchingConfig struct {
	GroupSeatCap    int     `yaml:"group_seat_cap"`
	OverlapGapSlack float64 `yaml:"overlap_gap_slack"` // meters
	SuggestionLimit int     `yaml:"suggestion_limit"`
}

func loadMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		GroupSeatCap:    getEnvAsInt("MATCHING_GROUP_SEAT_CAP", 4),
		OverlapGapSlack: getEnvAsFloat64("MATCHING_OVERLAP_GAP_SLACK", 150.0),
		SuggestionLimit: getEnvAsInt("MATCHING_SUGGESTION_LIMIT", 5),
	}
}
