// Package credibility scores statement sources by the channel they came from.
package credibility

import "fmt"

// Channel is the category of source a statement was taken from.
type Channel string

const (
	ChannelSocialPost     Channel = "social_post"
	ChannelNews           Channel = "news"
	ChannelOfficialRecord Channel = "official_record"
	ChannelInterview      Channel = "interview"
)

// DefaultScore is used for channels missing from a table.
const DefaultScore = 5

// Channels lists every known channel.
var Channels = []Channel{
	ChannelSocialPost,
	ChannelNews,
	ChannelOfficialRecord,
	ChannelInterview,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannel converts a string into a known Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown source channel %q", s)
	}
	return c, nil
}

// Table maps channels to a credibility score between 1 and 10.
type Table map[Channel]int

// DefaultTable returns the standard scores.
func DefaultTable() Table {
	return Table{
		ChannelOfficialRecord: 10,
		ChannelInterview:      8,
		ChannelNews:           7,
		ChannelSocialPost:     6,
	}
}

// Score returns the score for c, or DefaultScore when c is not in the table.
func (t Table) Score(c Channel) int {
	if score, ok := t[c]; ok {
		return score
	}
	return DefaultScore
}

// Validate checks every score is within 1..10.
func (t Table) Validate() error {
	for c, score := range t {
		if score < 1 || score > 10 {
			return fmt.Errorf("credibility score for %s must be between 1 and 10, got %d", c, score)
		}
	}
	return nil
}
