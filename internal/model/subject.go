package model

import (
	"strings"
	"time"
)

// Platform identifies a source platform for a subject handle.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformReddit    Platform = "reddit"
	PlatformProfile   Platform = "profile" // stats/profile site URL
)

// Subject is a monitored athlete.
type Subject struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Club      string              `json:"club,omitempty"`
	Handles   map[Platform]string `json:"handles,omitempty"`
	Profile   map[string]string   `json:"profile,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Handle returns the handle for the platform, or "" when unset.
func (s Subject) Handle(p Platform) string {
	if s.Handles == nil {
		return ""
	}
	return s.Handles[p]
}

// LastName returns the final token of the subject name, used for relevance
// filtering of feed items.
func (s Subject) LastName() string {
	parts := strings.Fields(s.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// SubjectInput is what a trigger supplies to resolve or register a subject.
// Empty fields never overwrite stored values.
type SubjectInput struct {
	Name    string              `json:"name" yaml:"name"`
	Club    string              `json:"club,omitempty" yaml:"club"`
	Handles map[Platform]string `json:"handles,omitempty" yaml:"handles"`
	Profile map[string]string   `json:"profile,omitempty" yaml:"profile"`
}

// Merge applies non-empty input values onto the subject.
func (s *Subject) Merge(in SubjectInput) {
	if in.Club != "" {
		s.Club = in.Club
	}
	for p, h := range in.Handles {
		if strings.TrimSpace(h) == "" {
			continue
		}
		if s.Handles == nil {
			s.Handles = make(map[Platform]string)
		}
		s.Handles[p] = strings.TrimSpace(h)
	}
	for k, v := range in.Profile {
		if v == "" {
			continue
		}
		if s.Profile == nil {
			s.Profile = make(map[string]string)
		}
		s.Profile[k] = v
	}
}
