package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// SourceKind groups items by where they come from.
type SourceKind string

const (
	KindPress       SourceKind = "press"
	KindSocial      SourceKind = "social"
	KindSubjectPost SourceKind = "subject_post"
)

// SourceKinds lists every kind in classification order.
var SourceKinds = []SourceKind{KindPress, KindSocial, KindSubjectPost}

// SentimentLabel is the coarse sentiment bucket of an item.
type SentimentLabel string

const (
	LabelPositive SentimentLabel = "positive"
	LabelNeutral  SentimentLabel = "neutral"
	LabelNegative SentimentLabel = "negative"
)

// Topic is a tag from the closed topic vocabulary.
type Topic string

const (
	TopicTransfer     Topic = "transfer"
	TopicPerformance  Topic = "performance"
	TopicInjury       Topic = "injury"
	TopicPersonalLife Topic = "personal_life"
	TopicControversy  Topic = "controversy"
	TopicSponsors     Topic = "sponsors"
	TopicFans         Topic = "fans"
	TopicCoach        Topic = "coach"
	TopicNationalTeam Topic = "national_team"
	TopicTactics      Topic = "tactics"
	TopicAcademy      Topic = "academy"
	TopicFinances     Topic = "finances"
	TopicOther        Topic = "other"
)

// Topics is the closed topic vocabulary.
var Topics = []Topic{
	TopicTransfer, TopicPerformance, TopicInjury, TopicPersonalLife, TopicControversy,
	TopicSponsors, TopicFans, TopicCoach, TopicNationalTeam, TopicTactics, TopicAcademy,
	TopicFinances, TopicOther,
}

// topicAliases maps Spanish labels still emitted by older prompts and
// stored rows onto the vocabulary.
var topicAliases = map[string]Topic{
	"fichaje":       TopicTransfer,
	"rendimiento":   TopicPerformance,
	"lesion":        TopicInjury,
	"lesión":        TopicInjury,
	"vida_personal": TopicPersonalLife,
	"polemica":      TopicControversy,
	"polémica":      TopicControversy,
	"aficion":       TopicFans,
	"afición":       TopicFans,
	"entrenador":    TopicCoach,
	"seleccion":     TopicNationalTeam,
	"selección":     TopicNationalTeam,
	"tactica":       TopicTactics,
	"táctica":       TopicTactics,
	"cantera":       TopicAcademy,
	"economia":      TopicFinances,
	"economía":      TopicFinances,
	"otro":          TopicOther,
}

// ParseTopic maps a raw tag onto the vocabulary. ok is false for unknown tags.
func ParseTopic(raw string) (Topic, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, t := range Topics {
		if string(t) == s {
			return t, true
		}
	}
	t, ok := topicAliases[s]
	return t, ok
}

// ParseLabel maps a raw sentiment label onto the three buckets. ok is false
// when the label is not recognized.
func ParseLabel(raw string) (SentimentLabel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "positive", "positivo":
		return LabelPositive, true
	case "neutral", "neutro":
		return LabelNeutral, true
	case "negative", "negativo":
		return LabelNegative, true
	}
	return LabelNeutral, false
}

// LabelFor buckets a sentiment score.
func LabelFor(sentiment float64) SentimentLabel {
	switch {
	case sentiment >= 0.2:
		return LabelPositive
	case sentiment <= -0.2:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// RawItem is one unit of content fetched from a source adapter.
type RawItem struct {
	Kind           SourceKind `json:"kind"`
	Origin         string     `json:"origin"`
	Author         string     `json:"author,omitempty"`
	Title          string     `json:"title,omitempty"`
	Text           string     `json:"text,omitempty"`
	URL            string     `json:"url,omitempty"`
	Likes          int64      `json:"likes,omitempty"`
	Shares         int64      `json:"shares,omitempty"`
	Comments       int64      `json:"comments,omitempty"`
	Views          int64      `json:"views,omitempty"`
	Followers      int64      `json:"followers,omitempty"`
	EngagementRate float64    `json:"engagement_rate,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

const hashPrefixRunes = 200

// Body returns the text used for hashing and digests: text when present,
// otherwise the title.
func (r RawItem) Body() string {
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	return r.Title
}

// ContentHash is the fallback dedup key: sha256 of kind, author and the
// first 200 characters of the body.
func (r RawItem) ContentHash() string {
	body := strings.TrimSpace(r.Body())
	if utf8.RuneCountInString(body) > hashPrefixRunes {
		body = string([]rune(body)[:hashPrefixRunes])
	}
	sum := sha256.Sum256([]byte(string(r.Kind) + ":" + r.Author + ":" + body))
	return hex.EncodeToString(sum[:])
}

// ComputeEngagement derives the engagement rate from raw counters when the
// source did not supply one: interactions over views, else over followers.
func (r RawItem) ComputeEngagement() float64 {
	if r.EngagementRate > 0 {
		return r.EngagementRate
	}
	if r.Views > 0 {
		return float64(r.Likes+r.Shares+r.Comments) / float64(r.Views)
	}
	if r.Followers > 0 {
		return float64(r.Likes+r.Comments) / float64(r.Followers)
	}
	return 0
}

// Classification is the per-item result of the classification gateway.
// Scored is false for the default variant applied when the classifier
// failed or skipped the item.
type Classification struct {
	Relevant  bool           `json:"relevant"`
	Sentiment float64        `json:"sentiment"`
	Label     SentimentLabel `json:"sentiment_label"`
	Topics    []Topic        `json:"topics"`
	Brands    []string       `json:"brands"`
	Scored    bool           `json:"scored"`
}

// DefaultClassification is the unscored neutral variant. The item is kept.
func DefaultClassification() Classification {
	return Classification{
		Relevant:  true,
		Sentiment: 0,
		Label:     LabelNeutral,
		Topics:    []Topic{},
		Brands:    []string{},
	}
}

// Normalize enforces the classification invariants: sentiment clamped to
// [-1,1], label consistent with a known bucket, and irrelevant items
// carrying zero sentiment with no topics or brands.
func (c Classification) Normalize() Classification {
	if c.Sentiment > 1 {
		c.Sentiment = 1
	}
	if c.Sentiment < -1 {
		c.Sentiment = -1
	}
	if c.Label == "" {
		c.Label = LabelFor(c.Sentiment)
	}
	if c.Topics == nil {
		c.Topics = []Topic{}
	}
	if c.Brands == nil {
		c.Brands = []string{}
	}
	if !c.Relevant {
		c.Sentiment = 0
		c.Label = LabelNeutral
		c.Topics = []Topic{}
		c.Brands = []string{}
	}
	return c
}

// HasTopic reports whether the classification carries the topic.
func (c Classification) HasTopic(t Topic) bool {
	for _, x := range c.Topics {
		if x == t {
			return true
		}
	}
	return false
}

// ClassifiedItem is a raw item with its classification.
type ClassifiedItem struct {
	RawItem
	Classification
	ID        string    `json:"id,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Hash      string    `json:"content_hash,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// IsNegative reports whether the item landed in the negative bucket.
func (ci ClassifiedItem) IsNegative() bool {
	return ci.Label == LabelNegative
}

// Timestamp returns the publication time, falling back to the scan time.
func (ci ClassifiedItem) Timestamp() time.Time {
	if ci.PublishedAt != nil {
		return *ci.PublishedAt
	}
	return ci.ScannedAt
}
