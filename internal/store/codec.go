package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// itemRow flattens an item into itemColumns order. JSON columns are passed
// as strings so both drivers accept them.
// prepareItem fills the identity fields a stored item carries.
func prepareItem(subjectID string, it model.ClassifiedItem) model.ClassifiedItem {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.Hash == "" {
		it.Hash = it.ContentHash()
	}
	if it.ScannedAt.IsZero() {
		it.ScannedAt = time.Now().UTC()
	}
	it.SubjectID = subjectID
	return it
}

func itemRow(subjectID string, it model.ClassifiedItem) ([]any, error) {
	it = prepareItem(subjectID, it)
	topics := it.Topics
	if topics == nil {
		topics = []model.Topic{}
	}
	brands := it.Brands
	if brands == nil {
		brands = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal topics")
	}
	brandsJSON, err := json.Marshal(brands)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal brands")
	}
	label := it.Label
	if label == "" {
		label = model.LabelFor(it.Sentiment)
	}

	return []any{
		it.ID, subjectID, string(it.Kind), it.Origin, it.Author, it.Title, it.Text, it.URL, it.Hash,
		it.Likes, it.Shares, it.Comments, it.Views, it.Followers, it.ComputeEngagement(),
		it.PublishedAt, it.ScannedAt.UTC(),
		it.Relevant, it.Sentiment, string(label), string(topicsJSON), string(brandsJSON), it.Scored,
	}, nil
}

func unmarshalTags(it *model.ClassifiedItem, topics, brands []byte) error {
	if err := json.Unmarshal(topics, &it.Topics); err != nil {
		return eris.Wrap(err, "store: unmarshal topics")
	}
	if err := json.Unmarshal(brands, &it.Brands); err != nil {
		return eris.Wrap(err, "store: unmarshal brands")
	}
	return nil
}

func marshalSubjectMaps(s *model.Subject) (string, string, error) {
	handles := s.Handles
	if handles == nil {
		handles = map[model.Platform]string{}
	}
	profile := s.Profile
	if profile == nil {
		profile = map[string]string{}
	}
	h, err := json.Marshal(handles)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal handles")
	}
	p, err := json.Marshal(profile)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal profile")
	}
	return string(h), string(p), nil
}

func unmarshalSubjectMaps(s *model.Subject, handles, profile []byte) error {
	if err := json.Unmarshal(handles, &s.Handles); err != nil {
		return eris.Wrap(err, "store: unmarshal handles")
	}
	if err := json.Unmarshal(profile, &s.Profile); err != nil {
		return eris.Wrap(err, "store: unmarshal profile")
	}
	return nil
}

func prepareReport(r *model.ScanReport) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Topics == nil {
		r.Topics = []model.TagCount{}
	}
	if r.Brands == nil {
		r.Brands = []model.TagCount{}
	}
}

// marshalReport returns topics, brands, current summary, delta and image
// index as JSON, in that order.
func marshalReport(r *model.ScanReport) ([5][]byte, error) {
	var out [5][]byte
	for i, v := range []any{r.Topics, r.Brands, r.Current, r.Delta, r.ImageIndex} {
		b, err := json.Marshal(v)
		if err != nil {
			return out, eris.Wrap(err, "store: marshal report")
		}
		out[i] = b
	}
	return out, nil
}

func unmarshalReport(r *model.ScanReport, topics, brands, current, delta, index []byte) error {
	targets := []struct {
		raw []byte
		dst any
	}{
		{topics, &r.Topics},
		{brands, &r.Brands},
		{current, &r.Current},
		{delta, &r.Delta},
		{index, &r.ImageIndex},
	}
	for _, t := range targets {
		if err := json.Unmarshal(t.raw, t.dst); err != nil {
			return eris.Wrap(err, "store: unmarshal report")
		}
	}
	return nil
}

func prepareIntelligence(r *model.IntelligenceReport) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.EarlySignals == nil {
		r.EarlySignals = []model.EarlySignal{}
	}
	for i := range r.Narratives {
		if r.Narratives[i].ID == "" {
			r.Narratives[i].ID = uuid.New().String()
		}
		r.Narratives[i].ReportID = r.ID
	}
}

func marshalNarrativeLists(n *model.Narrative) ([]byte, []byte, error) {
	refs := n.ItemRefs
	if refs == nil {
		refs = []int{}
	}
	sources := n.Sources
	if sources == nil {
		sources = []string{}
	}
	r, err := json.Marshal(refs)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal item refs")
	}
	s, err := json.Marshal(sources)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal sources")
	}
	return r, s, nil
}

func unmarshalNarrativeLists(n *model.Narrative, refs, sources []byte) error {
	if err := json.Unmarshal(refs, &n.ItemRefs); err != nil {
		return eris.Wrap(err, "store: unmarshal item refs")
	}
	if err := json.Unmarshal(sources, &n.Sources); err != nil {
		return eris.Wrap(err, "store: unmarshal sources")
	}
	return nil
}

func prepareWeekly(r *model.WeeklyReport) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Recommendation == "" {
		r.Recommendation = model.RecommendMonitor
	}
}

func marshalWeeklyLists(r *model.WeeklyReport) ([]byte, []byte, error) {
	risks := r.Risks
	if risks == nil {
		risks = []string{}
	}
	opps := r.Opportunities
	if opps == nil {
		opps = []string{}
	}
	a, err := json.Marshal(risks)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal risks")
	}
	b, err := json.Marshal(opps)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal opportunities")
	}
	return a, b, nil
}

func unmarshalWeeklyLists(r *model.WeeklyReport, risks, opps []byte) error {
	if err := json.Unmarshal(risks, &r.Risks); err != nil {
		return eris.Wrap(err, "store: unmarshal risks")
	}
	if err := json.Unmarshal(opps, &r.Opportunities); err != nil {
		return eris.Wrap(err, "store: unmarshal opportunities")
	}
	return nil
}

func prepareAlert(a *model.Alert) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Evidence == nil {
		a.Evidence = map[string]any{}
	}
}
