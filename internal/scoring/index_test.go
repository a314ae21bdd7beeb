package scoring

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/athlete-monitor/internal/model"
)

func item(kind model.SourceKind, origin string, sentiment float64, scored bool) model.ClassifiedItem {
	return model.ClassifiedItem{
		RawItem: model.RawItem{Kind: kind, Origin: origin},
		Classification: model.Classification{
			Relevant:  true,
			Sentiment: sentiment,
			Label:     model.LabelFor(sentiment),
			Scored:    scored,
		},
	}
}

func TestCompute_WorkedExample(t *testing.T) {
	// 100 items, nothing scored: volume saturates, sentiment and engagement
	// fall back to the neutral prior, no negatives.
	items := make([]model.ClassifiedItem, 100)
	for i := range items {
		items[i] = item(model.KindPress, "marca.com", 0, false)
	}

	idx := NewEngine(DefaultWeights(), nil).Compute(items)

	assert.Equal(t, 67.5, idx.Score)
	assert.Equal(t, 100.0, idx.Components[ComponentVolume])
	assert.Equal(t, 50.0, idx.Components[ComponentPress])
	assert.Equal(t, 50.0, idx.Components[ComponentSocial])
	assert.Equal(t, 50.0, idx.Components[ComponentEngagement])
	assert.Equal(t, 100.0, idx.Components[ComponentNoControversy])
	assert.Equal(t, 100, idx.TotalItems)
	assert.Zero(t, idx.NegRatio)
}

func TestCompute_Empty(t *testing.T) {
	idx := NewEngine(DefaultWeights(), nil).Compute(nil)
	// volume 0, others at prior/100: 0 + 12.5 + 12.5 + 7.5 + 15
	assert.Equal(t, 47.5, idx.Score)
	assert.Zero(t, idx.Components[ComponentVolume])
}

func TestCompute_CredibilityWeightsSentiment(t *testing.T) {
	items := []model.ClassifiedItem{
		item(model.KindPress, "elpais.com", 1, true),    // weight 9
		item(model.KindPress, "fichajes.net", -1, true), // weight 3
	}
	idx := NewEngine(DefaultWeights(), nil).Compute(items)

	// weighted mean (9-3)/12 = 0.5 -> 75
	assert.Equal(t, 75.0, idx.Components[ComponentPress])
	// negative weight 3 of 12 -> ratio .25 -> 100-50
	assert.Equal(t, 50.0, idx.Components[ComponentNoControversy])
	assert.Equal(t, 0.25, idx.NegRatio)
}

func TestCompute_ControversyFloorsAtZero(t *testing.T) {
	items := []model.ClassifiedItem{
		item(model.KindSocial, "reddit", -0.9, true),
		item(model.KindSocial, "reddit", -0.9, true),
		item(model.KindSocial, "reddit", 0.1, true),
	}
	idx := NewEngine(DefaultWeights(), nil).Compute(items)
	assert.Zero(t, idx.Components[ComponentNoControversy])
}

func TestCompute_Engagement(t *testing.T) {
	post := func(rate float64) model.ClassifiedItem {
		it := item(model.KindSubjectPost, "instagram", 0, true)
		it.EngagementRate = rate
		return it
	}

	idx := NewEngine(DefaultWeights(), nil).Compute([]model.ClassifiedItem{post(0.02), post(0.03)})
	assert.Equal(t, 50.0, idx.Components[ComponentEngagement])

	idx = NewEngine(DefaultWeights(), nil).Compute([]model.ClassifiedItem{post(0.2)})
	assert.Equal(t, 100.0, idx.Components[ComponentEngagement])

	// Posts do not count toward volume.
	assert.Zero(t, idx.TotalItems)
}

func TestCompute_EngagementAveragesZeroRatePosts(t *testing.T) {
	post := func(rate float64) model.ClassifiedItem {
		it := item(model.KindSubjectPost, "instagram", 0, true)
		it.EngagementRate = rate
		return it
	}

	idx := NewEngine(DefaultWeights(), nil).Compute([]model.ClassifiedItem{post(0), post(0.05)})
	assert.Equal(t, 50.0, idx.Components[ComponentEngagement])

	idx = NewEngine(DefaultWeights(), nil).Compute([]model.ClassifiedItem{post(0), post(0)})
	assert.Zero(t, idx.Components[ComponentEngagement])
}

func TestCompute_IgnoresIrrelevant(t *testing.T) {
	it := item(model.KindPress, "marca.com", -1, true)
	it.Relevant = false
	idx := NewEngine(DefaultWeights(), nil).Compute([]model.ClassifiedItem{it})
	assert.Zero(t, idx.TotalItems)
	assert.Equal(t, 50.0, idx.Components[ComponentPress])
}

func TestCompute_Bounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	kinds := model.SourceKinds
	origins := []string{"marca.com", "reddit", "unknown.blog", ""}

	for round := range 200 {
		n := r.IntN(300)
		items := make([]model.ClassifiedItem, n)
		for i := range items {
			it := item(kinds[r.IntN(len(kinds))], origins[r.IntN(len(origins))], r.Float64()*2-1, r.IntN(4) > 0)
			it.EngagementRate = r.Float64() * 0.5
			items[i] = it
		}
		w := Weights{Volume: r.Float64(), Press: r.Float64(), Social: r.Float64(), Engagement: r.Float64(), NoControversy: r.Float64()}

		idx := NewEngine(w, nil).Compute(items)
		require.GreaterOrEqual(t, idx.Score, 0.0, fmt.Sprint(round))
		require.LessOrEqual(t, idx.Score, 100.0, fmt.Sprint(round))
		require.Len(t, idx.Components, 5)
		for k, v := range idx.Components {
			require.GreaterOrEqual(t, v, 0.0, k)
			require.LessOrEqual(t, v, 100.0, k)
		}
	}
}

func TestWeights_Normalized(t *testing.T) {
	w := Weights{Volume: 2, Press: 2, Social: 2, Engagement: 2, NoControversy: 2}.Normalized()
	assert.InDelta(t, 0.2, w.Volume, 1e-9)
	assert.InDelta(t, 1.0, w.sum(), 1e-9)

	assert.Equal(t, DefaultWeights(), Weights{}.Normalized())
	assert.Equal(t, DefaultWeights(), DefaultWeights().Normalized())
}

func TestWeightsFromMap(t *testing.T) {
	w := WeightsFromMap(map[string]float64{"volume": 0.5, "press": -1})
	assert.Equal(t, 0.5, w.Volume)
	assert.Zero(t, w.Press)
	assert.Equal(t, 0.25, w.Social)
}

func TestWeights_CustomChangesScore(t *testing.T) {
	items := []model.ClassifiedItem{item(model.KindPress, "marca.com", 1, true)}
	onlyPress := NewEngine(Weights{Press: 1}, nil).Compute(items)
	assert.Equal(t, 100.0, onlyPress.Score)
}
