package retrieval

import "sort"

// Recommendation is a campaign with its combined engagement score.
type Recommendation struct {
	CampaignID      string `json:"campaign_id"`
	EngagementScore int64  `json:"engagement_score"`
}

// Merge adds scores per campaign across sources and sorts by score
// descending, breaking ties by campaign id ascending. The result does not
// depend on the order of sources or of entries within them.
func Merge(sources ...[]Recommendation) []Recommendation {
	totals := make(map[string]int64)
	for _, src := range sources {
		for _, r := range src {
			totals[r.CampaignID] += r.EngagementScore
		}
	}

	out := make([]Recommendation, 0, len(totals))
	for id, score := range totals {
		out = append(out, Recommendation{CampaignID: id, EngagementScore: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EngagementScore != out[j].EngagementScore {
			return out[i].EngagementScore > out[j].EngagementScore
		}
		return out[i].CampaignID < out[j].CampaignID
	})
	return out
}

// Centroid returns the element-wise mean of vecs. Vectors whose length
// differs from the first are skipped. It returns nil for no input.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vecs {
		if len(v) != dim {
			continue
		}
		for i, f := range v {
			sum[i] += float64(f)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}
