package change

// Summary aggregates a change list
type Summary struct {
	Total       int              `json:"total"`
	ByType      map[Type]int     `json:"by_type"`
	ByCategory  map[Category]int `json:"by_category"`
	ImpactScore int              `json:"impact_score"`
}

// Impact weights per category; technical changes carry no weight
var impactWeights = map[Category]int{
	CategoryCritical: 30,
	CategoryMajor:    20,
	CategoryMinor:    10,
	CategoryCosmetic: 5,
}

const maxImpactScore = 100

// Summarize counts changes per type and category and scores their impact
func Summarize(changes []Change) Summary {
	s := Summary{
		Total:      len(changes),
		ByType:     make(map[Type]int),
		ByCategory: make(map[Category]int),
	}

	score := 0
	for _, c := range changes {
		s.ByType[c.Type]++
		s.ByCategory[c.Category]++
		score += impactWeights[c.Category]
	}
	s.ImpactScore = min(maxImpactScore, score)

	return s
}

// Has reports whether any change falls in the category
func Has(changes []Change, cat Category) bool {
	for _, c := range changes {
		if c.Category == cat {
			return true
		}
	}
	return false
}
