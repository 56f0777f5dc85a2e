package sarima

import "EpiCast/internal/domain/models"

// Grid is the discrete search space of structural orders.
type Grid struct {
	P         []int `yaml:"p" json:"p"`
	D         []int `yaml:"d" json:"d"`
	Q         []int `yaml:"q" json:"q"`
	SeasonalP []int `yaml:"seasonal_p" json:"P"`
	SeasonalD []int `yaml:"seasonal_d" json:"D"`
	SeasonalQ []int `yaml:"seasonal_q" json:"Q"`
	S         []int `yaml:"s" json:"s"`
}

// DefaultGrid is the search space used when configuration does not narrow it.
func DefaultGrid() Grid {
	return Grid{
		P:         []int{0, 1, 2},
		D:         []int{0, 1},
		Q:         []int{0, 1, 2},
		SeasonalP: []int{0, 1},
		SeasonalD: []int{0, 1},
		SeasonalQ: []int{0, 1},
		S:         []int{4, 12, 52},
	}
}

// Size is the number of candidates.
func (g Grid) Size() int {
	return len(g.P) * len(g.D) * len(g.Q) * len(g.SeasonalP) * len(g.SeasonalD) * len(g.SeasonalQ) * len(g.S)
}

// Candidates enumerates the grid outer-to-inner over (p,d,q,P,D,Q,s).
// The order is part of the selection contract: ties keep the earliest candidate.
func (g Grid) Candidates() []models.Hyperparameters {
	out := make([]models.Hyperparameters, 0, g.Size())
	for _, p := range g.P {
		for _, d := range g.D {
			for _, q := range g.Q {
				for _, sp := range g.SeasonalP {
					for _, sd := range g.SeasonalD {
						for _, sq := range g.SeasonalQ {
							for _, s := range g.S {
								out = append(out, models.Hyperparameters{
									P: p, D: d, Q: q,
									SeasonalP: sp, SeasonalD: sd, SeasonalQ: sq,
									S: s,
								})
							}
						}
					}
				}
			}
		}
	}
	return out
}
