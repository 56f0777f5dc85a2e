package models

import "time"

// Observation is one weekly incidence count for a disease code.
type Observation struct {
	Date        time.Time `json:"date"`
	DiseaseCode string    `json:"disease_code"`
	Count       float64   `json:"count"`
}

// Series is an ascending-by-date run of observations for one disease code.
// The store guarantees one row per date; gaps are not validated here.
type Series struct {
	DiseaseCode string
	Points      []Observation
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Points) }

// Empty reports whether the series has no observations.
func (s Series) Empty() bool { return len(s.Points) == 0 }

// Values returns the counts in date order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Count
	}
	return out
}

// LastDate returns the most recent observation date (zero time when empty).
func (s Series) LastDate() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// SplitAt partitions the series into points with date < cutoff and points with date >= cutoff
// when inclusive is false, or date <= cutoff and date > cutoff when inclusive is true.
func (s Series) SplitAt(cutoff time.Time, inclusive bool) (head, tail Series) {
	head.DiseaseCode, tail.DiseaseCode = s.DiseaseCode, s.DiseaseCode
	for _, p := range s.Points {
		inHead := p.Date.Before(cutoff)
		if inclusive {
			inHead = !p.Date.After(cutoff)
		}
		if inHead {
			head.Points = append(head.Points, p)
		} else {
			tail.Points = append(tail.Points, p)
		}
	}
	return head, tail
}

// SplitLast keeps the last n observations in tail and everything before in head.
func (s Series) SplitLast(n int) (head, tail Series) {
	head.DiseaseCode, tail.DiseaseCode = s.DiseaseCode, s.DiseaseCode
	if n <= 0 {
		head.Points = s.Points
		return head, tail
	}
	if n >= len(s.Points) {
		tail.Points = s.Points
		return head, tail
	}
	cut := len(s.Points) - n
	head.Points = s.Points[:cut]
	tail.Points = s.Points[cut:]
	return head, tail
}
