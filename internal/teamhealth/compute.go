package teamhealth

import (
	"fmt"
	"math"
	"time"

	"vizdots/api/internal/answers"
)

// ResolveWindow returns the window ending at midnight of ref's day (in ref's
// location) and reaching back one week, month or quarter.
func ResolveWindow(windowType WindowType, ref time.Time) (Window, error) {
	end := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	var start time.Time
	switch windowType {
	case WindowWeek:
		start = end.AddDate(0, 0, -7)
	case WindowMonth:
		start = end.AddDate(0, -1, 0)
	case WindowQuarter:
		start = end.AddDate(0, -3, 0)
	default:
		return Window{}, fmt.Errorf("unknown window type %q", windowType)
	}
	return Window{Type: windowType, Start: start, End: end}, nil
}

// Round2 rounds half-up to two decimal places.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// RescaleRatings maps the mean of the valid 1-5 ratings onto 0-100. Invalid
// entries are excluded; nil is returned when nothing valid remains.
func RescaleRatings(ratings []float64) *float64 {
	var sum float64
	var count int
	for _, r := range ratings {
		if math.IsNaN(r) || !answers.ValidRating(r) {
			continue
		}
		sum += r
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	score := Round2((avg - answers.MinRating) / (answers.MaxRating - answers.MinRating) * 100)
	return &score
}

// BurnoutRiskScore weights high as 100, medium as 50 and low as 0.
func BurnoutRiskScore(levels []answers.BurnoutLevel) *float64 {
	var high, medium, total int
	for _, level := range levels {
		switch level {
		case answers.BurnoutHigh:
			high++
		case answers.BurnoutMedium:
			medium++
		case answers.BurnoutLow:
		default:
			continue
		}
		total++
	}
	if total == 0 {
		return nil
	}
	score := Round2(float64(100*high+50*medium) / float64(total))
	return &score
}

func ParticipationRate(totalMembers, activeMembers int) *float64 {
	if totalMembers <= 0 {
		return nil
	}
	rate := Round2(float64(activeMembers) / float64(totalMembers) * 100)
	return &rate
}

// FrictionIndex is never null: no classified variants means no friction observed.
func FrictionIndex(allowed, friction int) float64 {
	classified := allowed + friction
	if classified == 0 {
		return 0
	}
	return Round2(float64(friction) / float64(classified) * 100)
}

// DeriveRiskLevel sums weighted threshold points. Null metrics add nothing.
func DeriveRiskLevel(participation, sentiment, burnout, friction *float64) RiskLevel {
	points := 0
	if participation != nil {
		switch {
		case *participation < 50:
			points += 2
		case *participation < 75:
			points++
		}
	}
	if sentiment != nil {
		switch {
		case *sentiment < 40:
			points += 2
		case *sentiment < 60:
			points++
		}
	}
	if burnout != nil {
		switch {
		case *burnout > 60:
			points += 2
		case *burnout > 30:
			points++
		}
	}
	if friction != nil {
		switch {
		case *friction > 50:
			points += 2
		case *friction > 25:
			points++
		}
	}
	switch {
	case points >= 5:
		return RiskHigh
	case points >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}
