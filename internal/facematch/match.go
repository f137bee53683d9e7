package facematch

import (
	"fmt"
	"sort"
	"time"
)

// Matcher decides accept/reject for candidate descriptors.
type Matcher struct {
	threshold float64
	now       func() time.Time
}

// NewMatcher creates a matcher accepting scores at or above threshold.
// A non-positive threshold falls back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold, now: time.Now}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Verify compares a candidate against the descriptors enrolled for one identity
// (1:1 verification). The best score across the enrolled descriptors is used.
func (m *Matcher) Verify(identityID string, candidate Descriptor, enrolled []Descriptor) (MatchResult, error) {
	result := MatchResult{Timestamp: m.now()}
	if len(enrolled) == 0 {
		result.Reason = ReasonNotEnrolled
		return result, nil
	}

	best, err := bestScore(candidate, enrolled)
	if err != nil {
		return result, err
	}

	result.Score = best
	if best >= m.threshold {
		result.IdentityID = identityID
		result.Accepted = true
		result.Reason = ReasonAccepted
	} else {
		result.Reason = ReasonBelowThreshold
	}
	return result, nil
}

// Identify searches every enrolled identity for the best match (1:N identification).
// Equal scores are resolved in favour of the lexicographically smallest identity ID.
func (m *Matcher) Identify(candidate Descriptor, enrolled map[string][]Descriptor) (MatchResult, error) {
	result := MatchResult{Timestamp: m.now()}

	ids := make([]string, 0, len(enrolled))
	for id, descriptors := range enrolled {
		if len(descriptors) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		result.Reason = ReasonNotEnrolled
		return result, nil
	}
	sort.Strings(ids)

	bestID := ""
	best := -1.0
	for _, id := range ids {
		score, err := bestScore(candidate, enrolled[id])
		if err != nil {
			return result, fmt.Errorf("scoring identity %s: %w", id, err)
		}
		if score > best {
			best = score
			bestID = id
		}
	}

	result.Score = best
	if best >= m.threshold {
		result.IdentityID = bestID
		result.Accepted = true
		result.Reason = ReasonAccepted
	} else {
		result.Reason = ReasonBelowThreshold
	}
	return result, nil
}

// bestScore returns the maximum score of candidate against descriptors.
func bestScore(candidate Descriptor, descriptors []Descriptor) (float64, error) {
	best := 0.0
	for _, d := range descriptors {
		score, err := Score(candidate, d)
		if err != nil {
			return 0, err
		}
		if score > best {
			best = score
		}
	}
	return best, nil
}
