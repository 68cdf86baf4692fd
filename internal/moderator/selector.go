// Package moderator chooses the single council member that acts as final
// arbiter during meta-synthesis.
package moderator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"conclave/internal/council"
	"conclave/internal/logging"
)

// Policy names a moderator selection policy.
type Policy string

const (
	// PolicyDesignated returns the member with a caller-supplied ID.
	PolicyDesignated Policy = "designated"
	// PolicyStrongest scores members against a model ranking table.
	PolicyStrongest Policy = "strongest"
	// PolicyRotating returns members in round-robin order.
	PolicyRotating Policy = "rotating"
)

var (
	// ErrNoMembers is returned when selection runs over an empty member list.
	ErrNoMembers = errors.New("no members available")
	// ErrNotFound is returned when a designated moderator ID is absent.
	ErrNotFound = errors.New("moderator not found")
)

// defaultRankScore is used for models absent from the ranking table.
const defaultRankScore = 50.0

// DefaultRankings orders common model families by capability. Longer, more
// specific names take precedence over shorter prefixes during substring
// matching.
var DefaultRankings = map[string]float64{
	"claude-opus":   95,
	"claude-sonnet": 88,
	"claude-haiku":  75,
	"gpt-5":         94,
	"gpt-4o":        86,
	"gpt-4o-mini":   74,
	"gemini-pro":    85,
	"gemini-flash":  72,
	"llama-3-70b":   78,
	"llama-3-8b":    62,
	"mistral-large": 80,
	"deepseek-r1":   84,
}

// Selector implements the three moderator policies. The rotation counter is
// serialized through a mutex so N concurrent selections receive N distinct,
// sequential indices.
type Selector struct {
	rankings map[string]float64

	mu      sync.Mutex
	nextIdx uint64
}

// NewSelector creates a selector. A nil rankings map uses DefaultRankings.
func NewSelector(rankings map[string]float64) *Selector {
	if rankings == nil {
		rankings = DefaultRankings
	}
	return &Selector{rankings: rankings}
}

// Select picks a moderator from members according to policy. designatedID is
// consulted only by PolicyDesignated. Selection is total over non-empty
// member lists; an empty list is an error under every policy.
func (s *Selector) Select(policy Policy, members []council.Member, designatedID string) (council.Member, error) {
	if len(members) == 0 {
		return council.Member{}, ErrNoMembers
	}

	switch policy {
	case PolicyDesignated:
		return s.selectDesignated(members, designatedID)
	case PolicyStrongest:
		return s.selectStrongest(members), nil
	case PolicyRotating:
		return s.selectRotating(members), nil
	default:
		return council.Member{}, fmt.Errorf("unknown moderator policy %q", policy)
	}
}

func (s *Selector) selectDesignated(members []council.Member, id string) (council.Member, error) {
	for _, m := range members {
		if m.ID == id {
			return m, nil
		}
	}
	return council.Member{}, fmt.Errorf("designated moderator %q: %w", id, ErrNotFound)
}

// selectStrongest returns the strict maximum by ranking score; the first
// member encountered wins ties.
func (s *Selector) selectStrongest(members []council.Member) council.Member {
	best := members[0]
	bestScore := s.scoreModel(members[0].Model)
	for _, m := range members[1:] {
		if score := s.scoreModel(m.Model); score > bestScore {
			best, bestScore = m, score
		}
	}
	logging.Moderator("strongest policy selected %s (model=%s, score=%.0f)", best.ID, best.Model, bestScore)
	return best
}

// scoreModel looks up a model in the ranking table: exact match first, then
// the longest matching substring so a more specific name beats a shorter
// prefix, else the default score.
func (s *Selector) scoreModel(model string) float64 {
	if score, ok := s.rankings[model]; ok {
		return score
	}
	bestLen := 0
	score := defaultRankScore
	for name, rank := range s.rankings {
		if strings.Contains(model, name) && len(name) > bestLen {
			bestLen = len(name)
			score = rank
		}
	}
	return score
}

// selectRotating hands out members round-robin. The index assignment is
// serialized: a concurrent caller cannot read the counter until the previous
// caller has both read and incremented it.
func (s *Selector) selectRotating(members []council.Member) council.Member {
	s.mu.Lock()
	idx := s.nextIdx
	s.nextIdx++
	s.mu.Unlock()
	return members[idx%uint64(len(members))]
}
