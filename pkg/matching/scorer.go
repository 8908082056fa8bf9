package matching

import (
	"sort"

	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/suppression"
)

// Weights are the fixed, domain-tuned component weights. Components are
// summed; no component can exceed its weight, so totals stay in [0,1].
type Weights struct {
	Email   float64
	Phone   float64
	Name    float64
	Address float64
}

// DefaultWeights are the tuned production weights
var DefaultWeights = Weights{
	Email:   0.40,
	Phone:   0.25,
	Name:    0.25,
	Address: 0.10,
}

const (
	// MaxCandidates caps the ranked list persisted per decision
	MaxCandidates = 5

	// softIdentifierFactor downgrades identifiers on the soft blacklist
	softIdentifierFactor = 0.5

	// crossSourceAddressFactor is the partial credit for an address match
	// recorded only by a different source than the incoming record.
	crossSourceAddressFactor = 0.5

	// crossSourceAddressSimilarity is the floor for counting two
	// differently-formatted addresses as the same place.
	crossSourceAddressSimilarity = 0.85
)

// Record is a normalized incoming record ready for scoring. Email must
// already be empty when the raw value was a placeholder.
type Record struct {
	SourceSystem string
	Email        string
	Phone        string
	Name         string
	Address      string
}

// CandidateAddress is one address row linked to a candidate entity
type CandidateAddress struct {
	AddressNormalized string
	SourceSystem      string
}

// Candidate is an existing active entity pulled into the scoring pool,
// carrying its active identifier values in normalized form.
type Candidate struct {
	EntityID    string
	DisplayName string
	Emails      []string
	Phones      []string
	Addresses   []CandidateAddress
}

// Scorer computes weighted confidence scores against a fixed suppression
// snapshot. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	weights  Weights
	registry *suppression.Snapshot
}

// NewScorer creates a scorer over a suppression snapshot
func NewScorer(registry *suppression.Snapshot) *Scorer {
	return &Scorer{weights: DefaultWeights, registry: registry}
}

// NewScorerWithWeights creates a scorer with custom component weights
func NewScorerWithWeights(registry *suppression.Snapshot, weights Weights) *Scorer {
	return &Scorer{weights: weights, registry: registry}
}

// Rank scores every candidate and returns those with a positive total,
// ordered by score descending, capped at MaxCandidates. Ties break on
// entity id so reruns produce identical orderings.
func (s *Scorer) Rank(record Record, candidates []Candidate) []models.CandidateInfo {
	scored := make([]models.CandidateInfo, 0, len(candidates))
	for _, cand := range candidates {
		info := s.Score(record, cand)
		if info.Score > 0 {
			scored = append(scored, info)
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].EntityID < scored[j].EntityID
	})

	if len(scored) > MaxCandidates {
		scored = scored[:MaxCandidates]
	}
	return scored
}

// Score computes the weighted component breakdown for one candidate
func (s *Scorer) Score(record Record, cand Candidate) models.CandidateInfo {
	components := map[string]float64{}
	var matchedOn []string

	nameSim := NameSimilarity(record.Name, cand.DisplayName)
	addressScore, addressExact := s.addressComponent(record, cand)

	if email := s.emailComponent(record, cand, nameSim, addressExact); email > 0 {
		components["email"] = email
		matchedOn = append(matchedOn, "email")
	}
	if phone := s.phoneComponent(record, cand, nameSim, addressExact); phone > 0 {
		components["phone"] = phone
		matchedOn = append(matchedOn, "phone")
	}
	if nameSim > 0 {
		components["name"] = nameSim * s.weights.Name
		matchedOn = append(matchedOn, "name")
	}
	if addressScore > 0 {
		components["address"] = addressScore
		matchedOn = append(matchedOn, "address")
	}

	var total float64
	for _, v := range components {
		total += v
	}

	return models.CandidateInfo{
		EntityID:    cand.EntityID,
		DisplayName: cand.DisplayName,
		Score:       total,
		MatchedOn:   matchedOn,
		Components:  components,
	}
}

func (s *Scorer) emailComponent(record Record, cand Candidate, nameSim float64, addressExact bool) float64 {
	if record.Email == "" || !contains(cand.Emails, record.Email) {
		return 0
	}

	entry := s.registry.Lookup(models.IdentifierTypeEmail, record.Email)
	if entry == nil {
		return s.weights.Email
	}

	switch entry.Tier {
	case models.SuppressionTierSoft:
		return s.weights.Email * softIdentifierFactor
	case models.SuppressionTierHard:
		if corroborated(entry, nameSim, addressExact) {
			return s.weights.Email
		}
		return 0
	}
	return 0
}

func (s *Scorer) phoneComponent(record Record, cand Candidate, nameSim float64, addressExact bool) float64 {
	if record.Phone == "" || !contains(cand.Phones, record.Phone) {
		return 0
	}

	entry := s.registry.Lookup(models.IdentifierTypePhone, record.Phone)
	if entry == nil {
		return s.weights.Phone
	}

	switch entry.Tier {
	case models.SuppressionTierSoft:
		return s.weights.Phone * softIdentifierFactor
	case models.SuppressionTierHard:
		if corroborated(entry, nameSim, addressExact) {
			return s.weights.Phone
		}
		return 0
	}
	return 0
}

// addressComponent returns the weighted address score and whether the match
// was exact. An exact normalized match earns full weight; an address that
// only lines up with a different source's record of the candidate earns
// partial credit for cross-source agreement.
func (s *Scorer) addressComponent(record Record, cand Candidate) (float64, bool) {
	if record.Address == "" {
		return 0, false
	}

	crossSource := false
	for _, addr := range cand.Addresses {
		if addr.AddressNormalized == record.Address {
			return s.weights.Address, true
		}
		if addr.SourceSystem != record.SourceSystem &&
			levenshteinRatio(addr.AddressNormalized, record.Address) >= crossSourceAddressSimilarity {
			crossSource = true
		}
	}

	if crossSource {
		return s.weights.Address * crossSourceAddressFactor, false
	}
	return 0, false
}

// corroborated checks a hard entry's required corroboration against the
// observed name similarity and address agreement.
func corroborated(entry *models.SuppressionEntry, nameSim float64, addressExact bool) bool {
	if !entry.AllowsOverride() {
		return false
	}
	if nameSim < *entry.MinNameSimilarity {
		return false
	}
	if entry.RequireAddressMatch && !addressExact {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
