// Package classify tags display names as people, organizations, or
// address-like junk before identity matching sees them. Rules are an
// ordered list of named predicates; the first hit wins.
package classify

import (
	"regexp"
	"strings"
)

// Classification is the tag a rule assigns to a display name
type Classification string

const (
	ClassOrganization     Classification = "organization"
	ClassAddress          Classification = "address"
	ClassApartmentComplex Classification = "apartment_complex"
	ClassLikelyPerson     Classification = "likely_person"
	ClassUnknown          Classification = "unknown"
)

// Rule is one named predicate in the classification chain
type Rule struct {
	Name    string
	Matches func(name string) bool
	Class   Classification
}

// Result carries the winning classification and the rule that produced it
type Result struct {
	Class Classification
	Rule  string
}

var (
	leadingStreetNumberRe = regexp.MustCompile(`^\d+\s+\w`)
	unitDesignatorRe      = regexp.MustCompile(`\b(apt|unit|ste|suite)\s*#?\s*\w+\b`)
)

// streetSuffixes mark a name as an address when they appear as a trailing
// or near-trailing token.
var streetSuffixes = map[string]bool{
	"st": true, "street": true, "ave": true, "avenue": true,
	"blvd": true, "boulevard": true, "dr": true, "drive": true,
	"rd": true, "road": true, "ln": true, "lane": true,
	"ct": true, "court": true, "cir": true, "circle": true,
	"hwy": true, "highway": true, "pkwy": true, "parkway": true,
	"way": true, "pl": true, "trl": true, "trail": true,
}

// corporateTokens identify business names regardless of position
var corporateTokens = map[string]bool{
	"llc": true, "inc": true, "corp": true, "ltd": true, "co": true,
	"company": true, "clinic": true, "hospital": true, "veterinary": true,
	"vet": true, "shelter": true, "rescue": true, "society": true,
	"humane": true, "spca": true, "church": true, "school": true,
	"store": true, "shop": true, "market": true, "restaurant": true,
	"motel": true, "hotel": true, "trailer": true,
	"property": true, "properties": true, "management": true, "hoa": true,
	"thrift": true, "sanctuary": true, "foundation": true,
}

// apartmentTokens identify multi-unit housing complexes
var apartmentTokens = map[string]bool{
	"apartments": true, "apts": true, "complex": true, "villas": true,
	"towers": true, "estates": true, "commons": true, "landing": true,
	"crossing": true, "pointe": true,
}

// businessKeywords are place-of-business words that disqualify a name even
// without a corporate suffix.
var businessKeywords = map[string]bool{
	"parking": true, "plaza": true, "center": true, "centre": true,
	"office": true, "dept": true, "department": true, "city": true,
	"county": true,
}

// internalAccountPatterns are source-system service accounts and staff
// shorthand that never refer to a member of the public.
var internalAccountPatterns = []string{
	"test ", " test", "unknown", "no name", "anonymous", "walk-in", "walk in",
	"do not use", "duplicate", "deceased",
}

// Rules is the ordered classification chain. Exported so each rule can be
// exercised on its own.
var Rules = []Rule{
	{
		Name:  "internal_account",
		Class: ClassOrganization,
		Matches: func(name string) bool {
			if name == "" {
				return false
			}
			for _, p := range internalAccountPatterns {
				if name == strings.TrimSpace(p) || strings.Contains(name, p) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:  "leading_street_number",
		Class: ClassAddress,
		Matches: func(name string) bool {
			return leadingStreetNumberRe.MatchString(name)
		},
	},
	{
		Name:  "apartment_complex",
		Class: ClassApartmentComplex,
		Matches: func(name string) bool {
			return hasAnyToken(name, apartmentTokens)
		},
	},
	{
		Name:  "corporate_suffix",
		Class: ClassOrganization,
		Matches: func(name string) bool {
			return hasAnyToken(name, corporateTokens)
		},
	},
	{
		Name:  "business_keyword",
		Class: ClassOrganization,
		Matches: func(name string) bool {
			return hasAnyToken(name, businessKeywords)
		},
	},
	{
		Name:  "street_suffix",
		Class: ClassAddress,
		Matches: func(name string) bool {
			tokens := strings.Fields(name)
			if len(tokens) < 2 {
				return false
			}
			return streetSuffixes[tokens[len(tokens)-1]]
		},
	},
	{
		Name:  "unit_designator",
		Class: ClassAddress,
		Matches: func(name string) bool {
			return unitDesignatorRe.MatchString(name)
		},
	},
	{
		Name:  "person_shaped",
		Class: ClassLikelyPerson,
		Matches: func(name string) bool {
			tokens := strings.Fields(name)
			return len(tokens) >= 1 && len(name) >= 2
		},
	},
}

// DisplayName classifies a normalized display name. The name must already
// be lowercased and punctuation-stripped.
func DisplayName(name string) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{Class: ClassUnknown, Rule: ""}
	}
	for _, rule := range Rules {
		if rule.Matches(name) {
			return Result{Class: rule.Class, Rule: rule.Name}
		}
	}
	return Result{Class: ClassUnknown, Rule: ""}
}

// IsPerson reports whether a classified name may enter person matching
func (r Result) IsPerson() bool {
	return r.Class == ClassLikelyPerson
}

func hasAnyToken(name string, set map[string]bool) bool {
	for _, tok := range strings.Fields(name) {
		if set[tok] {
			return true
		}
	}
	return false
}
