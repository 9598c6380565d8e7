package model

import "strings"

// RuleTag identifies a keyword rule category.
type RuleTag string

const (
	TagBuyback      RuleTag = "buyback"
	TagDividend     RuleTag = "dividend"
	TagGuidanceUp   RuleTag = "guidance_up"
	TagGuidanceDown RuleTag = "guidance_down"
	TagCFOResign    RuleTag = "cfo_resign"
	TagCEOResign    RuleTag = "ceo_resign"
)

// TagWeights maps each rule tag to its evidence weight. Unknown tags score
// DefaultTagWeight; the lookup never fails.
var TagWeights = map[RuleTag]int{
	TagBuyback:      3,
	TagDividend:     2,
	TagGuidanceUp:   3,
	TagGuidanceDown: 2,
	TagCFOResign:    3,
	TagCEOResign:    4,
}

const DefaultTagWeight = 1

// TagDirections gives each tag a sentiment direction: +1 shareholder-friendly
// (buybacks, dividends, raised guidance), -1 adverse (cut guidance, executive
// departures). Unknown tags are neutral.
var TagDirections = map[RuleTag]int{
	TagBuyback:      1,
	TagDividend:     1,
	TagGuidanceUp:   1,
	TagGuidanceDown: -1,
	TagCFOResign:    -1,
	TagCEOResign:    -1,
}

// NetDirection sums the directions of the given tags: positive means the
// evidence leans bullish, negative bearish, zero mixed or unknown.
func NetDirection(tags []string) int {
	d := 0
	for _, t := range tags {
		d += TagDirections[RuleTag(t)]
	}
	return d
}

// ruleKeywords holds the per-tag keyword lists. Matching is case-insensitive
// substring; one hit per tag is enough.
var ruleKeywords = []struct {
	tag  RuleTag
	keys []string
}{
	{TagBuyback, []string{
		"repurchase", "share repurchase", "buyback", "authorization to repurchase",
		"repurchase program", "share buyback",
	}},
	{TagDividend, []string{
		"dividend", "increases dividend", "raises dividend", "special dividend",
	}},
	{TagGuidanceUp, []string{
		"raises guidance", "updates guidance upward", "upward revision",
		"increase guidance", "guidance raised",
	}},
	{TagGuidanceDown, []string{
		"lowers guidance", "downward revision", "cuts guidance",
		"reduce guidance", "guidance lowered",
	}},
	{TagCFOResign, []string{
		"chief financial officer", "cfo", "resigns", "resignation", "steps down",
	}},
	{TagCEOResign, []string{
		"chief executive officer", "ceo", "resigns", "resignation", "steps down",
	}},
}

// HitTags returns the rule tags whose keyword lists match the given text.
// Tags are returned in declaration order, at most once each.
func HitTags(text string) []RuleTag {
	if text == "" {
		return nil
	}
	t := strings.ToLower(text)
	var hits []RuleTag
	for _, rule := range ruleKeywords {
		for _, k := range rule.keys {
			if strings.Contains(t, k) {
				hits = append(hits, rule.tag)
				break
			}
		}
	}
	return hits
}

// ScoreHits computes the weighted evidence score for one fact: the sum of
// tag weights plus mild priors for SEC filings and 8-K/6-K subtypes.
func ScoreHits(hits []RuleTag, kind EventKind, subtype string) int {
	s := 0
	for _, h := range hits {
		if w, ok := TagWeights[h]; ok {
			s += w
		} else {
			s += DefaultTagWeight
		}
	}
	if kind == EventKindSEC {
		s++
	}
	switch strings.ToUpper(strings.TrimSpace(subtype)) {
	case "8-K", "6-K":
		s++
	}
	return s
}
