// Package match pairs EPG channels with provider streams.
//
// Scoring is Jaro-Winkler over normalized names plus two boosts: one for a
// provider-supplied EPG hint that equals the channel's stable id, one for
// exactly equal normalized names. Pairs at or above the configured threshold
// become ranked ChannelMappings.
package match

import (
	"math"
	"regexp"
	"strings"
)

// Default scoring parameters.
const (
	DefaultThreshold      = 0.85
	DefaultEpgIDBoost     = 0.15
	DefaultExactNameBoost = 0.10
)

var (
	// Trailing quality tokens, optionally dash-joined, e.g. "CNN HD",
	// "CNN - FHD", "espn-1080p".
	trailingQualityRe = regexp.MustCompile(`(?i)(\s*-?\s*(HD|SD|FHD|4K|UHD|1080[pi]|720[pi]|480[pi]))+\s*$`)
	nonAlnumRe        = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a channel or stream name for comparison:
// lowercase, strip trailing quality tokens, replace non-alphanumerics with
// spaces, collapse whitespace, trim.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = trailingQualityRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ScoreConfig holds the scoring parameters.
type ScoreConfig struct {
	EpgIDBoost     float64
	ExactNameBoost float64
}

// DefaultScoreConfig returns the default boost configuration.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		EpgIDBoost:     DefaultEpgIDBoost,
		ExactNameBoost: DefaultExactNameBoost,
	}
}

// Score computes the match score between an EPG channel and a provider
// stream. channelName and streamName are raw display names; stableID is the
// channel's XMLTV id and epgHint the provider's epg_channel_id (may be
// empty). The result is clamped to [0, 1].
func Score(cfg ScoreConfig, channelName, streamName, stableID, epgHint string) float64 {
	n1 := Normalize(channelName)
	n2 := Normalize(streamName)

	score := JaroWinkler(n1, n2)
	if epgHint != "" && strings.EqualFold(strings.TrimSpace(epgHint), strings.TrimSpace(stableID)) {
		score += cfg.EpgIDBoost
	}
	if n1 != "" && n1 == n2 {
		score += cfg.ExactNameBoost
	}
	return math.Min(score, 1.0)
}

// JaroWinkler returns the Jaro-Winkler similarity of two strings in [0, 1],
// with the standard 0.1 prefix scale over at most 4 common leading bytes.
func JaroWinkler(s1, s2 string) float64 {
	jaro := jaroSimilarity(s1, s2)

	prefix := 0
	maxPrefix := 4
	if len(s1) < maxPrefix {
		maxPrefix = len(s1)
	}
	if len(s2) < maxPrefix {
		maxPrefix = len(s2)
	}
	for i := 0; i < maxPrefix; i++ {
		if s1[i] == s2[i] {
			prefix++
		} else {
			break
		}
	}

	const p = 0.1
	return jaro + float64(prefix)*p*(1-jaro)
}

// jaroSimilarity returns the Jaro similarity between two strings in [0, 1].
func jaroSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	matchDist := int(math.Max(float64(len(s1)), float64(len(s2)))/2.0) - 1
	if matchDist < 0 {
		matchDist = 0
	}

	s1Matched := make([]bool, len(s1))
	s2Matched := make([]bool, len(s2))

	matches := 0
	for i := 0; i < len(s1); i++ {
		start := i - matchDist
		if start < 0 {
			start = 0
		}
		end := i + matchDist + 1
		if end > len(s2) {
			end = len(s2)
		}
		for j := start; j < end; j++ {
			if s2Matched[j] || s1[i] != s2[j] {
				continue
			}
			s1Matched[i] = true
			s2Matched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(s1); i++ {
		if !s1Matched[i] {
			continue
		}
		for k < len(s2) && !s2Matched[k] {
			k++
		}
		if k < len(s2) && s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(s1)) + m/float64(len(s2)) + (m-float64(transpositions)/2)/m) / 3.0
}
