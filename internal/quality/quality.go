// Package quality derives quality tiers from provider stream names.
//
// Provider catalogs encode resolution in the display name ("CNN FHD",
// "ESPN 4K", "BBC One 720p"). Detection is regex-based, word-bounded, and
// case-insensitive; a name can carry several tiers at once and an unmarked
// name defaults to SD.
package quality

import (
	"regexp"

	"github.com/streamforge/streamforge/internal/models"
)

// Tier names, best first.
const (
	Tier4K  = "4K"
	TierFHD = "FHD"
	TierHD  = "HD"
	TierSD  = "SD"
)

var (
	re4K  = regexp.MustCompile(`(?i)\b(4K|UHD|2160[pi])\b`)
	reFHD = regexp.MustCompile(`(?i)\b(FHD|1080[pi])\b`)
	// Standalone HD only: "FHD" and "UHD" must not count, nor "HD2".
	reHD = regexp.MustCompile(`(?i)(^|[^A-Za-z0-9FU])HD($|[^A-Za-z0-9])|\b720[pi]\b`)
	reSD = regexp.MustCompile(`(?i)\b(SD|480[pi]|576[pi])\b`)
)

// Classify returns the set of quality tiers detected in a stream name, in
// fixed best-first order. Names with no quality marker classify as SD.
func Classify(name string) models.QualityTiers {
	var tiers models.QualityTiers
	if re4K.MatchString(name) {
		tiers = append(tiers, Tier4K)
	}
	if reFHD.MatchString(name) {
		tiers = append(tiers, TierFHD)
	}
	if reHD.MatchString(name) {
		tiers = append(tiers, TierHD)
	}
	if reSD.MatchString(name) {
		tiers = append(tiers, TierSD)
	}
	if len(tiers) == 0 {
		tiers = models.QualityTiers{TierSD}
	}
	return tiers
}
