package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamforge/streamforge/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.QualityTiers
	}{
		{"plain 4k", "ESPN 4K", models.QualityTiers{"4K"}},
		{"uhd", "Discovery UHD", models.QualityTiers{"4K"}},
		{"2160p", "Nat Geo 2160p", models.QualityTiers{"4K"}},
		{"fhd", "CNN FHD", models.QualityTiers{"FHD"}},
		{"1080p", "CNN 1080p", models.QualityTiers{"FHD"}},
		{"1080i", "BBC One 1080i", models.QualityTiers{"FHD"}},
		{"standalone hd", "Sky Sports HD", models.QualityTiers{"HD"}},
		{"hd lowercase", "sky sports hd", models.QualityTiers{"HD"}},
		{"720p", "TSN 720p", models.QualityTiers{"HD"}},
		{"sd", "Retro TV SD", models.QualityTiers{"SD"}},
		{"480p", "Local 480p", models.QualityTiers{"SD"}},
		{"576i", "PAL Channel 576i", models.QualityTiers{"SD"}},
		{"no marker defaults to sd", "CNN International", models.QualityTiers{"SD"}},
		{"fhd is not hd", "CNN FHD", models.QualityTiers{"FHD"}},
		{"uhd is not hd", "Discovery UHD", models.QualityTiers{"4K"}},
		{"hdtv is not hd", "HDTV Network", models.QualityTiers{"SD"}},
		{"multiple tiers", "ESPN 4K / FHD backup", models.QualityTiers{"4K", "FHD"}},
		{"hd with punctuation", "ESPN (HD)", models.QualityTiers{"HD"}},
		{"hd dash suffix", "ESPN-HD", models.QualityTiers{"HD"}},
		{"hd at start", "HD Movies", models.QualityTiers{"HD"}},
		{"alnum prefix blocks hd", "CHD News", models.QualityTiers{"SD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}
