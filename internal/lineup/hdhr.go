package lineup

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/internal/version"
)

// defaultTunerCount applies when no enabled account advertises a cap.
const defaultTunerCount = 2

// DiscoverInfo is the HDHomeRun discover.json document. Plex matches on these
// PascalCase field names.
type DiscoverInfo struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// LineupEntry is one channel in the HDHomeRun lineup.json document.
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// LineupStatus is the static lineup_status.json document.
type LineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// DeviceID returns the stable tuner device id: a fixed prefix plus the
// uppercase hex hash of the hostname, so the id survives restarts but
// differs across installations.
func DeviceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "streamforge"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return fmt.Sprintf("STREAMFORGE%08X", h.Sum32())
}

// Discover builds the discover.json document. TunerCount is the maximum
// connection cap across enabled accounts, preferring the observed cap over
// the advertised one; sessions multiplex through the proxy so any single
// account's cap is the binding constraint.
func (s *Synthesizer) Discover(ctx context.Context) (*DiscoverInfo, error) {
	accounts, err := repository.NewAccountRepository(s.db).GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("building discover document: %w", err)
	}

	tunerCount := 0
	for _, a := range accounts {
		if n := a.EffectiveMaxConnections(); n > tunerCount {
			tunerCount = n
		}
	}
	if tunerCount <= 0 {
		tunerCount = defaultTunerCount
	}

	return &DiscoverInfo{
		FriendlyName:    "StreamForge",
		ModelNumber:     "HDHR5-4K",
		FirmwareName:    "streamforge",
		FirmwareVersion: version.Version,
		DeviceID:        DeviceID(),
		DeviceAuth:      "streamforge",
		BaseURL:         s.baseURL,
		LineupURL:       s.baseURL + "/lineup.json",
		TunerCount:      tunerCount,
	}, nil
}

// Lineup builds the lineup.json document using the same channel order and
// numbering as the M3U playlist.
func (s *Synthesizer) Lineup(ctx context.Context) ([]LineupEntry, error) {
	lineup, err := repository.NewChannelRepository(s.db).GetLineup(ctx)
	if err != nil {
		return nil, fmt.Errorf("building lineup document: %w", err)
	}

	entries := make([]LineupEntry, 0, len(lineup))
	for _, ch := range assignNumbers(lineup) {
		entries = append(entries, LineupEntry{
			GuideNumber: fmt.Sprintf("%d", ch.number),
			GuideName:   ch.Channel.DisplayName,
			URL:         s.streamURL(ch.Channel.ID),
		})
	}
	return entries, nil
}

// Status returns the static lineup_status.json document.
func (s *Synthesizer) Status() *LineupStatus {
	return &LineupStatus{
		ScanInProgress: 0,
		ScanPossible:   0,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	}
}
