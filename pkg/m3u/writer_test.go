package m3u

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_FullEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{
		TvgID:         "cnn.us",
		TvgName:       "CNN",
		TvgLogo:       "http://example.com/cnn.png",
		ChannelNumber: 3,
		Title:         "CNN",
		URL:           "http://127.0.0.1:5004/stream/01ARZ3NDEKTSV4RRFFQ69G5FAV",
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, `#EXTINF:-1 tvg-id="cnn.us" tvg-name="CNN" tvg-logo="http://example.com/cnn.png" tvg-chno="3",CNN`, lines[1])
	assert.Equal(t, "http://127.0.0.1:5004/stream/01ARZ3NDEKTSV4RRFFQ69G5FAV", lines[2])
}

func TestWriter_OptionalAttributesOmitted(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{
		TvgID:   "espn.us",
		TvgName: "ESPN",
		Title:   "ESPN",
		URL:     "http://127.0.0.1:5004/stream/x",
	}))

	out := buf.String()
	assert.NotContains(t, out, "tvg-logo")
	assert.NotContains(t, out, "tvg-chno")
}

func TestWriter_EscapesQuotesAndNewlines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{
		TvgID:   "x",
		TvgName: `The "Best" Channel`,
		Title:   "Line\nBreak",
		URL:     "http://127.0.0.1:5004/stream/x",
	}))

	out := buf.String()
	assert.Contains(t, out, `tvg-name="The &quot;Best&quot; Channel"`)
	assert.Contains(t, out, ",Line Break")
	assert.NotContains(t, out, "\n\n")
}

func TestWriter_HeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteEntry(&Entry{Title: "A", URL: "http://a"}))
	require.NoError(t, w.WriteEntry(&Entry{Title: "B", URL: "http://b"}))

	assert.Equal(t, 1, strings.Count(buf.String(), "#EXTM3U"))
}
