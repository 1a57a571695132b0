// Package m3u provides streaming M3U playlist writing for IPTV lineups.
package m3u

import (
	"fmt"
	"io"
	"strings"
)

// Entry is one channel entry in an M3U playlist.
type Entry struct {
	// TvgID is the XMLTV channel id matching the EPG document.
	TvgID string

	// TvgName is the channel name attribute.
	TvgName string

	// TvgLogo is the channel logo URL, omitted when empty.
	TvgLogo string

	// ChannelNumber is the tvg-chno attribute, omitted when zero.
	ChannelNumber int

	// Title is the display title after the EXTINF comma.
	Title string

	// URL is the stream URL on the following line.
	URL string
}

// Writer provides streaming M3U playlist writing.
type Writer struct {
	w             io.Writer
	headerWritten bool
}

// NewWriter creates a new M3U writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the M3U header. Called automatically by WriteEntry.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, "#EXTM3U"); err != nil {
		return fmt.Errorf("writing M3U header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteEntry writes a single channel entry.
func (w *Writer) WriteEntry(entry *Entry) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}

	var attrs []string
	if entry.TvgID != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-id="%s"`, escapeAttr(entry.TvgID)))
	}
	if entry.TvgName != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-name="%s"`, escapeAttr(entry.TvgName)))
	}
	if entry.TvgLogo != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-logo="%s"`, escapeAttr(entry.TvgLogo)))
	}
	if entry.ChannelNumber > 0 {
		attrs = append(attrs, fmt.Sprintf(`tvg-chno="%d"`, entry.ChannelNumber))
	}

	title := stripNewlines(entry.Title)
	var extinf string
	if len(attrs) > 0 {
		extinf = fmt.Sprintf("#EXTINF:-1 %s,%s", strings.Join(attrs, " "), title)
	} else {
		extinf = fmt.Sprintf("#EXTINF:-1,%s", title)
	}

	if _, err := fmt.Fprintln(w.w, extinf); err != nil {
		return fmt.Errorf("writing EXTINF: %w", err)
	}
	if _, err := fmt.Fprintln(w.w, entry.URL); err != nil {
		return fmt.Errorf("writing URL: %w", err)
	}
	return nil
}

// escapeAttr escapes double quotes and strips newlines from attribute values.
func escapeAttr(s string) string {
	return strings.ReplaceAll(stripNewlines(s), `"`, "&quot;")
}

func stripNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
