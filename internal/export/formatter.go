// Package export renders a completed transcription into downloadable
// TXT/SRT/VTT files. It is a pure transformation of its input: no model,
// no I/O, safe to call without touching the model slot.
package export

import (
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/purestory/whisper-service/internal/whisper"
)

// Format is a supported export format tag
type Format string

const (
	FormatTXT Format = "txt"
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// DefaultBaseFilename is used when the caller supplies no filename
const DefaultBaseFilename = "transcription"

// Segment is one cue to render. Word-level detail is never exported.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Request describes one export: the segments and text to render, the
// format, and the caller's preferred base filename.
type Request struct {
	Segments             []Segment
	FullText             string
	Format               Format
	TXTIncludeTimestamps bool
	BaseFilename         string // original upload filename; extension is replaced
}

// File is a rendered export ready to serve
type File struct {
	Content   []byte
	Filename  string // display filename including extension
	MediaType string
}

// Build renders the request into a file. An empty segment list yields an
// empty-but-valid file: absence of speech is a valid outcome.
func Build(req Request) (*File, error) {
	var content string
	var mediaType string

	switch req.Format {
	case FormatTXT:
		content = renderTXT(req.Segments, req.FullText, req.TXTIncludeTimestamps)
		mediaType = "text/plain; charset=utf-8"
	case FormatSRT:
		content = renderSRT(req.Segments)
		mediaType = "application/x-subrip"
	case FormatVTT:
		content = renderVTT(req.Segments)
		mediaType = "text/vtt"
	default:
		return nil, whisper.NewError(whisper.KindInvalidInput, "unsupported file format %q (must be txt, srt, or vtt)", req.Format)
	}

	return &File{
		Content:   []byte(content),
		Filename:  buildFilename(req.BaseFilename, req.Format),
		MediaType: mediaType,
	}, nil
}

// renderTXT emits the full text, or one "[mm:ss - mm:ss] text" line per
// segment when timestamps are requested.
func renderTXT(segments []Segment, fullText string, includeTimestamps bool) string {
	if !includeTimestamps {
		return fullText
	}
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, fmt.Sprintf("[%s - %s] %s",
			formatMinSec(seg.Start), formatMinSec(seg.End), seg.Text))
	}
	return strings.Join(lines, "\n")
}

// renderSRT emits 1-indexed cues with comma millisecond separators
func renderSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start, true),
			FormatTimestamp(seg.End, true),
			seg.Text)
	}
	return b.String()
}

// renderVTT emits the WEBVTT header and unnumbered cues with dot separators
func renderVTT(segments []Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			FormatTimestamp(seg.Start, false),
			FormatTimestamp(seg.End, false),
			seg.Text)
	}
	return b.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm (SRT) or HH:MM:SS.mmm (VTT)
func FormatTimestamp(seconds float64, srt bool) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))

	hours := ms / 3_600_000
	ms %= 3_600_000
	minutes := ms / 60_000
	ms %= 60_000
	secs := ms / 1_000
	ms %= 1_000

	sep := ","
	if !srt {
		sep = "."
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, ms)
}

// formatMinSec renders seconds as mm:ss for timestamped TXT lines.
// Minutes are total minutes and may exceed 59.
func formatMinSec(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

var (
	dangerousChars = regexp.MustCompile(`[/\\:*?"<>|]`)
	controlChars   = regexp.MustCompile(`[\x00-\x1f]`)
	repeatedSpaces = regexp.MustCompile(`\s+`)
	nonASCII       = regexp.MustCompile(`[^\x20-\x7E]`)
)

// SanitizeFilename strips filesystem-hostile characters from a filename,
// keeping non-ASCII scripts intact.
func SanitizeFilename(name string) string {
	name = dangerousChars.ReplaceAllString(name, "")
	name = controlChars.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")

	if runes := []rune(name); len(runes) > 150 {
		name = strings.TrimSpace(string(runes[:150]))
	}
	if name == "" {
		return DefaultBaseFilename
	}
	return name
}

// buildFilename replaces any extension on the caller's base name with the
// format's extension.
func buildFilename(base string, format Format) string {
	if base == "" {
		return fmt.Sprintf("%s.%s", DefaultBaseFilename, format)
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s.%s", SanitizeFilename(stem), format)
}

// ContentDisposition builds an attachment header value carrying both the
// RFC 5987 UTF-8 form (preferred by modern clients) and an ASCII fallback
// for clients that only understand the legacy parameter.
func ContentDisposition(filename string) string {
	ascii := nonASCII.ReplaceAllString(filename, "_")
	encoded := url.PathEscape(filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", ascii, encoded)
}
