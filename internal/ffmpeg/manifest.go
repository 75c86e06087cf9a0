package ffmpeg

import "strings"

// EscapeManifestPath quotes a path for a concat demuxer file line.
// A single quote becomes '\'' (close, escaped quote, reopen).
func EscapeManifestPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// FormatManifest returns the concat demuxer list for inputs, one
// "file '<path>'" line each, in order.
func FormatManifest(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("file ")
		b.WriteString(EscapeManifestPath(in))
		b.WriteByte('\n')
	}
	return b.String()
}
