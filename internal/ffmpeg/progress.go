package ffmpeg

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/five82/splice/internal/util"
)

// Progress is one engine progress report.
type Progress struct {
	Frame       uint64
	FPS         float32
	Speed       float32
	Bitrate     string
	ElapsedSecs float64
	// Percent is 0-100, or -1 when the total duration is unknown.
	Percent float64
}

// ProgressCallback is called with progress updates while the engine runs.
type ProgressCallback func(Progress)

var (
	timeRegex     = regexp.MustCompile(`time=\s*(\d{2}:\d{2}:\d{2}\.?\d*)`)
	durationRegex = regexp.MustCompile(`^\s*Duration:\s*(\d{2}:\d{2}:\d{2}\.?\d*)`)
)

// maxStderr bounds how much engine output is kept for error messages.
const maxStderr = 64 * 1024

// stderrTail keeps the last maxStderr bytes written to it.
type stderrTail struct {
	buf []byte
}

func (s *stderrTail) add(b byte) {
	s.buf = append(s.buf, b)
	if len(s.buf) > 2*maxStderr {
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-maxStderr:]...)
	}
}

func (s *stderrTail) String() string {
	if len(s.buf) > maxStderr {
		return string(s.buf[len(s.buf)-maxStderr:])
	}
	return string(s.buf)
}

// parseProgress reads engine stderr until EOF, calling callback for every
// status line. Status lines end in \r, log lines in \n. When totalSecs is
// zero, the sum of the "Duration:" headers of the inputs is used if every
// input declared one.
func parseProgress(stderr io.Reader, tail *stderrTail, totalSecs float64, callback ProgressCallback) {
	reader := bufio.NewReader(stderr)
	var lineBuf strings.Builder

	headerTotal := 0.0
	headerOK := true

	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		tail.add(b)

		if b != '\r' && b != '\n' {
			lineBuf.WriteByte(b)
			continue
		}

		line := lineBuf.String()
		lineBuf.Reset()

		if totalSecs == 0 {
			if secs, ok, found := ParseDurationLine(line); found {
				if ok {
					headerTotal += secs
				} else {
					headerOK = false
				}
			}
		}

		if callback == nil || !strings.Contains(line, "time=") {
			continue
		}
		total := totalSecs
		if total == 0 && headerOK {
			total = headerTotal
		}
		if p := parseProgressLine(line, total); p != nil {
			callback(*p)
		}
	}
}

// ParseDurationLine reads an input header line such as
// "  Duration: 00:01:05.20, start: 0.000000, bitrate: 1205 kb/s".
// found reports whether the line is a duration header at all; ok is false
// for "Duration: N/A".
func ParseDurationLine(line string) (secs float64, ok, found bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "Duration:") {
		return 0, false, false
	}
	m := durationRegex.FindStringSubmatch(trimmed)
	if len(m) < 2 {
		return 0, false, true
	}
	secs, ok = util.ParseFFmpegTime(m[1])
	return secs, ok, true
}

// parseProgressLine extracts progress information from an engine status line.
// Returns nil if the line has no usable time field.
func parseProgressLine(line string, totalSecs float64) *Progress {
	matches := timeRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return nil
	}
	elapsed, ok := util.ParseFFmpegTime(matches[1])
	if !ok {
		return nil
	}

	p := &Progress{ElapsedSecs: elapsed, Percent: -1}

	if v, ok := fieldValue(line, "frame="); ok {
		if f, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.Frame = f
		}
	}
	if v, ok := fieldValue(line, "fps="); ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			p.FPS = float32(f)
		}
	}
	if v, ok := fieldValue(line, "bitrate="); ok {
		p.Bitrate = v
	}
	if v, ok := fieldValue(line, "speed="); ok {
		if s, err := strconv.ParseFloat(strings.TrimSuffix(v, "x"), 32); err == nil {
			p.Speed = float32(s)
		}
	}

	if totalSecs > 0 {
		p.Percent = min(elapsed/totalSecs*100, 100)
	}
	return p
}

// fieldValue returns the whitespace-delimited token following key.
func fieldValue(line, key string) (string, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// lastErrorLine returns the last non-status line of engine output, which
// is usually the reason for a failure.
func lastErrorLine(stderr string) string {
	lines := strings.FieldsFunc(stderr, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" || strings.Contains(l, "time=") {
			continue
		}
		return l
	}
	return ""
}
