package strategy

import (
	"testing"

	"github.com/five82/splice/internal/compat"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		verdict compat.Verdict
		want    Strategy
	}{
		{"compatible", compat.Verdict{Compatible: true, Issues: []string{}}, StreamCopy},
		{"mismatch", compat.Verdict{Compatible: false, Issues: []string{"File 2: Codec mismatch (hevc vs h264)"}}, Reencode},
		{"probe failure", compat.Verdict{Compatible: false, Issues: []string{"Error validating files: boom"}}, Reencode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.verdict); got != tt.want {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrategyString(t *testing.T) {
	if StreamCopy.String() != "stream_copy" || Reencode.String() != "reencode" {
		t.Errorf("unexpected names: %s, %s", StreamCopy, Reencode)
	}
	if Strategy(9).String() != "unknown" {
		t.Error("out of range strategy should be unknown")
	}
	if StreamCopy.Description() == Reencode.Description() {
		t.Error("descriptions should differ")
	}
}
