package report

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

func sampleReports() []analysis.Report {
	return []analysis.Report{
		{
			ID:   "q1",
			Kind: analysis.KindQuality,
			Quality: &analysis.QualityReport{
				File:          "/captures/late.wav",
				Status:        "ok",
				OffsetSamples: 800,
				OffsetSeconds: 0.05,
				Gain:          3.333,
				Scores:        map[string]score.Value{"snr": score.Value(math.Inf(1)), "ncc": 0.9991},
			},
		},
		{
			ID:      "q2",
			Kind:    analysis.KindQuality,
			Quality: &analysis.QualityReport{File: "missing.wav", Status: analysis.StatusError, Error: "no such file"},
		},
		{
			ID:   "d1",
			Kind: analysis.KindDOA,
			DOA: &analysis.DOAReport{
				File:        "ssl.wav",
				Status:      "ok",
				DurationSec: 2,
				Blocks: []doa.BlockStats{
					{StartSec: 0.25, DurationSec: 0.125, MeanDeg: -1.8, StdDeg: 3.9, PoleDiffDeg: 15},
				},
				Evaluation: &doa.Evaluation{DominantAzimuth: 359, Sector: 1, Accuracy: 80, Sensitivity: 95.5},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"csv", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReports(), FormatTable); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"late.wav", "0.0500", "3.333", "+Inf", "0.9991", "NCC", "SNR",
		"error: no such file",
		"ssl.wav", "359", "80.0%", "95.5%",
		"Pol-Diff", "-1.80", "15.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "/captures/") {
		t.Error("table should show base file names")
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReports(), FormatJSON); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var decoded []analysis.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("got %d reports, want 3", len(decoded))
	}
	if !math.IsInf(float64(decoded[0].Quality.Scores["snr"]), 1) {
		t.Errorf("snr = %v, want +Inf", decoded[0].Quality.Scores["snr"])
	}
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReports(), FormatYAML); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"kind: quality", "offset_samples: 800", "pole_diff_deg: 15"} {
		if !strings.Contains(out, want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}
}

func TestTables_Empty(t *testing.T) {
	if got := Tables(nil, DefaultTheme); got != "no reports\n" {
		t.Errorf("Tables(nil) = %q", got)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, nil, Format("xml")); err == nil {
		t.Error("expected error for unknown format")
	}
}
