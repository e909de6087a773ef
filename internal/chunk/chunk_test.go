package chunk

import (
	"strings"
	"testing"
)

func mustSplitter(t *testing.T, cfg Config) *Splitter {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) failed: %v", cfg, err)
	}
	return s
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}, wantErr: false},
		{name: "explicit valid", cfg: Config{Size: 800, Overlap: 150}, wantErr: false},
		{name: "overlap equals size", cfg: Config{Size: 200, Overlap: 200}, wantErr: true},
		{name: "overlap exceeds size", cfg: Config{Size: 200, Overlap: 300}, wantErr: true},
		{name: "negative size", cfg: Config{Size: -1, Overlap: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	s := mustSplitter(t, Config{})

	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		if got := s.Split(input); got != nil {
			t.Errorf("Split(%q) = %d drafts, want none", input, len(got))
		}
	}
}

func TestSplitTinyInputEmittedWhole(t *testing.T) {
	s := mustSplitter(t, Config{})

	// Entire input below the floor is still a document.
	got := s.Split("Est. 2008.")
	if len(got) != 1 {
		t.Fatalf("Split() = %d drafts, want 1", len(got))
	}
	if got[0].Text != "Est. 2008." || got[0].Kind != KindSection {
		t.Errorf("Split() draft = %+v", got[0])
	}
}

func TestSplitSmallSectionsKeptWhole(t *testing.T) {
	s := mustSplitter(t, Config{})

	text := "## About Us\n" + strings.Repeat("The agency has closed landmark deals. ", 10) +
		"\n## Awards\n" + strings.Repeat("Winner of the regional broker award. ", 10)

	drafts := s.Split(text)
	if len(drafts) != 2 {
		t.Fatalf("Split() = %d drafts, want 2 (one per section)", len(drafts))
	}
	for i, d := range drafts {
		if d.Kind != KindSection {
			t.Errorf("draft %d kind = %q, want %q", i, d.Kind, KindSection)
		}
		if d.Ordinal != i {
			t.Errorf("draft %d ordinal = %d, want %d", i, d.Ordinal, i)
		}
	}
	if !strings.HasPrefix(drafts[1].Text, "## Awards") {
		t.Errorf("second section should keep its heading, got %q", drafts[1].Text[:20])
	}
}

func TestSplitFloorInvariant(t *testing.T) {
	s := mustSplitter(t, Config{})

	// A long document with paragraph breaks; every emitted chunk must be
	// at least MinChars long.
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Dubai off-plan projects offer staged payment plans tied to construction milestones.\n\n")
	}

	for _, d := range s.Split(b.String()) {
		if len(d.Text) < MinChars {
			t.Errorf("chunk ordinal %d length %d below floor %d", d.Ordinal, len(d.Text), MinChars)
		}
	}
}

func TestSplitSubdivisionOverlap(t *testing.T) {
	s := mustSplitter(t, Config{Size: 300, Overlap: 60})

	// Continuous prose with sentence boundaries only, forcing the ". "
	// break-point branch.
	sentence := "Payment plans for this tower run sixty over forty post handover. "
	text := strings.Repeat(sentence, 30)

	drafts := s.Split(text)
	if len(drafts) < 2 {
		t.Fatalf("Split() = %d drafts, want several sub-chunks", len(drafts))
	}

	for i, d := range drafts {
		if d.Kind != KindSubSection {
			t.Errorf("draft %d kind = %q, want %q", i, d.Kind, KindSubSection)
		}
		if d.CharEnd <= d.CharStart {
			t.Errorf("draft %d offsets [%d, %d) invalid", i, d.CharStart, d.CharEnd)
		}
	}

	// Adjacent windows share roughly Overlap characters. The break-point
	// search trims whitespace, so allow tolerance on both sides.
	for i := 1; i < len(drafts); i++ {
		gap := drafts[i].CharStart - drafts[i-1].CharEnd
		if gap != -s.overlap {
			t.Errorf("windows %d/%d overlap by %d chars, want %d", i-1, i, -gap, s.overlap)
		}
	}
}

func TestSplitOrdinalsSequentialAcrossSections(t *testing.T) {
	s := mustSplitter(t, Config{Size: 200, Overlap: 40})

	text := "# History\n" + strings.Repeat("Founded by two brokers in a single office. ", 20) +
		"\n## Expansion\n" + strings.Repeat("New branches opened across the marina district. ", 20)

	drafts := s.Split(text)
	if len(drafts) < 3 {
		t.Fatalf("Split() = %d drafts, want at least 3", len(drafts))
	}
	for i, d := range drafts {
		if d.Ordinal != i {
			t.Fatalf("draft %d ordinal = %d, want emission order", i, d.Ordinal)
		}
	}
}

func TestSplitNoStallWithLargeOverlap(t *testing.T) {
	// Overlap just below size stresses the forward-progress guard.
	s := mustSplitter(t, Config{Size: 100, Overlap: 99})

	// A stalled loop would hang the test binary until its deadline.
	drafts := s.Split(strings.Repeat("word ", 500))
	if len(drafts) == 0 {
		t.Error("Split() returned no drafts")
	}
	for i, d := range drafts {
		if len(d.Text) <= MinChars {
			t.Errorf("draft %d length %d at or below floor", i, len(d.Text))
		}
	}
}
