package observability

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/fingerprint"
)

func TestPrintFingerprint(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	pair := fingerprint.Compute("  Hello, World!  ")
	p.PrintFingerprint("  Hello, World!  ", pair)
	output := buf.String()

	assert.Contains(t, output, "FINGERPRINT")
	assert.Contains(t, output, `"hello world"`)
	assert.Contains(t, output, pair.Exact[:32])
	assert.Contains(t, output, pair.Exact[32:])
}

func TestPrintComparison(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintComparison("We will cut taxes", "we will cut taxes!", 1.0, 0.85)
	assert.Contains(t, buf.String(), "fuzzy duplicate")
	assert.Contains(t, buf.String(), "1.0000")

	buf.Reset()
	p.PrintComparison("cut taxes", "raise taxes", 0.6, 0.85)
	assert.Contains(t, buf.String(), "distinct")
}

func TestPrintVerdict(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	primary := uuid.New()
	matched := uuid.New()
	p.PrintVerdict(&dedup.Verdict{
		Classification: dedup.FuzzyDuplicate,
		DuplicateOf:    &primary,
		MatchedID:      &matched,
		Group:          uuid.New(),
		Score:          0.9,
		Fingerprint:    fingerprint.Compute("some text"),
		ComparedCount:  12,
	})
	output := buf.String()

	assert.Contains(t, output, "VERDICT: FUZZY_DUPLICATE")
	assert.Contains(t, output, primary.String())
	assert.Contains(t, output, matched.String())
	assert.Contains(t, output, "12 candidates")
}

func TestPrintVerdict_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintVerdict(nil)
	assert.Empty(t, buf.String())
}

func TestPrintVerdicts(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintVerdicts([]string{"a", "b", "c"}, []*dedup.Verdict{
		{Classification: dedup.Unique},
		{Classification: dedup.ExactDuplicate, Score: 1},
		{Classification: dedup.FuzzyDuplicate, Score: 0.9},
	})
	output := buf.String()

	assert.Contains(t, output, "PREVIEW (3 texts)")
	assert.Contains(t, output, "Unique: 1  Exact: 1  Fuzzy: 1")
}

func TestPrintGroup(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	primary := uuid.New()
	statements := []db.Statement{
		{ID: primary, RawText: "אני תומך בחוק", Channel: credibility.ChannelNews, Credibility: 7},
		{ID: uuid.New(), RawText: "אני תומך בחוק.", Classification: dedup.FuzzyDuplicate, DuplicateOf: &primary},
	}
	for i := 0; i < 5; i++ {
		statements = append(statements, db.Statement{ID: uuid.New(), Classification: dedup.ExactDuplicate, DuplicateOf: &primary})
	}

	p.PrintGroup("g1", statements)
	output := buf.String()

	assert.Contains(t, output, "Members: 7")
	assert.Contains(t, output, "(primary)")
	assert.Contains(t, output, "(fuzzy_duplicate)")
	assert.Contains(t, output, "אני תומך בחוק")
	assert.Contains(t, output, "... and 2 more")
}

func TestPrintGroup_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintGroup("g1", nil)
	assert.Contains(t, buf.String(), "No statements found")
}

func TestPrintBox_LongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("ש", 100))
	output := buf.String()

	assert.True(t, utf8.ValidString(output))
	assert.Contains(t, output, "...")
	for _, line := range strings.Split(strings.TrimSuffix(output, "\n"), "\n") {
		assert.Equal(t, boxWidth, utf8.RuneCountInString(line))
	}
}
