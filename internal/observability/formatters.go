// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/fingerprint"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most width runes. Statements are often
// Hebrew or Arabic, so it never cuts inside a multi-byte character.
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

// PrintFingerprint shows both fingerprints of a raw text.
func (p *Printer) PrintFingerprint(raw string, pair fingerprint.Pair) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Raw:        %q\n", raw))
	sb.WriteString(fmt.Sprintf("Normalized: %q\n", pair.Normalized))
	sb.WriteString("Exact:\n")
	sb.WriteString(fmt.Sprintf("  %s\n", pair.Exact[:32]))
	sb.WriteString(fmt.Sprintf("  %s", pair.Exact[32:]))

	p.printBox("FINGERPRINT", sb.String())
}

// PrintComparison shows the similarity of two texts and whether it clears
// the threshold.
func (p *Printer) PrintComparison(a, b string, score, threshold float64) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("A: %s\n", fingerprint.Normalize(a)))
	sb.WriteString(fmt.Sprintf("B: %s\n", fingerprint.Normalize(b)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Score:     %.4f\n", score))
	sb.WriteString(fmt.Sprintf("Threshold: %.4f\n", threshold))

	if score >= threshold {
		sb.WriteString("Result:    ✓ fuzzy duplicate")
	} else {
		sb.WriteString("Result:    ✗ distinct")
	}

	p.printBox("SIMILARITY", sb.String())
}

// PrintVerdict outputs a human-readable summary of a resolver verdict.
func (p *Printer) PrintVerdict(verdict *dedup.Verdict) {
	if verdict == nil {
		return
	}
	p.printBox("VERDICT: "+strings.ToUpper(string(verdict.Classification)), verdictBody(verdict))
}

// PrintVerdicts outputs one line per verdict, in input order.
func (p *Printer) PrintVerdicts(texts []string, verdicts []*dedup.Verdict) {
	if len(verdicts) == 0 {
		return
	}

	var sb strings.Builder
	counts := map[dedup.Classification]int{}
	for i, v := range verdicts {
		counts[v.Classification]++
		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		sb.WriteString(fmt.Sprintf("%s %-5s %.2f  %s\n", classificationIcon(v.Classification), shortClass(v.Classification), v.Score, text))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Unique: %d  Exact: %d  Fuzzy: %d",
		counts[dedup.Unique], counts[dedup.ExactDuplicate], counts[dedup.FuzzyDuplicate]))

	p.printBox(fmt.Sprintf("PREVIEW (%d texts)", len(verdicts)), sb.String())
}

// PrintGroup outputs the members of a duplicate group, primary first.
func (p *Printer) PrintGroup(groupID string, statements []db.Statement) {
	if len(statements) == 0 {
		p.printBox("GROUP "+groupID, "No statements found")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Members: %d\n\n", len(statements)))

	count := min(len(statements), maxItemsToShow)
	for i := 0; i < count; i++ {
		s := statements[i]
		role := "primary"
		if !s.IsPrimary() {
			role = string(s.Classification)
		}
		sb.WriteString(fmt.Sprintf("#%d  %s (%s)\n", i+1, s.ID, role))
		sb.WriteString(fmt.Sprintf("    %s\n", s.RawText))
		sb.WriteString(fmt.Sprintf("    %s · credibility %d\n", s.Channel, s.Credibility))
	}
	if len(statements) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(statements)-maxItemsToShow))
	}

	p.printBox("GROUP "+groupID, strings.TrimSuffix(sb.String(), "\n"))
}

func verdictBody(v *dedup.Verdict) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Group:      %s\n", v.Group))
	if v.DuplicateOf != nil {
		sb.WriteString(fmt.Sprintf("Primary:    %s\n", *v.DuplicateOf))
	}
	if v.MatchedID != nil && (v.DuplicateOf == nil || *v.MatchedID != *v.DuplicateOf) {
		sb.WriteString(fmt.Sprintf("Matched:    %s\n", *v.MatchedID))
	}
	sb.WriteString(fmt.Sprintf("Score:      %.4f\n", v.Score))
	sb.WriteString(fmt.Sprintf("Compared:   %d candidates\n", v.ComparedCount))
	sb.WriteString(fmt.Sprintf("Normalized: %s", v.Fingerprint.Normalized))
	return sb.String()
}

func classificationIcon(c dedup.Classification) string {
	if c == dedup.Unique {
		return "+"
	}
	return "="
}

func shortClass(c dedup.Classification) string {
	switch c {
	case dedup.ExactDuplicate:
		return "exact"
	case dedup.FuzzyDuplicate:
		return "fuzzy"
	default:
		return "new"
	}
}
