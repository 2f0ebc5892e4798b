package llm

import (
	"context"
	"fmt"
	"strings"
)

const advisorySystemPrompt = `You write SMS advisories for a hospital's registered patients.
Rules:
- One message, plain text, at most %d characters.
- Give practical precautions only. Never mention prescriptions, medication or dosage.
- Do not invent phone numbers or links.
- Sign off with the hospital name if one is given.`

// AdvisoryBrief is what the drafter is told about the situation
type AdvisoryBrief struct {
	AdvisoryType string // pollution_alert, surge_warning, epidemic_alert
	Severity     string
	Hospital     string
	Facts        []string // e.g. "AQI 320", "expected load 240 patients"
}

// Drafter turns a brief into advisory text through a Completer
type Drafter struct {
	llm      Completer
	maxChars int
}

// NewDrafter returns a drafter whose output is capped at maxChars
func NewDrafter(c Completer, maxChars int) *Drafter {
	return &Drafter{llm: c, maxChars: maxChars}
}

// Draft asks the model for an advisory. The text is normalised to a single
// line but not validated; callers decide whether it is fit to send.
func (d *Drafter) Draft(ctx context.Context, brief AdvisoryBrief) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Advisory type: %s\n", brief.AdvisoryType)
	if brief.Severity != "" {
		fmt.Fprintf(&b, "Severity: %s\n", brief.Severity)
	}
	if brief.Hospital != "" {
		fmt.Fprintf(&b, "Hospital: %s\n", brief.Hospital)
	}
	if len(brief.Facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range brief.Facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("Write the message.")

	text, err := d.llm.Complete(ctx, fmt.Sprintf(advisorySystemPrompt, d.maxChars), b.String())
	if err != nil {
		return "", err
	}
	text = normalise(text)
	if text == "" {
		return "", fmt.Errorf("llm returned an empty advisory")
	}
	return text, nil
}

// normalise collapses whitespace and strips wrapping quotes models like to add
func normalise(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}
