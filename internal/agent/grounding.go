package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// Claim is one checkable fact in a draft reply.
type Claim struct {
	Kind  string // "url", "money", "tracking", "order", "percent", "number"
	Value string
}

func (c Claim) String() string { return c.Kind + ":" + c.Value }

var (
	urlRe      = regexp.MustCompile(`https?://[^\s<>"'()\]]+`)
	moneyRe    = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)`)
	trackingRe = regexp.MustCompile(`\b[A-Z0-9]{10,}\b`)
	figureRe   = regexp.MustCompile(`(#?)(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?(\s?%)?`)
	plainNumRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	digitRe    = regexp.MustCompile(`\d`)
	signOffRe  = regexp.MustCompile(`(?im)^[ \t]*(?:best regards|kind regards|warm regards|regards|sincerely|best|cheers|thanks|thank you)[,!.]?[ \t]*$`)
)

// ExtractClaims finds the facts a reply could invent: links, money amounts,
// tracking-like codes, order numbers, percentages and every other figure.
// Years are not claims.
func ExtractClaims(text string) []Claim {
	var claims []Claim
	seen := make(map[Claim]bool)
	add := func(c Claim) {
		if !seen[c] {
			seen[c] = true
			claims = append(claims, c)
		}
	}

	for _, u := range urlRe.FindAllString(text, -1) {
		add(Claim{Kind: "url", Value: strings.TrimRight(u, ".,;:!?")})
	}
	// links are checked whole; their digits are not claims of their own
	rest := urlRe.ReplaceAllString(text, " ")

	for _, m := range moneyRe.FindAllStringSubmatch(rest, -1) {
		add(Claim{Kind: "money", Value: normalizeNumber(m[1])})
	}
	rest = moneyRe.ReplaceAllString(rest, " ")

	for _, t := range trackingRe.FindAllString(rest, -1) {
		if digitRe.MatchString(t) {
			add(Claim{Kind: "tracking", Value: t})
		}
	}
	rest = trackingRe.ReplaceAllStringFunc(rest, func(t string) string {
		if digitRe.MatchString(t) {
			return " "
		}
		return t
	})

	for _, m := range figureRe.FindAllStringSubmatch(rest, -1) {
		hash, whole, frac, pct := m[1], m[2], m[3], m[4]
		value := normalizeNumber(whole + frac)
		switch {
		case pct != "":
			add(Claim{Kind: "percent", Value: value})
		case hash != "":
			add(Claim{Kind: "order", Value: value})
		case frac == "" && isYear(whole):
		case frac == "" && len(whole) >= 4:
			add(Claim{Kind: "order", Value: value})
		default:
			add(Claim{Kind: "number", Value: value})
		}
	}
	return claims
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1900 && n <= 2100
}

// normalizeNumber drops thousands separators, leading zeros and a zero
// fraction so "1,050.00", "01050" and "1050" compare equal.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	whole, frac, _ := strings.Cut(s, ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// numbersIn returns the normalized figures written in text.
func numbersIn(text string) map[string]bool {
	out := make(map[string]bool)
	for _, src := range []string{text, strings.ReplaceAll(text, ",", "")} {
		for _, n := range plainNumRe.FindAllString(src, -1) {
			out[normalizeNumber(n)] = true
		}
	}
	return out
}

// Evidence is the text a reply may draw facts from: successful tool outputs
// and knowledge chunks at or above the similarity threshold. Figures the
// customer wrote may be repeated back.
type Evidence struct {
	text    string
	numbers map[string]bool
}

// CollectEvidence builds the evidence for a run. customer is the inbound
// message text.
func CollectEvidence(calls []domain.ToolCall, chunks []domain.KnowledgeChunk, threshold float64, customer string) Evidence {
	var b strings.Builder
	for _, tc := range calls {
		if tc.Failed() || len(tc.Output) == 0 {
			continue
		}
		b.Write(tc.Output)
		b.WriteByte('\n')
	}
	for _, c := range chunks {
		if c.Score < threshold {
			continue
		}
		b.WriteString(c.Title)
		b.WriteByte('\n')
		b.WriteString(c.Content)
		b.WriteByte('\n')
	}
	text := b.String()
	numbers := numbersIn(text)
	for n := range numbersIn(customer) {
		numbers[n] = true
	}
	return Evidence{text: text, numbers: numbers}
}

// Supports reports whether the evidence contains the claim. Figures match
// whole numbers only, so "3" is not supported by "30".
func (e Evidence) Supports(c Claim) bool {
	switch c.Kind {
	case "url", "tracking":
		return strings.Contains(e.text, c.Value)
	default:
		return e.numbers[c.Value]
	}
}

// withoutSignOff drops a short closing block such as "Best regards," and
// the signature lines under it.
func withoutSignOff(draft string) string {
	locs := signOffRe.FindAllStringIndex(draft, -1)
	if len(locs) == 0 {
		return draft
	}
	cut := locs[len(locs)-1][0]
	if tail := strings.TrimSpace(draft[cut:]); strings.Count(tail, "\n") > 3 || len(tail) > 160 {
		return draft
	}
	return draft[:cut]
}

// Unsupported returns the claims in draft the evidence does not contain.
// The sign-off is not checked.
func (e Evidence) Unsupported(draft string) []Claim {
	var out []Claim
	for _, c := range ExtractClaims(withoutSignOff(draft)) {
		if !e.Supports(c) {
			out = append(out, c)
		}
	}
	return out
}

// Verdict is the outcome of the grounding check.
type Verdict struct {
	Grounded bool
	Reason   domain.EscalationReason
	Detail   string
}

// GroundingInput is everything the grounding check looks at.
type GroundingInput struct {
	Draft     string
	Intent    domain.Intent
	Tier      domain.Tier
	Calls     []domain.ToolCall
	Chunks    []domain.KnowledgeChunk
	Threshold float64
	Customer  string // the inbound message text
}

// CheckGrounding decides whether a draft may be sent. The checks, in order:
// repeated tool failures, an empty draft, a model-tier answer with no tool
// evidence, knowledge intents whose best chunk is under the threshold, and
// finally every extracted claim against the evidence.
func CheckGrounding(in GroundingInput) Verdict {
	failed := 0
	for _, tc := range in.Calls {
		if tc.Failed() {
			failed++
		}
	}
	if failed >= 2 {
		return Verdict{Reason: domain.ReasonRepeatedToolFailure, Detail: fmt.Sprintf("%d failed tool calls", failed)}
	}

	if strings.TrimSpace(in.Draft) == "" {
		return Verdict{Reason: domain.ReasonLowConfidence, Detail: "empty draft"}
	}

	if in.Tier != domain.TierTemplate && in.Intent != domain.IntentGeneralInquiry && len(in.Calls) == 0 {
		return Verdict{Reason: domain.ReasonLowConfidence, Detail: "no tool evidence"}
	}

	if in.Intent.IsKnowledgeIntent() {
		best := 0.0
		for _, c := range in.Chunks {
			if c.Score > best {
				best = c.Score
			}
		}
		if best < in.Threshold {
			return Verdict{
				Reason: domain.ReasonLowConfidence,
				Detail: fmt.Sprintf("best similarity %.2f below %.2f", best, in.Threshold),
			}
		}
	}

	ev := CollectEvidence(in.Calls, in.Chunks, in.Threshold, in.Customer)
	if bad := ev.Unsupported(in.Draft); len(bad) > 0 {
		parts := make([]string, len(bad))
		for i, c := range bad {
			parts[i] = c.String()
		}
		return Verdict{Reason: domain.ReasonLowConfidence, Detail: "unsupported claims: " + strings.Join(parts, ", ")}
	}

	return Verdict{Grounded: true}
}
