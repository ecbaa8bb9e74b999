// Package filter decides whether a candidate item qualifies for a channel.
//
// Evaluate is a pure function of (channel, item): no I/O, no hidden state. The preview
// table and the run pass both call it, so what a user confirms is what a run does.
package filter

import (
	"fmt"
	"strings"

	"ytnotify/internal/domain"
)

// Reason is the outcome code of an evaluation. Rejection reasons are listed in check order.
type Reason string

const (
	ReasonTitleMissing        Reason = "title_missing"
	ReasonTitleExcluded       Reason = "title_excluded"
	ReasonDescriptionMissing  Reason = "description_missing"
	ReasonDescriptionExcluded Reason = "description_excluded"
	ReasonTooShort            Reason = "too_short"
	ReasonTooLong             Reason = "too_long"
	ReasonLengthUnknown       Reason = "length_unknown"

	ReasonMatched              Reason = "matched"
	ReasonMatchedLengthUnknown Reason = "matched_length_unknown"
)

// Decision is the result of Evaluate.
type Decision struct {
	Qualifies bool
	Reason    Reason
	// Detail is the human text shown in previews and logs.
	Detail string
}

// Evaluate applies every configured axis (AND). Axes without criteria are vacuously satisfied.
func Evaluate(ch domain.Channel, it domain.Item) Decision {
	if d, ok := keywordAxis(it.Title, ch.TitleInclude, ch.TitleExclude, "Title", ReasonTitleMissing, ReasonTitleExcluded); !ok {
		return d
	}
	if d, ok := keywordAxis(it.Description, ch.DescriptionInclude, ch.DescriptionExclude, "Description", ReasonDescriptionMissing, ReasonDescriptionExcluded); !ok {
		return d
	}
	return lengthAxis(ch, it)
}

// keywordAxis checks exclude first so an excluded keyword always wins over an included one.
// Blank keywords are ignored, so a list of only blanks leaves the axis unset.
func keywordAxis(text string, include, exclude []string, label string, missing, excluded Reason) (Decision, bool) {
	include, exclude = keywords(include), keywords(exclude)
	if len(include) == 0 && len(exclude) == 0 {
		return Decision{}, true
	}
	lower := strings.ToLower(text)
	if hit, ok := containsAny(lower, exclude); ok {
		return reject(excluded, fmt.Sprintf("%s excluded: %q", label, hit)), false
	}
	if len(include) > 0 {
		if _, ok := containsAny(lower, include); !ok {
			return reject(missing, fmt.Sprintf("%s missing: %v", label, include)), false
		}
	}
	return Decision{}, true
}

func lengthAxis(ch domain.Channel, it domain.Item) Decision {
	bounded := ch.MinLengthSeconds != nil || ch.MaxLengthSeconds != nil
	if !bounded {
		return Decision{Qualifies: true, Reason: ReasonMatched, Detail: "Matched"}
	}
	if it.Length == nil {
		if ch.UnknownLength == domain.UnknownLengthReject {
			return reject(ReasonLengthUnknown, "Length unknown")
		}
		return Decision{Qualifies: true, Reason: ReasonMatchedLengthUnknown, Detail: "Matched (length unknown)"}
	}
	n := *it.Length
	if ch.MinLengthSeconds != nil && n < *ch.MinLengthSeconds {
		return reject(ReasonTooShort, fmt.Sprintf("Too short (%ds)", n))
	}
	if ch.MaxLengthSeconds != nil && n > *ch.MaxLengthSeconds {
		return reject(ReasonTooLong, fmt.Sprintf("Too long (%ds)", n))
	}
	return Decision{Qualifies: true, Reason: ReasonMatched, Detail: "Matched"}
}

func containsAny(lower string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

// keywords returns ks trimmed, without blanks.
func keywords(ks []string) []string {
	out := ks[:0:0]
	for _, k := range ks {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func reject(r Reason, detail string) Decision {
	return Decision{Qualifies: false, Reason: r, Detail: detail}
}
