package incident

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// tokenRun matches "%" followed by a run of non-"%" characters.
	tokenRun = regexp.MustCompile(`%[^%]*`)

	// tokenPattern splits a run into width, precision, verb, positional suffix
	// and trailing literal text.
	tokenPattern = regexp.MustCompile(`^%(\d*)(?:\.(\d+))?([dsf])(\d*)(.*)$`)
)

// argFailureMarker is spliced where an argument could not be rendered.
const argFailureMarker = "<?>"

// MissingText is the marker spliced for an unresolved dictionary index.
func MissingText(idx int64) string {
	return fmt.Sprintf("[missing text %d]", idx)
}

// Substitute renders template against the arguments remaining in cur.
// Substitution stops at the first token that finds the sequence exhausted;
// later tokens are left as written.
func (d *Decoder) Substitute(template string, cur *ArgCursor) (string, []*DecodeError) {
	var problems []*DecodeError
	stopped := false

	words := strings.Split(template, " ")
	for i, word := range words {
		if stopped || !strings.Contains(word, "%") {
			continue
		}

		locs := tokenRun.FindAllStringIndex(word, -1)
		var b strings.Builder
		b.WriteString(word[:locs[0][0]])

		for _, loc := range locs {
			tok := word[loc[0]:loc[1]]
			if stopped {
				b.WriteString(tok)
				continue
			}
			rendered, tokProblems, underflow := d.renderToken(tok, cur)
			problems = append(problems, tokProblems...)
			b.WriteString(rendered)
			if underflow {
				stopped = true
			}
		}
		words[i] = b.String()
	}

	return strings.Join(words, " "), problems
}

// renderToken renders one token. Runs that are not a recognised token are
// returned unchanged and consume nothing.
func (d *Decoder) renderToken(tok string, cur *ArgCursor) (string, []*DecodeError, bool) {
	m := tokenPattern.FindStringSubmatch(tok)
	if m == nil {
		return tok, nil, false
	}
	width, precision, verb, suffix, rest := m[1], m[2], m[3], m[4], m[5]

	var problems []*DecodeError
	consumed := cur.Consumed()
	if suffix != "" {
		n, err := strconv.Atoi(suffix)
		if err == nil && n == consumed {
			suffix = ""
		} else {
			if err != nil {
				n = -1
			}
			problems = append(problems, newPositionMismatch(tok, n, consumed))
		}
	}

	arg, ok := cur.Next()
	if !ok {
		return tok, append(problems, newUnderflow(tok, consumed)), true
	}

	var value string
	switch verb {
	case "d":
		if arg.Integer == nil {
			problems = append(problems, newTypeMismatch(tok, "integer"))
			value = argFailureMarker
			break
		}
		value = formatInt(*arg.Integer, width)

	case "s":
		if arg.StringIndex == nil {
			problems = append(problems, newTypeMismatch(tok, "string index"))
			value = argFailureMarker
			break
		}
		text, found := d.dict.Lookup(*arg.StringIndex)
		if !found {
			problems = append(problems, newStringMiss(tok, *arg.StringIndex))
			value = MissingText(*arg.StringIndex)
			break
		}
		value = text

	case "f":
		if arg.Real == nil {
			problems = append(problems, newTypeMismatch(tok, "real"))
			value = argFailureMarker
			break
		}
		value = d.formatReal(*arg.Real, precision)
	}

	return value + suffix + rest, problems, false
}

// formatInt zero-pads v to width digits. An empty width means no padding.
func formatInt(v int64, width string) string {
	w, err := strconv.Atoi(width)
	if width == "" || err != nil {
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%0*d", w, v)
}

func (d *Decoder) formatReal(v float64, precision string) string {
	p := d.opts.DefaultPrecision
	if precision != "" {
		if n, err := strconv.Atoi(precision); err == nil {
			p = n
		}
	}
	return strconv.FormatFloat(v, 'f', p, 64)
}
