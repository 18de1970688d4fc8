package squad

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"k8s.io/klog/v2"
)

func isPunctuation(r rune) bool {
	// ASCII symbols such as "^", "$" and "`" are not unicode punctuation
	// but are split like it.
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func stripAccents(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// basicTokenize splits text on whitespace and punctuation the way BERT's
// basic tokenizer does, before any WordPiece splitting.
func basicTokenize(text string, lower bool) []string {
	var cleaned strings.Builder
	for _, r := range text {
		switch {
		case r == 0 || r == 0xFFFD || isControl(r):
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || unicode.Is(unicode.Zs, r):
			cleaned.WriteRune(' ')
		case isCJK(r):
			cleaned.WriteRune(' ')
			cleaned.WriteRune(r)
			cleaned.WriteRune(' ')
		default:
			cleaned.WriteRune(r)
		}
	}

	var out []string
	for _, tok := range strings.Fields(cleaned.String()) {
		if lower {
			tok = stripAccents(strings.ToLower(tok))
		}
		start := true
		for _, r := range tok {
			if isPunctuation(r) {
				out = append(out, string(r))
				start = true
				continue
			}
			if start {
				out = append(out, "")
				start = false
			}
			out[len(out)-1] += string(r)
		}
	}
	return out
}

// stripSpaces removes spaces from text and maps every rune index of the
// result back to its index in text.
func stripSpaces(text []rune) ([]rune, []int) {
	var ns []rune
	var toS []int
	for i, r := range text {
		if r == ' ' {
			continue
		}
		ns = append(ns, r)
		toS = append(toS, i)
	}
	return ns, toS
}

// finalText projects predText, which is normalized tokenizer output, back
// onto origText so the answer keeps the original casing and punctuation.
//
// Both strings are normalized with the basic tokenizer and aligned with
// spaces removed. When the alignment fails origText is returned whole.
func finalText(predText, origText string, lower, verbose bool) string {
	tokText := []rune(strings.Join(basicTokenize(origText, lower), " "))
	pred := []rune(predText)

	start := runeIndex(tokText, pred)
	if start < 0 {
		if verbose {
			klog.Infof("Unable to find text: %q in %q", predText, origText)
		}
		return origText
	}
	end := start + len(pred) - 1

	orig := []rune(origText)
	origNS, origNSToS := stripSpaces(orig)
	tokNS, tokNSToS := stripSpaces(tokText)
	if len(origNS) != len(tokNS) {
		if verbose {
			klog.Infof("Length not equal after stripping spaces: %q vs %q", string(origNS), string(tokNS))
		}
		return origText
	}

	tokSToNS := make(map[int]int, len(tokNSToS))
	for ns, s := range tokNSToS {
		tokSToNS[s] = ns
	}
	mapPos := func(pos int) (int, bool) {
		ns, ok := tokSToNS[pos]
		if !ok || ns >= len(origNSToS) {
			return 0, false
		}
		return origNSToS[ns], true
	}
	origStart, ok := mapPos(start)
	if !ok {
		if verbose {
			klog.Info("Couldn't map start position")
		}
		return origText
	}
	origEnd, ok := mapPos(end)
	if !ok {
		if verbose {
			klog.Info("Couldn't map end position")
		}
		return origText
	}
	return string(orig[origStart : origEnd+1])
}

// runeIndex returns the index of the first occurrence of sub in s, or -1.
func runeIndex(s, sub []rune) int {
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		match := true
		for j, r := range sub {
			if s[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
