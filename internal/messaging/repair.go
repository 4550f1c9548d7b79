package messaging

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	errNull     = errors.New("decoded JSON is null")
	errNoBraces = errors.New("no JSON object found")

	unquotedKey = regexp.MustCompile(`([,{\[]+\s*|^)"?(\w+)"?:`)
)

// RepairJSON decodes model output that is meant to be JSON but often is not
// quite. Two candidates are tried: the text without a markdown fence or a
// leading "json " token, then the first balanced {...} block of whatever the
// first attempt left behind. Each candidate runs through a chain of fix-ups
// and the first value that decodes wins. A decoded null counts as failure.
func RepairJSON(text string) (any, error) {
	candidates := []func(string) string{stripFence, outermostObject}
	var err error
	for _, candidate := range candidates {
		var v any
		v, text, err = fixAndDecode(candidate(text))
		if err == nil {
			return v, nil
		}
	}
	return nil, err
}

type fixer func(s string, prev error) (any, string, error)

func fixAndDecode(s string) (any, string, error) {
	if s == "" {
		return nil, s, errNoBraces
	}
	var (
		v   any
		err error
	)
	for _, fix := range []fixer{fixInvalidEscapes, fixMissingQuotes, fixBraceImbalance, findBraces, repairLibrary} {
		v, s, err = fix(s, err)
		if err == nil {
			return v, s, nil
		}
	}
	return nil, s, err
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errNull
	}
	return v, nil
}

func decodeIfNeeded(s string, prev error) (any, error) {
	if prev != nil {
		return nil, prev
	}
	return decode(s)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimSpace(s[len("```json"):])
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(s[:len(s)-3])
	}
	if strings.HasPrefix(s, "json ") {
		s = strings.TrimSpace(s[len("json "):])
	}
	return s
}

// outermostObject returns the first {...} block whose braces balance, ignoring
// braces inside string literals. It returns "" when there is none.
func outermostObject(s string) string {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			return s[start : end+1]
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isInvalidEscape(err error) bool {
	return err != nil && strings.Contains(err.Error(), "in string escape code")
}

// fixInvalidEscapes drops the backslash nearest before the reported offset
// for as long as decoding fails on a bad escape.
func fixInvalidEscapes(s string, prev error) (any, string, error) {
	v, err := decodeIfNeeded(s, prev)
	if err == nil {
		return v, s, nil
	}
	for isInvalidEscape(err) {
		var syntax *json.SyntaxError
		if !errors.As(err, &syntax) {
			break
		}
		offset := int(syntax.Offset)
		if offset > len(s) {
			offset = len(s)
		}
		at := strings.LastIndexByte(s[:offset], '\\')
		if at < 0 {
			break
		}
		s = s[:at] + s[at+1:]
		if v, err = decode(s); err == nil {
			return v, s, nil
		}
	}
	return nil, s, err
}

func fixMissingQuotes(s string, prev error) (any, string, error) {
	v, err := decodeIfNeeded(s, prev)
	if err == nil {
		return v, s, nil
	}
	if strings.Contains(err.Error(), "looking for beginning of object key string") {
		s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
		if v, err = decode(s); err == nil {
			return v, s, nil
		}
	}
	return nil, s, err
}

func fixBraceImbalance(s string, prev error) (any, string, error) {
	open, closed := strings.Count(s, "{"), strings.Count(s, "}")
	if open == closed {
		v, err := decodeIfNeeded(s, prev)
		return v, s, err
	}
	if open > closed {
		s += strings.Repeat("}", open-closed)
	} else {
		s = strings.Repeat("{", closed-open) + s
	}
	v, err := decode(s)
	return v, s, err
}

func findBraces(s string, _ error) (any, string, error) {
	first := strings.IndexByte(s, '{')
	if first < 0 {
		return nil, s, errNoBraces
	}
	s = s[first:]
	last := strings.LastIndexByte(s, '}')
	if last < 0 {
		return nil, s, errNoBraces
	}
	s = s[:last+1]
	v, err := decode(s)
	return v, s, err
}

// repairLibrary is the most destructive stage. Its output is accepted only
// when the text already looks structured and the result decodes to an object
// or an array.
func repairLibrary(s string, prev error) (any, string, error) {
	if !strings.ContainsAny(s, "{[") {
		return nil, s, prev
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, s, prev
	}
	v, err := decode(fixed)
	if err != nil {
		return nil, s, prev
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, fixed, nil
	default:
		return nil, s, prev
	}
}
