package forecast

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

type Shape string

const (
	ShapeParts   Shape = "candidates.content.parts"
	ShapeOutput  Shape = "candidates.output"
	ShapeContent Shape = "candidates.content"
	// ShapeBody is a JSON body that is itself the forecast object.
	ShapeBody Shape = "body"
	// ShapeText is a reply that was text to begin with.
	ShapeText Shape = "text"
)

type Candidate struct {
	Shape Shape
	Text  string
}

type extractor struct {
	shape Shape
	fn    func(doc gjson.Result) (string, bool)
}

// extractors run in priority order; the first match wins.
var extractors = []extractor{
	{ShapeParts, partsText},
	{ShapeOutput, stringAt("candidates.0.output")},
	{ShapeContent, stringAt("candidates.0.content")},
}

func partsText(doc gjson.Result) (string, bool) {
	parts := doc.Get("candidates.0.content.parts")
	if !parts.IsArray() {
		return "", false
	}
	var texts []string
	parts.ForEach(func(_, p gjson.Result) bool {
		if t := p.Get("text"); t.Type == gjson.String && t.Str != "" {
			texts = append(texts, t.Str)
		}
		return true
	})
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, ""), true
}

func stringAt(path string) func(gjson.Result) (string, bool) {
	return func(doc gjson.Result) (string, bool) {
		v := doc.Get(path)
		if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
			return "", false
		}
		return v.Str, true
	}
}

// ExtractCandidate finds the model text in a response body. A body that is
// not JSON is taken whole. A JSON body with none of the known layouts is a
// schema mismatch unless it carries a forecast object directly.
func ExtractCandidate(body []byte) (Candidate, *Error) {
	if !gjson.ValidBytes(body) {
		return Candidate{Shape: ShapeText, Text: string(body)}, nil
	}
	doc := gjson.ParseBytes(body)
	for _, ex := range extractors {
		if text, ok := ex.fn(doc); ok {
			return Candidate{Shape: ex.shape, Text: text}, nil
		}
	}
	if obj, ok := ScanObject(string(body), Sentinels...); ok {
		return Candidate{Shape: ShapeBody, Text: obj}, nil
	}
	return Candidate{}, newError(KindSchemaMismatch, nil, "response has no candidate text (%s)", truncate(string(body), 120))
}

func Decode(body []byte, strict bool) (Analysis, *Error) {
	c, ferr := ExtractCandidate(body)
	if ferr != nil {
		return Analysis{}, ferr
	}
	return DecodeText(c.Text, strict)
}

// DecodeText parses the first forecast object embedded in text. Without one,
// the text becomes a free-form summary, or a json_parse_error when strict.
func DecodeText(text string, strict bool) (Analysis, *Error) {
	obj, found, malformed := scan(text, Sentinels)
	if found {
		a, err := decodeAnalysis(obj)
		if err != nil {
			return Analysis{}, newError(KindJSONParse, err, "forecast object does not match schema")
		}
		return a, nil
	}
	if malformed {
		return Analysis{}, newError(KindJSONParse, nil, "forecast object is not well-formed JSON")
	}

	trimmed := strings.TrimSpace(text)
	if strict {
		return Analysis{}, newError(KindJSONParse, nil, "reply has no JSON object (%s)", truncate(trimmed, 120))
	}
	if trimmed == "" {
		return Analysis{}, newError(KindJSONParse, nil, "empty reply")
	}
	return Analysis{Summary: &trimmed, FreeForm: true, Raw: text}, nil
}

// ScanObject returns the first balanced {...} span in text that is valid
// JSON and has one of keys at its top level. Braces inside string literals
// are ignored.
func ScanObject(text string, keys ...string) (string, bool) {
	obj, found, _ := scan(text, keys)
	return obj, found
}

const (
	// maxScanBytes bounds how much of a reply is searched for an object.
	maxScanBytes = 256 << 10
	// maxCandidates bounds how many keyed spans are validated.
	maxCandidates = 64
)

type span struct{ start, end int }

// scan also reports whether a balanced span with a key at its own level
// failed to parse, which separates a broken object from plain prose. Spans
// are found in one pass and only keyed ones are validated.
func scan(text string, keys []string) (obj string, found, malformed bool) {
	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	hits := keyOffsets(text, keys)
	if len(hits) == 0 {
		return "", false, false
	}

	var (
		open              []int
		keyed             []bool
		spans             []span
		next              int
		inString, escaped bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			if len(open) == 0 {
				continue
			}
			inString = true
			for next < len(hits) && hits[next] < i {
				next++
			}
			if next < len(hits) && hits[next] == i {
				keyed[len(keyed)-1] = true
			}
		case '{':
			open = append(open, i)
			keyed = append(keyed, false)
		case '}':
			n := len(open)
			if n == 0 {
				continue
			}
			if keyed[n-1] {
				spans = append(spans, span{open[n-1], i})
			}
			open, keyed = open[:n-1], keyed[:n-1]
		}
	}

	sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })
	if len(spans) > maxCandidates {
		spans = spans[:maxCandidates]
	}
	for _, sp := range spans {
		candidate := text[sp.start : sp.end+1]
		if !gjson.Valid(candidate) {
			malformed = true
			continue
		}
		if hasTopLevelKey(candidate, keys) {
			return candidate, true, false
		}
	}
	return "", false, malformed
}

// keyOffsets lists the sorted offsets of every quoted key in text.
func keyOffsets(text string, keys []string) []int {
	var out []int
	for _, k := range keys {
		quoted := `"` + k + `"`
		for from := 0; ; {
			i := strings.Index(text[from:], quoted)
			if i < 0 {
				break
			}
			out = append(out, from+i)
			from += i + len(quoted)
		}
	}
	sort.Ints(out)
	return out
}

func hasTopLevelKey(obj string, keys []string) bool {
	r := gjson.Parse(obj)
	if !r.IsObject() {
		return false
	}
	for _, k := range keys {
		if r.Get(k).Exists() {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
