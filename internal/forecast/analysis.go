package forecast

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"market-snapshot/internal/prompt"
)

const KeyPredictions = "predictions"

// Sentinels are the top-level keys that mark an object as a forecast reply.
var Sentinels = []string{prompt.KeySummary, KeyPredictions}

// Analysis is the structured reply. A nil field was not supplied by the
// model; it is never zero-filled.
type Analysis struct {
	Summary           *string             `json:"summary,omitempty"`
	Prediction1h      *float64            `json:"prediction_1h,omitempty"`
	Prediction24h     *float64            `json:"prediction_24h,omitempty"`
	ConfidencePercent *float64            `json:"confidence_percent,omitempty"`
	Rationale         *string             `json:"rationale,omitempty"`
	Predictions       map[string]CoinMove `json:"predictions,omitempty"`
	// FreeForm is set when the reply carried no object and Summary holds the
	// whole reply text.
	FreeForm bool   `json:"free_form,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

type CoinMove struct {
	Move string   `json:"move,omitempty"`
	Pct  *float64 `json:"pct,omitempty"`
}

func decodeAnalysis(obj string) (Analysis, error) {
	r := gjson.Parse(obj)
	if !r.IsObject() {
		return Analysis{}, fmt.Errorf("not an object")
	}

	a := Analysis{Raw: obj}
	var err error
	if a.Summary, err = textField(r, prompt.KeySummary); err != nil {
		return Analysis{}, err
	}
	if a.Rationale, err = textField(r, prompt.KeyRationale); err != nil {
		return Analysis{}, err
	}
	if a.Prediction1h, err = numberField(r, prompt.KeyPrediction1h); err != nil {
		return Analysis{}, err
	}
	if a.Prediction24h, err = numberField(r, prompt.KeyPrediction24h); err != nil {
		return Analysis{}, err
	}
	if a.ConfidencePercent, err = numberField(r, prompt.KeyConfidencePercent); err != nil {
		return Analysis{}, err
	}
	if a.Predictions, err = movesField(r, KeyPredictions); err != nil {
		return Analysis{}, err
	}
	return sanitizeAnalysis(a), nil
}

func sanitizeAnalysis(a Analysis) Analysis {
	if c := a.ConfidencePercent; c != nil {
		v := *c
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		a.ConfidencePercent = &v
	}
	return a
}

func textField(r gjson.Result, key string) (*string, error) {
	v := r.Get(key)
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		return &s, nil
	case gjson.Number, gjson.True, gjson.False:
		s := v.Raw
		return &s, nil
	default:
		return nil, fmt.Errorf("%s: want text, got %s", key, kindOf(v))
	}
}

// numberField accepts JSON numbers and numeric strings such as "1.2" or
// "85%". Non-finite values are treated as not supplied.
func numberField(r gjson.Result, key string) (*float64, error) {
	v := r.Get(key)
	var f float64
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		f = v.Num
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		s = strings.ReplaceAll(s, ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", key, v.Str)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%s: want number, got %s", key, kindOf(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return &f, nil
}

func movesField(r gjson.Result, key string) (map[string]CoinMove, error) {
	v := r.Get(key)
	if v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsObject() {
		return nil, fmt.Errorf("%s: want object, got %s", key, kindOf(v))
	}

	out := make(map[string]CoinMove)
	var err error
	v.ForEach(func(name, entry gjson.Result) bool {
		if !entry.IsObject() {
			err = fmt.Errorf("%s.%s: want object, got %s", key, name.String(), kindOf(entry))
			return false
		}
		var m CoinMove
		move, ferr := textField(entry, "move")
		if ferr != nil {
			err = fmt.Errorf("%s.%s: %w", key, name.String(), ferr)
			return false
		}
		if move != nil {
			m.Move = strings.ToLower(*move)
		}
		if m.Pct, ferr = numberField(entry, "pct"); ferr != nil {
			err = fmt.Errorf("%s.%s: %w", key, name.String(), ferr)
			return false
		}
		out[name.String()] = m
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func kindOf(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	}
	return v.Type.String()
}
