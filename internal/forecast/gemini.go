package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const geminiURLTemplate = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// Where the API key travels on a Gemini request.
const (
	KeyInHeader = "header"
	KeyInQuery  = "query"
	KeyInBearer = "bearer"
)

const maxResponseBytes = 4 << 20

type geminiBackend struct {
	client          *http.Client
	keyIn           string
	temperature     float64
	maxOutputTokens int
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func (b *geminiBackend) generate(ctx context.Context, prompt string, creds Credentials) (reply, error) {
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(geminiURLTemplate, url.PathEscape(creds.Model))
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     b.temperature,
			MaxOutputTokens: b.maxOutputTokens,
		},
	})
	if err != nil {
		return reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	switch b.keyIn {
	case KeyInQuery:
		q := req.URL.Query()
		q.Set("key", creds.APIKey)
		req.URL.RawQuery = q.Encode()
	case KeyInBearer:
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	default:
		req.Header.Set("x-goog-api-key", creds.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return reply{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return reply{}, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(msg, 300))
	}
	return reply{body: body}, nil
}
