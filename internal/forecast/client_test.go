package forecast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *countingObserver) ObserveForecast(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func geminiReply(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + quote(text) + `}]}}]}`
}

func quote(s string) string {
	b := []byte{'"'}
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		default:
			b = append(b, string(r)...)
		}
	}
	return string(append(b, '"'))
}

func TestCall_noCredentialSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c, err := New(Config{Endpoint: srv.URL}, WithObserver(obs))
	require.NoError(t, err)

	_, ferr := c.Call(context.Background(), "prompt", Credentials{APIKey: "  "})
	require.NotNil(t, ferr)
	assert.Equal(t, KindNoCredential, ferr.Kind)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, []string{"no_credential"}, obs.outcomes)
}

func TestCall_geminiRequestAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "the prompt", gjson.GetBytes(body, "contents.0.parts.0.text").String())
		assert.Equal(t, 0.2, gjson.GetBytes(body, "generationConfig.temperature").Float())
		assert.Equal(t, int64(500), gjson.GetBytes(body, "generationConfig.maxOutputTokens").Int())

		_, _ = io.WriteString(w, geminiReply(`some commentary {"summary":"ok","prediction_1h":1.2} trailing text`))
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c, err := New(Config{Provider: ProviderGemini}, WithObserver(obs))
	require.NoError(t, err)

	a, ferr := c.Call(context.Background(), "the prompt", Credentials{APIKey: "secret", Endpoint: srv.URL})
	require.Nil(t, ferr)
	assert.Equal(t, "ok", *a.Summary)
	assert.Equal(t, 1.2, *a.Prediction1h)
	assert.Equal(t, []string{"ok"}, obs.outcomes)
}

func TestCall_keyInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Empty(t, r.Header.Get("x-goog-api-key"))
		_, _ = io.WriteString(w, geminiReply(`{"summary":"q"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, KeyIn: KeyInQuery})
	require.NoError(t, err)

	a, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "secret"})
	require.Nil(t, ferr)
	assert.Equal(t, "q", *a.Summary)
}

func TestCall_non2xxIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "bad"})
	require.NotNil(t, ferr)
	assert.Equal(t, KindNetwork, ferr.Kind)
	assert.Contains(t, ferr.Error(), "status 403: API key not valid")
}

func TestCall_timeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "k"})
	require.NotNil(t, ferr)
	assert.Equal(t, KindNetwork, ferr.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCall_schemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"unexpected":{"shape":true}}`)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "k"})
	require.NotNil(t, ferr)
	assert.Equal(t, KindSchemaMismatch, ferr.Kind)
}

func TestNew_unknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "palm"})
	assert.Error(t, err)
}

type fakeChat struct {
	content string
	err     error
	got     []*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func withFakeChat(t *testing.T, c *Client, chat *fakeChat) *int {
	t.Helper()
	b, ok := c.backend.(*openaiBackend)
	require.True(t, ok)
	built := 0
	b.newModel = func(_ context.Context, mc *openai.ChatModelConfig) (chatModel, error) {
		built++
		assert.Equal(t, "k", mc.APIKey)
		assert.Equal(t, "gpt-4o-mini", mc.Model)
		return chat, nil
	}
	return &built
}

func TestCall_openaiBackend(t *testing.T) {
	c, err := New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	chat := &fakeChat{content: "```json\n{\"summary\":\"calm\",\"confidence_percent\":\"55\"}\n```"}
	built := withFakeChat(t, c, chat)

	a, ferr := c.Call(context.Background(), "the prompt", Credentials{APIKey: "k"})
	require.Nil(t, ferr)
	assert.Equal(t, "calm", *a.Summary)
	assert.Equal(t, 55.0, *a.ConfidencePercent)

	require.Len(t, chat.got, 2)
	assert.Equal(t, schema.System, chat.got[0].Role)
	assert.Equal(t, "the prompt", chat.got[1].Content)

	// the model is reused for the same credentials
	_, ferr = c.Call(context.Background(), "again", Credentials{APIKey: "k"})
	require.Nil(t, ferr)
	assert.Equal(t, 1, *built)
}

func TestCall_openaiFreeFormAndErrors(t *testing.T) {
	c, err := New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	chat := &fakeChat{content: "Prices drift sideways."}
	withFakeChat(t, c, chat)

	a, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "k"})
	require.Nil(t, ferr)
	assert.True(t, a.FreeForm)
	assert.Equal(t, "Prices drift sideways.", *a.Summary)

	chat.err = errors.New("connection refused")
	_, ferr = c.Call(context.Background(), "p", Credentials{APIKey: "k"})
	require.NotNil(t, ferr)
	assert.Equal(t, KindNetwork, ferr.Kind)
	assert.ErrorContains(t, ferr, "connection refused")
}

func TestCall_strictRejectsFreeForm(t *testing.T) {
	c, err := New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini", Strict: true})
	require.NoError(t, err)
	withFakeChat(t, c, &fakeChat{content: "no structure here"})

	_, ferr := c.Call(context.Background(), "p", Credentials{APIKey: "k"})
	require.NotNil(t, ferr)
	assert.Equal(t, KindJSONParse, ferr.Kind)
}
