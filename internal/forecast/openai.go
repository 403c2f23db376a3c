package forecast

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const systemPrompt = `You are a market analyst. Output ONLY one valid JSON object with the keys requested by the user. No extra text.`

// chatModel is the slice of eino's ChatModel this backend uses.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type modelKey struct {
	apiKey, baseURL, model string
}

// openaiBackend talks to any OpenAI-compatible chat endpoint through eino.
// Models are built lazily per credential set and reused.
type openaiBackend struct {
	cfg         Config
	log         zerolog.Logger
	newModel    func(ctx context.Context, cfg *openai.ChatModelConfig) (chatModel, error)
	temperature float32
	maxTokens   int

	mu     sync.Mutex
	models map[modelKey]chatModel
}

func newOpenAIBackend(cfg Config, log zerolog.Logger) *openaiBackend {
	return &openaiBackend{
		cfg: cfg,
		log: log,
		newModel: func(ctx context.Context, mc *openai.ChatModelConfig) (chatModel, error) {
			return openai.NewChatModel(ctx, mc)
		},
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxOutputTokens,
		models:      make(map[modelKey]chatModel),
	}
}

func (b *openaiBackend) chat(ctx context.Context, creds Credentials) (chatModel, error) {
	key := modelKey{apiKey: creds.APIKey, baseURL: creds.Endpoint, model: creds.Model}

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.models[key]; ok {
		return m, nil
	}
	m, err := b.newModel(ctx, &openai.ChatModelConfig{
		APIKey:     creds.APIKey,
		Model:      creds.Model,
		BaseURL:    creds.Endpoint,
		ByAzure:    b.cfg.ByAzure,
		APIVersion: b.cfg.APIVersion,
		Timeout:    b.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	b.models[key] = m
	return m, nil
}

func (b *openaiBackend) generate(ctx context.Context, prompt string, creds Credentials) (reply, error) {
	m, err := b.chat(ctx, creds)
	if err != nil {
		return reply{}, err
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}
	var opts []model.Option
	if b.temperature > 0 {
		opts = append(opts, model.WithTemperature(b.temperature))
	}
	if b.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(b.maxTokens))
	}

	resp, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		b.logError(err)
		return reply{}, err
	}
	if resp == nil {
		return reply{}, errors.New("empty chat response")
	}
	return reply{body: []byte(strings.TrimSpace(resp.Content)), text: true}, nil
}

func (b *openaiBackend) logError(err error) {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		b.log.Warn().
			Int("status", apiErr.HTTPStatusCode).
			Str("message", truncate(apiErr.Message, 300)).
			Msg("chat api error")
		return
	}
	b.log.Warn().Err(err).Msg("chat request failed")
}
