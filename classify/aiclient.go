package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// classifierSystemPrompt instructs the model to answer with one of the
// four classes and a confidence, constructed as a single-turn chat call —
// grounded on ai/core/llm/service.go's Chat() shape, narrowed to this
// domain's one use.
const classifierSystemPrompt = `Ты классифицируешь входящие сообщения в чате бухгалтерской фирмы.
Ответь строго одной строкой в формате JSON: {"class": "REQUEST|SPAM|GRATITUDE|CLARIFICATION", "confidence": 0.0-1.0}.
REQUEST — клиент просит о чём-то или сообщает о проблеме, требующей ответа бухгалтера.
SPAM — реклама или нерелевантный контент.
GRATITUDE — благодарность, не требующая ответа.
CLARIFICATION — неясное сообщение, требующее уточнения.`

// OpenAIConfig configures the OpenAI-compatible client, matching
// ai/core/llm.Config's provider/model/key/baseURL/timeout shape.
type OpenAIConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// openAIClient implements AIClient against an OpenAI-compatible endpoint,
// constructed exactly as ai/core/llm/service.go builds its client (provider
// switch selecting a default base URL, openai.DefaultConfig + custom
// HTTPClient).
type openAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// providerDefaultBaseURL mirrors ai/core/llm/service.go's per-provider base
// URL table.
var providerDefaultBaseURL = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"zai":         "https://open.bigmodel.cn/api/paas/v4",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434",
}

// NewOpenAIClient constructs the AI classifier client.
func NewOpenAIClient(cfg OpenAIConfig) AIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerDefaultBaseURL[cfg.Provider]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &openAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
	}
}

func (c *openAIClient) Classify(ctx context.Context, text string) (Classification, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   64,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("AI classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("AI classify: empty response")
	}

	return parseClassifierResponse(resp.Choices[0].Message.Content)
}

func parseClassifierResponse(content string) (Classification, float64, error) {
	content = strings.TrimSpace(content)
	var parsed struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", 0, fmt.Errorf("AI classify: unparseable response %q: %w", content, err)
	}

	switch model.Classification(parsed.Class) {
	case model.ClassificationRequest, model.ClassificationSpam, model.ClassificationGratitude, model.ClassificationClarification:
		return model.Classification(parsed.Class), parsed.Confidence, nil
	default:
		return "", 0, fmt.Errorf("AI classify: unknown class %q", parsed.Class)
	}
}

// circuitBreakerAIClient wraps an AIClient with the exact breaker
// parameters spec.md §4.1 step 5b names: open after 5 consecutive
// failures, half-open after 60s, close after 2 consecutive successes in
// half-open. sony/gobreaker is drawn from the rest of the retrieval pack
// (jordigilh-kubernaut), not the teacher's own go.mod — see DESIGN.md.
type circuitBreakerAIClient struct {
	inner   AIClient
	breaker *gobreaker.CircuitBreaker
	metrics Metrics
}

// breakerStateReporter lets Classifier.SetMetrics reach through its
// AIClient field to the breaker without widening the AIClient interface
// every other implementation (including tests) would then have to satisfy.
type breakerStateReporter interface {
	setMetrics(m Metrics)
}

func (c *circuitBreakerAIClient) setMetrics(m Metrics) {
	c.metrics = m
}

func breakerStateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// NewCircuitBreakerAIClient wraps inner with the spec-mandated breaker.
func NewCircuitBreakerAIClient(inner AIClient) AIClient {
	settings := gobreaker.Settings{
		Name:        "classify-ai",
		MaxRequests: 2,
		Interval:    0,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &circuitBreakerAIClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (c *circuitBreakerAIClient) Classify(ctx context.Context, text string) (Classification, float64, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		class, confidence, err := c.inner.Classify(ctx, text)
		if err != nil {
			return nil, err
		}
		return [2]interface{}{class, confidence}, nil
	})
	if c.metrics != nil {
		c.metrics.SetBreakerState(breakerStateLabel(c.breaker.State()))
	}
	if err != nil {
		return "", 0, fmt.Errorf("classify circuit breaker: %w", err)
	}
	pair := result.([2]interface{})
	return pair[0].(Classification), pair[1].(float64), nil
}
