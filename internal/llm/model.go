package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/docchat/internal/config"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrFatalAPI marks provider errors that retrying won't fix
// (bad credentials, exhausted quota).
var ErrFatalAPI = errors.New("fatal LLM API error")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}

// Model wraps a langchaingo chat model.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
	metrics     *metrics.Collector
}

// NewModel creates the chat model selected by cfg.LLMProvider. mc may be nil.
func NewModel(ctx context.Context, cfg config.Config, mc *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		client, err := newBedrockClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	case config.ProviderGoogleAI:
		model, err = newGoogleAI(ctx, cfg.GoogleAPIKey, googleai.WithDefaultModel(cfg.LLMModel))
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return newModel(model, cfg.LLMModel, cfg.LLMTemperature, mc), nil
}

func newModel(model llms.Model, name string, temperature float64, mc *metrics.Collector) *Model {
	return &Model{llm: model, modelName: name, temperature: temperature, metrics: mc}
}

// newBedrockClient loads AWS credentials from the default chain.
func newBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// newGoogleAI creates a Gemini client.
func newGoogleAI(ctx context.Context, apiKey string, opts ...googleai.Option) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Google API key required")
	}
	client, err := googleai.New(ctx, append([]googleai.Option{googleai.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create googleai client: %w", err)
	}
	return client, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Generate answers a single prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
}

// Chat answers question after the given system prompt and prior turns.
func (m *Model) Chat(ctx context.Context, system string, history []models.HistoryEntry, question string) (string, error) {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, h := range history {
		role := llms.ChatMessageTypeHuman
		if h.Role == string(models.RoleModel) {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, h.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
	return m.generate(ctx, messages)
}

func (m *Model) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(m.temperature))
	duration := time.Since(start)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMGenerate)
		slog.Warn("generation failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("generate: no response choices")
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
	slog.Debug("generation complete", "model", m.modelName, "duration_ms", duration.Milliseconds(), "input_tokens", in, "output_tokens", out)
	return choice.Content, nil
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (in, out int64) {
	for _, key := range []string{"PromptTokens", "InputTokens", "input_tokens"} {
		if v, ok := asInt64(info[key]); ok {
			in = v
			break
		}
	}
	for _, key := range []string{"CompletionTokens", "OutputTokens", "output_tokens"} {
		if v, ok := asInt64(info[key]); ok {
			out = v
			break
		}
	}
	return in, out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
