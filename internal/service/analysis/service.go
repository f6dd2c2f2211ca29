package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"datalens/internal/config"
)

// ErrUpstream marks a failure of the external analysis provider. It never
// reflects a problem with the caller's stored data.
var ErrUpstream = errors.New("upstream analysis failure")

const defaultTimeout = 30 * time.Second

// SummarizeMaxRows caps the sample sent for summaries, which read a smaller
// slice than full analysis. Callers reporting how many rows were summarized
// should apply the same cap.
const SummarizeMaxRows = 50

// Service sends bounded row slices to an AI provider and returns free-form
// analysis text. It holds no persistent state of its own.
type Service struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
	maxRows   int
}

// NewService builds the chat model for the configured provider.
func NewService(provider string, provCfg config.ProviderConfig, timeout time.Duration, maxRows int) (*Service, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api key configured", provider)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRows <= 0 {
		maxRows = 100
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 2000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Service{
		chatModel: chatModel,
		timeout:   timeout,
		maxRows:   maxRows,
	}, nil
}

// AnalyzeRows sends the rows with an optional caller query and returns the
// provider's analysis text.
func (s *Service) AnalyzeRows(ctx context.Context, rows []map[string]any, query string) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no data to analyze", ErrUpstream)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		query = "Analyze this data and provide insights on:\n" +
			"1. Key trends and patterns\n" +
			"2. Anomalies or outliers\n" +
			"3. Recommendations\n" +
			"4. Summary statistics"
	}
	dataJSON, err := encodeRows(rows, s.maxRows)
	if err != nil {
		return "", err
	}
	systemPrompt := "You are a data analyst expert. Analyze the given tabular data and provide clear, actionable insights."
	userPrompt := fmt.Sprintf("%s\n\nHere is the data:\n%s\n\nProvide your analysis in a structured format with clear sections.", query, dataJSON)
	return s.generate(ctx, systemPrompt, userPrompt)
}

// SummarizeRows produces a concise description of the dataset's structure and
// contents.
func (s *Service) SummarizeRows(ctx context.Context, rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no data to summarize", ErrUpstream)
	}
	limit := s.maxRows
	if limit > SummarizeMaxRows {
		limit = SummarizeMaxRows
	}
	dataJSON, err := encodeRows(rows, limit)
	if err != nil {
		return "", err
	}
	systemPrompt := "You are a helpful assistant that summarizes tabular datasets. " +
		"Cover the data structure, key observations, potential use cases and data quality."
	userPrompt := fmt.Sprintf("Provide a concise summary of this data:\n%s", dataJSON)
	return s.generate(ctx, systemPrompt, userPrompt)
}

// SuggestCharts asks the provider for chart-type suggestions over a small
// sample and returns the decoded JSON response.
func (s *Service) SuggestCharts(ctx context.Context, columns []string, sample []map[string]any) (any, error) {
	dataJSON, err := encodeRows(sample, 5)
	if err != nil {
		return nil, err
	}
	userPrompt := fmt.Sprintf(
		"Based on the following data columns and sample, suggest the best chart types for visualization:\n\n"+
			"Columns: %s\n\nSample data (first 5 rows):\n%s\n\n"+
			"For each suggested chart, provide:\n"+
			"1. Chart type (bar, line, pie, scatter, etc.)\n"+
			"2. X and Y axis columns\n"+
			"3. Reason why this chart is suitable\n"+
			"4. Any data transformations needed\n\n"+
			"Respond with a single JSON object only.",
		strings.Join(columns, ", "), dataJSON)

	content, err := s.generate(ctx, "", userPrompt)
	if err != nil {
		return nil, err
	}
	var suggestions any
	if err := json.Unmarshal([]byte(extractJSON(content)), &suggestions); err != nil {
		return nil, fmt.Errorf("%w: decode suggestions: %v", ErrUpstream, err)
	}
	return suggestions, nil
}

func (s *Service) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := make([]*schema.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: userPrompt})

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return resp.Content, nil
}

func encodeRows(rows []map[string]any, limit int) (string, error) {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}

// extractJSON trims fenced code blocks some models wrap around JSON output.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
