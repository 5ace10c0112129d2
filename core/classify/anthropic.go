package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the model used for routing classification and
	// summaries. Both calls are tiny; a small fast model is the right fit.
	DefaultModel = "claude-haiku-4-5-20251001"

	// DefaultTimeout bounds each classification call. Routing falls through
	// to the sticky strategies when the classifier is slow.
	DefaultTimeout = 20 * time.Second

	classifySystemPrompt = "You are a routing classifier. Do NOT answer or respond to the message content."

	summarizeSystemPrompt = "You are a notification assistant. Given a user's last request, " +
		"write ONLY a brief 3-8 word summary of what was completed. " +
		"Do not include any thinking, explanations, or extra text. " +
		"Output format: Just the summary message."
)

// AnthropicConfig configures the Anthropic-backed classifier.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// AnthropicClassifier implements Classifier and Summarizer against the
// Anthropic Messages API.
type AnthropicClassifier struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAnthropicClassifier creates a classifier. The API key must be non-empty.
func NewAnthropicClassifier(config AnthropicConfig) (*AnthropicClassifier, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic classifier: API key required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	return &AnthropicClassifier{
		client:  &client,
		model:   config.Model,
		timeout: config.Timeout,
		logger:  config.Logger,
	}, nil
}

// Classify asks the model whether the body explicitly addresses one of the
// candidate labels. Failures return an error; the caller treats any error as
// "no opinion".
func (c *AnthropicClassifier) Classify(ctx context.Context, body string, labels []string) (*Match, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 200,
		System: []anthropic.TextBlockParam{
			{Text: classifySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classifyPrompt(body, labels))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic classify: %w", err)
	}

	output := responseText(msg)
	c.logger.Debug("classifier output", "raw", output)
	return parseClassifyAnswer(output, body), nil
}

// Summarize produces the 3-8 word completion summary for at-desk speech.
func (c *AnthropicClassifier) Summarize(ctx context.Context, lastUserPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"User's last request: %s\n\nWrite a 3-8 word summary of what was done:",
		truncateRunes(lastUserPrompt, 500),
	)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 40,
		System: []anthropic.TextBlockParam{
			{Text: summarizeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}

	summary := strings.Trim(responseText(msg), "\"' ")
	if summary == "" {
		return "", fmt.Errorf("anthropic summarize: empty response")
	}
	return truncateRunes(summary, 200), nil
}

// classifyPrompt builds the routing-classification prompt. The body is
// wrapped in a <message> element; its closing tag is stripped from the body
// first so the message cannot break out of the element.
func classifyPrompt(body string, labels []string) string {
	safeBody := strings.ReplaceAll(body, "</message>", "")
	var list strings.Builder
	for _, label := range labels {
		list.WriteString("- ")
		list.WriteString(label)
		list.WriteString("\n")
	}
	return fmt.Sprintf(
		"MESSAGE TO CLASSIFY:\n<message>\n%s\n</message>\n\n"+
			"ACTIVE AGENT SESSIONS:\n%s\n"+
			"Session labels use hyphens where users may write spaces (e.g. 'my agent' refers to 'my-agent').\n"+
			"Does the message contain EXPLICIT routing intent to a specific session? "+
			"(direct address like 'To X,', 'ask X', '[X]', 'my agent')\n"+
			"If yes, reply on two lines:\n"+
			"LINE1: exact session label\n"+
			"LINE2: message with routing prefix removed\n"+
			"If no explicit routing intent, reply: none",
		safeBody, list.String(),
	)
}

// parseClassifyAnswer parses the LINE1/LINE2 answer format. A "none" or
// empty answer yields nil. A missing second line keeps the original body.
func parseClassifyAnswer(output, body string) *Match {
	output = strings.TrimSpace(output)
	if output == "" || strings.EqualFold(output, "none") {
		return nil
	}

	lines := strings.Split(output, "\n")
	label := strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), "LINE1:")), "\"'")
	if label == "" {
		return nil
	}
	cleaned := body
	if len(lines) > 1 {
		if second := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[1]), "LINE2:")); second != "" {
			cleaned = second
		}
	}
	return &Match{Label: label, Cleaned: cleaned}
}

func responseText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
