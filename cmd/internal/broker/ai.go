package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

var (
	// ErrNoAPIKeys is returned when the client is constructed without keys.
	ErrNoAPIKeys = errors.New("broker: no AI API keys configured")

	// ErrKeysExhausted is returned when every configured key has failed
	// too many times in a row.
	ErrKeysExhausted = errors.New("broker: all AI API keys exhausted")
)

// Analysis is the AI read on a short conversation window.
type Analysis struct {
	Mood        v1.Mood
	Replies     []string
	Suggestions []string
}

// AIService is the outbound AI collaborator. Implementations must be safe
// for concurrent use; every orchestrator worker shares one instance.
type AIService interface {
	// Analyze returns mood plus reply and activity suggestions for a
	// conversation window. Responses that cannot be parsed degrade to a
	// neutral default rather than an error.
	Analyze(ctx context.Context, conversation, lang string) (Analysis, error)

	// Continue completes a partially typed message. The continuation never
	// repeats the user's text.
	Continue(ctx context.Context, partial, recentContext, lang string) (string, error)

	// Summarize condenses a list of message lines into a few sentences.
	Summarize(ctx context.Context, messages []string, lang string) (string, error)

	// TranslateBatch translates a set of messages keyed by message id.
	TranslateBatch(ctx context.Context, messages map[string]string, targetLang string) (map[string]string, error)
}

const (
	defaultChatModel   = "llama-3.3-70b-versatile"
	defaultAIBaseURL   = "https://api.groq.com/openai/v1"
	maxKeyFailures     = 3
	blacklistedKeyMark = 999
)

// fencedJSON matches a JSON object wrapped in a markdown code fence.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// GroqClient talks to an OpenAI-compatible chat completions endpoint.
// It rotates across several API keys, preferring the key with the fewest
// recent failures and blacklisting keys rejected as unauthorized.
type GroqClient struct {
	log     *slog.Logger
	client  *http.Client
	metrics *Metrics
	baseURL string
	model   string

	mu       sync.Mutex
	keys     []string
	failures map[string]int
}

// GroqOption customizes a GroqClient.
type GroqOption func(*GroqClient)

// WithAIBaseURL points the client at a different completions endpoint.
func WithAIBaseURL(u string) GroqOption {
	return func(c *GroqClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithAIModel overrides the completion model.
func WithAIModel(model string) GroqOption {
	return func(c *GroqClient) { c.model = model }
}

// WithAIHTTPClient overrides the underlying HTTP client.
func WithAIHTTPClient(client *http.Client) GroqOption {
	return func(c *GroqClient) { c.client = client }
}

// NewGroqClient builds a client over the given API keys. At least one
// non-empty key is required.
func NewGroqClient(log *slog.Logger, metrics *Metrics, keys []string, opts ...GroqOption) (*GroqClient, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoAPIKeys
	}

	c := &GroqClient{
		log:      log,
		client:   &http.Client{Timeout: 30 * time.Second},
		metrics:  metrics,
		baseURL:  defaultAIBaseURL,
		model:    defaultChatModel,
		keys:     cleaned,
		failures: make(map[string]int, len(cleaned)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// workingKey picks the usable key with the fewest failures.
func (c *GroqClient) workingKey() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	best, bestFailures := "", -1
	for _, k := range c.keys {
		n := c.failures[k]
		if n >= maxKeyFailures {
			continue
		}
		if bestFailures < 0 || n < bestFailures {
			best, bestFailures = k, n
		}
	}
	if best == "" {
		return "", ErrKeysExhausted
	}
	return best, nil
}

func (c *GroqClient) recordOutcome(key string, ok, unauthorized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case ok:
		c.failures[key] = 0
	case unauthorized:
		c.failures[key] = blacklistedKeyMark
	default:
		c.failures[key]++
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete runs one prompt through the endpoint, rotating keys on failure.
func (c *GroqClient) complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < len(c.keys); attempt++ {
		key, err := c.workingKey()
		if err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", err
		}

		content, status, err := c.doRequest(ctx, key, body)
		if err == nil {
			c.recordOutcome(key, true, false)
			return content, nil
		}

		c.recordOutcome(key, false, status == http.StatusUnauthorized)
		c.log.Warn("ai.key_failed", "key_prefix", keyPrefix(key), "status", status, "error", err)
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = ErrKeysExhausted
	}
	return "", lastErr
}

func (c *GroqClient) doRequest(ctx context.Context, key string, body []byte) (content string, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("calling completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, errors.New("completion response had no choices")
	}
	return parsed.Choices[0].Message.Content, resp.StatusCode, nil
}

// defaultAnalysis is the graceful fallback when the model returns junk.
func defaultAnalysis() Analysis {
	return Analysis{
		Mood:        v1.Mood{Score: 50, Label: "neutral"},
		Replies:     []string{"Got it!", "Interesting", "Tell me more"},
		Suggestions: []string{"That's great!"},
	}
}

func (c *GroqClient) Analyze(ctx context.Context, conversation, lang string) (Analysis, error) {
	prompt := fmt.Sprintf(`%s
Analyze the following conversation and return a **valid JSON object** with exactly three fields:
- "mood": an object with "score" (0-100) and "label" (string: positive/neutral/negative)
- "replies": a list of 3 short, casual, friendly replies to the last message, considering context
- "suggestions": a list of 1 activity suggestion based on keywords

Conversation:
%s

JSON:`, languageInstruction(lang), conversation)

	result, err := c.complete(ctx, prompt, 400, 0.7)
	if err != nil {
		c.countCall("analyze", "error")
		return Analysis{}, fmt.Errorf("analyzing conversation: %w", err)
	}
	c.countCall("analyze", "ok")

	analysis, ok := parseAnalysis(result)
	if !ok {
		c.log.Warn("ai.analysis_unparseable", "raw", truncate(result, 200))
		return defaultAnalysis(), nil
	}
	return analysis, nil
}

// parseAnalysis accepts a bare JSON object or one wrapped in a markdown
// fence, and requires all three fields to be present.
func parseAnalysis(raw string) (Analysis, bool) {
	jsonStr := raw
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		jsonStr = m[1]
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return Analysis{}, false
	}
	for _, k := range []string{"mood", "replies", "suggestions"} {
		if _, present := fields[k]; !present {
			return Analysis{}, false
		}
	}

	var out Analysis
	if err := json.Unmarshal(fields["mood"], &out.Mood); err != nil {
		return Analysis{}, false
	}
	if err := json.Unmarshal(fields["replies"], &out.Replies); err != nil {
		return Analysis{}, false
	}
	if err := json.Unmarshal(fields["suggestions"], &out.Suggestions); err != nil {
		return Analysis{}, false
	}
	return out, true
}

func (c *GroqClient) Continue(ctx context.Context, partial, recentContext, lang string) (string, error) {
	prompt := fmt.Sprintf(`%s
You are a smart typing assistant. Continue the user's current message naturally.

Rules:
- Return only the continuation.
- Do NOT repeat the user's text.
- Maximum 12 words.
- Keep tone consistent with conversation.

Recent conversation:
%s

User is typing:
"%s"

Continuation:`, languageInstruction(lang), recentContext, partial)

	result, err := c.complete(ctx, prompt, 30, 0.5)
	if err != nil {
		c.countCall("continue", "error")
		return "", fmt.Errorf("generating continuation: %w", err)
	}
	c.countCall("continue", "ok")
	return strings.TrimSpace(result), nil
}

func (c *GroqClient) Summarize(ctx context.Context, messages []string, lang string) (string, error) {
	prompt := fmt.Sprintf(`%s
Summarize the following conversation in 2-3 sentences.
Conversation:
%s
Summary:`, languageInstruction(lang), strings.Join(messages, "\n"))

	result, err := c.complete(ctx, prompt, 100, 0.3)
	if err != nil {
		c.countCall("summarize", "error")
		return "", fmt.Errorf("summarizing conversation: %w", err)
	}
	c.countCall("summarize", "ok")

	if summary := strings.TrimSpace(result); summary != "" {
		return summary, nil
	}
	return "No summary available.", nil
}

// translationExamples anchors the model for a few target languages.
var translationExamples = map[string]string{
	"hi": `Example: "Hello" -> "नमस्ते"`,
	"kn": `Example: "Hello" -> "ನಮಸ್ಕಾರ"`,
	"en": `Example: "नमस्ते" -> "Hello"`,
}

func (c *GroqClient) TranslateBatch(ctx context.Context, messages map[string]string, targetLang string) (map[string]string, error) {
	lines := make([]string, 0, len(messages))
	for id, content := range messages {
		lines = append(lines, fmt.Sprintf("%s: %q", id, content))
	}

	prompt := fmt.Sprintf(`You are a translator. Translate each of the following messages to **%[1]s**.
%[2]s

Return a JSON object where keys are message IDs (as strings) and values are the translated text in %[1]s.
Do NOT include any other text, explanation, or markdown. ONLY output the raw JSON.

Messages:
%[3]s

JSON:`, targetLang, translationExamples[targetLang], strings.Join(lines, "\n"))

	result, err := c.complete(ctx, prompt, 2000, 0.2)
	if err != nil {
		c.countCall("translate", "error")
		return nil, fmt.Errorf("translating messages: %w", err)
	}

	var translations map[string]string
	if err := json.Unmarshal([]byte(result), &translations); err != nil {
		c.countCall("translate", "error")
		return nil, fmt.Errorf("decoding translation response: %w", err)
	}
	c.countCall("translate", "ok")
	return translations, nil
}

func (c *GroqClient) countCall(op, outcome string) {
	if c.metrics != nil {
		c.metrics.AICalls.WithLabelValues(op, outcome).Inc()
	}
}

func languageInstruction(lang string) string {
	if lang == "" || lang == "en" {
		return ""
	}
	return fmt.Sprintf("Respond in %s language.", lang)
}

func keyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
