package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

// Classifier is the classification oracle contract. A nil verdict with a nil
// error means "unavailable": the oracle produced no usable output and the
// caller proceeds without enrichment. A non-nil error is a transport failure
// eligible for retry.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (*Verdict, error)
}

const systemInstruction = `You are an expert AI assistant that processes technical support tickets.

Your job is to:
1. Summarize the issue.
2. Estimate its priority.
3. Provide helpful notes and resource links for human moderators.
4. List relevant technical skills required.

IMPORTANT:
- Respond with *only* valid raw JSON.
- Do NOT include markdown, code fences, comments, or any extra formatting.
- The format must be a raw JSON object.`

const promptTemplate = `Analyze the following support ticket and provide a JSON object with:

- summary: A short 1-2 sentence summary of the issue.
- priority: One of "low", "medium", or "high".
- helpfulNotes: A detailed technical explanation that a moderator can use to solve this issue. Include useful external links or resources if possible.
- relatedSkills: An array of relevant skills required to solve the issue (e.g., ["React", "MongoDB"]).

Respond ONLY in this JSON format and do not include any other text or markdown in the answer:

{
"summary": "Short summary of the ticket",
"priority": "high",
"helpfulNotes": "Here are useful tips...",
"relatedSkills": ["React", "Node.js"]
}

---

Ticket information:

- Title: %s
- Description: %s`

// GeminiClassifier calls the Gemini API to triage tickets.
type GeminiClassifier struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *zap.Logger
}

// NewGeminiClassifier builds the oracle adapter. Credentials are explicit
// configuration, not ambient process state.
func NewGeminiClassifier(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.3),
	}

	logger.Info("gemini classifier initialized", zap.String("model", cfg.Model))
	return &GeminiClassifier{client: client, model: model, logger: logger}, nil
}

// Close releases the underlying client.
func (c *GeminiClassifier) Close() error {
	return c.client.Close()
}

// Classify asks the model for a triage verdict. Empty or unparseable output
// is reported as unavailable, never as an error.
func (c *GeminiClassifier) Classify(ctx context.Context, title, description string) (*Verdict, error) {
	prompt := fmt.Sprintf(promptTemplate, title, description)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		c.logger.Warn("gemini returned no candidates")
		return nil, nil
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		c.logger.Warn("gemini returned a non-text part")
		return nil, nil
	}

	verdict, ok := ParseVerdict(string(text))
	if !ok {
		c.logger.Warn("gemini output failed strict parsing", zap.String("output", string(text)))
		return nil, nil
	}
	return verdict, nil
}
