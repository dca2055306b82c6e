package extract

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/expense-tracker/internal/expense"
)

// DefaultModelName is the default Gemini model used for receipt extraction.
const DefaultModelName = "gemini-2.5-flash"

// ModelClient provides an interface for the generative-language call.
// This interface enables mocking and testing of the structured extractor.
type ModelClient interface {
	// GenerateReceiptJSON sends raw receipt text to the model under the
	// fixed output schema and returns the raw JSON response text.
	GenerateReceiptJSON(ctx context.Context, rawText string) (string, error)
}

// GeminiClient is the concrete ModelClient backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. Credentials come from the
// environment (GEMINI_API_KEY or ADC).
func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

// GenerateReceiptJSON calls the model with the receipt text plus the fixed
// response schema, so the service itself constrains the output shape.
func (c *GeminiClient) GenerateReceiptJSON(ctx context.Context, rawText string) (string, error) {
	prompt := buildReceiptPrompt()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{Text: rawText},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   receiptResponseSchema(),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("GenerateReceiptJSON: generate content: %w", err)
	}

	rawJSON := resp.Text()
	if rawJSON == "" {
		return "", fmt.Errorf("GenerateReceiptJSON: empty response from model")
	}
	return rawJSON, nil
}

// buildReceiptPrompt builds the instruction block placed before the OCR text.
func buildReceiptPrompt() string {
	var b strings.Builder
	b.WriteString("You are a receipt parser. The next message is the raw OCR text of one purchase receipt.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract the vendor name, the final total paid, the transaction date and a spending category.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no extra text).\n")
	b.WriteString("- Output a single JSON object with exactly these fields:\n")
	b.WriteString("  - \"vendor\": string\n")
	b.WriteString("  - \"totalAmount\": number (the grand total, not a subtotal)\n")
	b.WriteString("  - \"transactionDate\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("  - \"category\": one of: ")
	for i, c := range expense.Categories() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(c))
	}
	b.WriteString("\n\nRules:\n")
	b.WriteString("- If the date on the receipt has no year, assume the current year.\n")
	b.WriteString("- If you are unsure of the category, use \"Other\".\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	return b.String()
}

// receiptResponseSchema mirrors ReceiptJSONSchema in the Gemini schema type.
func receiptResponseSchema() *genai.Schema {
	categories := make([]string, 0, len(expense.Categories()))
	for _, c := range expense.Categories() {
		categories = append(categories, string(c))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"vendor":          {Type: genai.TypeString},
			"totalAmount":     {Type: genai.TypeNumber},
			"transactionDate": {Type: genai.TypeString},
			"category":        {Type: genai.TypeString, Enum: categories},
		},
		Required: []string{"vendor", "totalAmount", "transactionDate", "category"},
	}
}
