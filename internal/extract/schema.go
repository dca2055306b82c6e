package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dvloznov/expense-tracker/internal/expense"
)

// ReceiptJSONSchema returns the fixed output contract sent to the model and
// enforced locally on its response: exactly {vendor, totalAmount,
// transactionDate, category}, nothing optional, nothing extra.
func ReceiptJSONSchema() map[string]any {
	categories := make([]any, 0, len(expense.Categories()))
	for _, c := range expense.Categories() {
		categories = append(categories, string(c))
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"vendor": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"totalAmount": map[string]any{
				"type":    "number",
				"minimum": 0,
			},
			"transactionDate": map[string]any{
				"type":    "string",
				"pattern": `^\d{4}-\d{2}-\d{2}$`,
			},
			"category": map[string]any{
				"type": "string",
				"enum": categories,
			},
		},
		"required": []any{"vendor", "totalAmount", "transactionDate", "category"},
	}
}

// ValidateAgainstSchema validates data against schemaMap. Any deviation from
// the contract counts as extractor failure and triggers degradation.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
