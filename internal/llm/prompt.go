package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oselz/taxon/internal/model"
)

// BuildBatchPrompt renders the full prompt for one (batch, taxonomy) pair:
// every item's identifying fields, the complete list of valid targets with
// their IDs, and the exact response shape expected.
func BuildBatchPrompt(items []model.EnrichedItem, targets []model.TargetValue, kind model.ItemKind) string {
	var b strings.Builder

	noun := "category"
	if kind == model.KindTag {
		noun = "tag"
	}

	fmt.Fprintf(&b, "You are a product classification expert. Assign the best %s for each product below.\n\n", noun)

	b.WriteString("PRODUCTS:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. id: %s\n   name: %s\n", i+1, item.ID, item.Name)
		if item.SKU != "" {
			fmt.Fprintf(&b, "   sku: %s\n", item.SKU)
		}
		if item.SupplierName != "" {
			fmt.Fprintf(&b, "   supplier: %s\n", item.SupplierName)
		}
		if item.Description != "" {
			fmt.Fprintf(&b, "   description: %s\n", truncate(item.Description, 400))
		}
		if len(item.Attributes) > 0 {
			fmt.Fprintf(&b, "   attributes: %s\n", formatAttributes(item.Attributes))
		}
		if kind == model.KindCategory && item.CategoryName != nil && *item.CategoryName != "" {
			fmt.Fprintf(&b, "   current category: %s\n", *item.CategoryName)
		}
	}

	fmt.Fprintf(&b, "\nVALID %s VALUES (use the id exactly as written):\n", strings.ToUpper(noun))
	for _, t := range targets {
		fmt.Fprintf(&b, "- %s: %s (path: %s, level: %d)\n", t.ID, t.Name, t.Path, t.Level)
	}

	b.WriteString("\nRespond with ONLY a JSON object in exactly this shape:\n")
	if kind == model.KindTag {
		b.WriteString(`{"suggestions": [{"item_id": "...", "tags": [{"tag_id": "...", "proposed_name": null, "confidence": 0.0}], "confidence": 0.0, "reasoning": "..."}]}`)
		b.WriteString("\n\nRules:\n")
		b.WriteString("- For each product return every applicable tag with its own confidence between 0 and 1.\n")
		b.WriteString("- If NO suitable tag exists for a concept, set tag_id to null and provide proposed_name instead.\n")
	} else {
		b.WriteString(`{"suggestions": [{"item_id": "...", "suggested_target_id": "...", "proposed_name": null, "confidence": 0.0, "reasoning": "...", "alternatives": [{"target_id": "...", "confidence": 0.0}]}]}`)
		b.WriteString("\n\nRules:\n")
		b.WriteString("- suggested_target_id must be one of the listed ids, or null.\n")
		b.WriteString("- If NO suitable category exists, set suggested_target_id to null and provide proposed_name instead.\n")
	}
	b.WriteString("- confidence is a number between 0 and 1.\n")
	b.WriteString("- Include one entry per product, keyed by its id.\n")
	b.WriteString("- Do not include any text outside the JSON object.\n")

	return b.String()
}

// SuggestionSchema returns the JSON schema enforced during
// schema-constrained generation for the given taxonomy kind.
func SuggestionSchema(kind model.ItemKind) map[string]any {
	entry := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item_id":             map[string]any{"type": "string"},
			"suggested_target_id": map[string]any{"type": []string{"string", "null"}},
			"proposed_name":       map[string]any{"type": []string{"string", "null"}},
			"confidence":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":           map[string]any{"type": "string"},
			"alternatives": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"target_id":  map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number"},
					},
					"required": []string{"target_id", "confidence"},
				},
			},
		},
		"required": []string{"item_id", "confidence"},
	}

	if kind == model.KindTag {
		props := entry["properties"].(map[string]any)
		props["tags"] = map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tag_id":        map[string]any{"type": []string{"string", "null"}},
					"proposed_name": map[string]any{"type": []string{"string", "null"}},
					"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"confidence"},
			},
		}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"suggestions": map[string]any{
				"type":  "array",
				"items": entry,
			},
		},
		"required": []string{"suggestions"},
	}
}

func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+attrs[k])
	}
	return strings.Join(pairs, ", ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
