package extract

import (
	"strings"

	"github.com/dwizi/listing-intake/internal/catalog"
)

const systemPrompt = "You extract real-estate listing data from broker chat messages. " +
	"Reply with exactly one JSON object and nothing else. Use null for anything the message does not state."

// BuildPrompt renders the message together with the closed enumerations and
// the flat output contract.
func BuildPrompt(content string, known catalog.Catalog) string {
	var builder strings.Builder
	builder.WriteString("Known values (use ids exactly as listed):\n")
	builder.WriteString(known.Knowledge())
	builder.WriteString("\nOutput fields:\n")
	for _, field := range FieldContract {
		builder.WriteString("- ")
		builder.WriteString(field.Name)
		builder.WriteString(" (")
		builder.WriteString(field.Type)
		builder.WriteString("): ")
		builder.WriteString(field.Description)
		if len(field.Enum) > 0 {
			builder.WriteString(". One of: ")
			builder.WriteString(strings.Join(field.Enum, ", "))
		}
		builder.WriteString("\n")
	}
	builder.WriteString("\nMessage:\n")
	builder.WriteString(strings.TrimSpace(content))
	builder.WriteString("\n")
	return builder.String()
}
