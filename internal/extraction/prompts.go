package extraction

import (
	"strings"

	"google.golang.org/genai"
)

func buildPrompt() string {
	var b strings.Builder
	b.WriteString("You are a bank statement parser.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract EVERY transaction in the attached statement.\n")
	b.WriteString("- Output STRICT JSON only, matching the response schema.\n\n")
	b.WriteString("Each transaction must have:\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"name\": string, the payee or description as printed\n")
	b.WriteString("- \"type\": \"income\" for money in, \"expense\" for money out\n")
	b.WriteString("- \"amount\": number, always positive\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Skip rows with no money movement (interest lines of zero, headers, subtotals).\n")
	b.WriteString("- Set \"final_balance\" to the closing balance printed on the statement, or null if there is none.\n")
	b.WriteString("- Never invent transactions that are not on the statement.\n")
	return b.String()
}

// responseSchema mirrors {transactions: [{date, name, type, amount}], final_balance}.
func responseSchema() *genai.Schema {
	nullable := true
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transactions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"date":   {Type: genai.TypeString, Description: "YYYY-MM-DD"},
						"name":   {Type: genai.TypeString},
						"type":   {Type: genai.TypeString, Enum: []string{"income", "expense"}},
						"amount": {Type: genai.TypeNumber},
					},
					Required: []string{"date", "name", "type", "amount"},
				},
			},
			"final_balance": {Type: genai.TypeNumber, Nullable: &nullable},
		},
		Required: []string{"transactions"},
	}
}
