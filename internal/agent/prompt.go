package agent

import (
	"fmt"
	"strings"
	"time"

	"labagent/internal/mcp"
)

const systemPromptTemplate = `You are an AI assistant embedded in OpenLDR, an open-source Laboratory Information Management System for antimicrobial resistance (AMR) surveillance and WHONET data processing.

You help laboratory staff query live data, track test requests and results, and monitor system health.

## Available tools
%[1]s

## STRICT tool usage rules
1. Use EXACTLY this format, with no markdown, no code blocks, no backticks, no extra text:
<tool_call>
{"tool": "tool_name", "args": {"param": "value"}}
</tool_call>

WRONG - never do this:
` + "```json" + `
{"tool": "...", "args": {}}
` + "```" + `
WRONG - never do this:
{"tool": "...", "args": {}}

CORRECT - always use <tool_call> tags exactly as shown above.

2. ONLY include args that the user explicitly mentioned. Do NOT invent or assume filter values like status, test_type, patient_id unless the user said so.
   - "show me last 5 results" → args: {"limit": 5}
   - "show me last 5 results" → args: {"limit": 5, "status": "complete", "test_type": "blood"}  ✗ WRONG

3. Call only ONE tool per turn.

4. After receiving <tool_result>:
   - Report EXACTLY what the data says. Do not add warnings, caveats, or conclusions that are not in the data.
   - If the result is empty, say "No records found matching your query."
   - If the result contains an error, report it directly.
   - Use a markdown table when the result contains multiple records.
   - Do NOT say things like "there seems to be an issue" unless the tool explicitly returned an error.

5. If no tool is needed, answer from general medical/lab knowledge.

6. Dates: ISO format YYYY-MM-DD. Default limit: 20 unless user specifies.

Today: %[2]s
System: OpenLDR v%[3]s
`

// NoToolsText replaces the tool list when the catalog is empty.
const NoToolsText = "No tools currently available. Answer from general knowledge only."

// SystemPrompt renders the instructions a small model needs to call tools.
func SystemPrompt(tools []mcp.ToolDescriptor, today time.Time, version string) string {
	if version == "" {
		version = "0.1.0"
	}
	return fmt.Sprintf(systemPromptTemplate, FormatTools(tools), today.Format("2006-01-02"), version)
}

// FormatTools renders one compact line per tool:
//
//	- name(param:type*, other:type?): first line of the description
//
// where * marks a required parameter.
func FormatTools(tools []mcp.ToolDescriptor) string {
	if len(tools) == 0 {
		return NoToolsText
	}
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		desc, _, _ := strings.Cut(tool.Description, "\n")
		params := make([]string, 0, len(tool.Params))
		for _, p := range tool.Params {
			marker := "?"
			if p.Required {
				marker = "*"
			}
			params = append(params, p.Name+":"+p.Type+marker)
		}
		paramText := "no params"
		if len(params) > 0 {
			paramText = strings.Join(params, ", ")
		}
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", tool.Name, paramText, desc))
	}
	return strings.Join(lines, "\n")
}

// FormatToolResult wraps a tool result as the user turn that follows the
// model's call.
func FormatToolResult(toolName, result string) string {
	return fmt.Sprintf("<tool_result tool=%q>\n%s\n</tool_result>\n\n", toolName, result) +
		"INSTRUCTION: Using ONLY the data above, answer the user. " +
		"Copy values directly from the result. " +
		"Do not mention ports, errors, or issues unless they appear in the result. " +
		"If a boolean field is true, say it is working. If false, say it is down.\n\n" +
		"Answer: "
}
