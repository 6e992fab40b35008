package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	StoreName     string
	Intent        domain.Intent
	Tier          domain.Tier
	Tools         []llm.ToolDefinition
	IncludeFormat bool
	Now           time.Time
}

// BuildSystemPrompt constructs the system prompt for a tier model.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	store := cfg.StoreName
	if store == "" {
		store = "an e-commerce store"
	}
	fmt.Fprintf(&b, "You are a customer support agent for %s.\n", store)
	b.WriteString("Assist customers with their inquiries professionally and accurately.\n\n")

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))
	if cfg.Intent != "" {
		fmt.Fprintf(&b, "Classified intent: %s\n", cfg.Intent)
	}
	b.WriteString("\n")

	b.WriteString("## Core Rules\n\n")
	b.WriteString("1. Always use tools before answering. Never make up information about orders, policies or products.\n")
	b.WriteString("2. If you cannot find information, say so and offer to escalate to a human agent.\n")
	b.WriteString("3. Be friendly and professional. Use the customer's name when available.\n")
	b.WriteString("4. Never share other customers' information.\n\n")

	b.WriteString("## Anti-Hallucination Rules\n\n")
	b.WriteString("- Never invent order numbers, tracking numbers, prices or links.\n")
	b.WriteString("- Only state facts that appear in a tool result.\n")
	b.WriteString("- Never promise delivery dates unless they come from fulfillment data.\n")
	b.WriteString("- If a tool returns no results, say \"I couldn't find...\" rather than guessing.\n\n")

	if len(cfg.Tools) > 0 {
		b.WriteString("## Available Tools\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
		b.WriteString("\nEscalate with escalate_to_human for complaints, sensitive refunds, explicit requests for a human, ")
		b.WriteString("or when the tools do not give you what you need.\n\n")
	}

	if cfg.IncludeFormat {
		b.WriteString("## Response Format\n\n")
		b.WriteString("Write a professional customer service email: a greeting, a brief acknowledgment, ")
		b.WriteString("the answer with specific details from tools, any next steps, and a sign-off ")
		b.WriteString("(\"Best regards,\\nCustomer Support\").\n")
	}

	return b.String()
}

// BuildMessagePrompt renders the inbound message as the first user turn.
func BuildMessagePrompt(msg domain.Message, ids Identifiers) string {
	var b strings.Builder
	b.WriteString("## Customer Email\n\n")
	if msg.FromName != "" {
		fmt.Fprintf(&b, "Customer Name: %s\n", msg.FromName)
	}
	fmt.Fprintf(&b, "Customer Email: %s\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)
	b.WriteString("Message:\n")
	b.WriteString(msg.Body)
	b.WriteString("\n")
	if len(ids.OrderNumbers) > 0 {
		fmt.Fprintf(&b, "\nOrder numbers mentioned: #%s\n", strings.Join(ids.OrderNumbers, ", #"))
	}
	b.WriteString("\n---\n")
	b.WriteString("Help this customer with their inquiry. Use the available tools to gather accurate information before responding.")
	return b.String()
}

// budgetExhaustedPrompt asks for a final answer once no tool calls remain.
const budgetExhaustedPrompt = "The tool call budget for this request is used up. " +
	"Write the final reply now using only the information gathered above. " +
	"If it is not enough to answer, say that you couldn't find the information."
