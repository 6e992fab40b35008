package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/helpdesk/internal/domain"
)

const signOff = "Best regards,\nCustomer Support"

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello,"
	}
	first, _, _ := strings.Cut(name, " ")
	return fmt.Sprintf("Hi %s,", first)
}

var greetingLineRe = regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|dear|good (?:morning|afternoon|evening))\b[^\n]{0,60}[,!][ \t]*\n+`)

// impersonal strips the greeting line from reply so the rest can be reused
// for another sender. It reports false when the remainder still names the
// customer by first name or address.
func impersonal(reply string, msg domain.Message) (string, bool) {
	body := strings.TrimSpace(greetingLineRe.ReplaceAllString(reply, ""))
	if body == "" {
		return "", false
	}
	lower := strings.ToLower(body)
	if msg.From != "" && strings.Contains(lower, strings.ToLower(msg.From)) {
		return "", false
	}
	if first, _, _ := strings.Cut(strings.TrimSpace(msg.FromName), " "); len(first) > 1 {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(first) + `\b`)
		if re.MatchString(body) {
			return "", false
		}
	}
	return body, true
}

// personalize greets name above a reply body stored by impersonal.
func personalize(body, name string) string {
	return greeting(name) + "\n\n" + body
}

func letter(name string, paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(greeting(name))
	for _, p := range paragraphs {
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	b.WriteString("\n\n")
	b.WriteString(signOff)
	return b.String()
}

// GeneralReply is the canned reply for general inquiries.
func GeneralReply(name string) string {
	return letter(name,
		"Thank you for reaching out to our support team. We have received your message.",
		"If your question is about an order, reply with your order number and we will look it up for you. "+
			"For questions about returns, shipping or our products, just let us know what you need.",
		"Is there anything else I can help you with?",
	)
}

// EscalationAck is the fixed acknowledgment sent when a run is handed to a
// human. It never contains model-authored text.
func EscalationAck(name string, priority domain.Priority) string {
	if priority == "" {
		priority = domain.PriorityMedium
	}
	return letter(name,
		"Thank you for contacting us. Your request has been escalated to our support team.",
		fmt.Sprintf("A human agent will review your case with %s priority and respond within 24 hours.", priority),
	)
}

// OrderNotFoundReply tells the customer a lookup matched nothing.
func OrderNotFoundReply(name, identifier string) string {
	return letter(name,
		fmt.Sprintf("I couldn't find an order matching %s.", identifier),
		"Please double-check the order number, or reply with the email address used at checkout, and we will take another look.",
	)
}

// OrderStatusReply renders an order lookup. Status strings are reproduced
// exactly as the storefront returned them.
func OrderStatusReply(name string, order *domain.Order, f *domain.Fulfillment, fulfillmentChecked bool) string {
	number := order.OrderNumber
	if !strings.HasPrefix(number, "#") {
		number = "#" + number
	}

	paras := []string{
		fmt.Sprintf("Thank you for reaching out about your order %s.", number),
		fmt.Sprintf("Order status: %s", order.Status),
	}

	if f == nil {
		f = order.Fulfillment
	}
	switch {
	case f != nil:
		var b strings.Builder
		fmt.Fprintf(&b, "Shipping status: %s", f.Status)
		if f.Carrier != "" {
			fmt.Fprintf(&b, "\nCarrier: %s", f.Carrier)
		}
		if f.TrackingNumber != "" {
			fmt.Fprintf(&b, "\nTracking number: %s", f.TrackingNumber)
		}
		if f.TrackingURL != "" {
			fmt.Fprintf(&b, "\nTrack your package: %s", f.TrackingURL)
		}
		if f.EstimatedDelivery != "" {
			fmt.Fprintf(&b, "\nEstimated delivery: %s", f.EstimatedDelivery)
		}
		if f.DeliveredAt != nil {
			fmt.Fprintf(&b, "\nDelivered on: %s", f.DeliveredAt.Format("2006-01-02"))
		}
		paras = append(paras, b.String())
	case fulfillmentChecked:
		paras = append(paras, "Your order has not shipped yet. You will receive tracking details as soon as it does.")
	}

	paras = append(paras, "Is there anything else I can help you with?")
	return letter(name, paras...)
}
