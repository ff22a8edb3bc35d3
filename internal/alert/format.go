package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/pactwatch/internal/events"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event events.Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event events.Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event events.Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Signer:* %s", orDash(event.Signer))},
	}
	if event.Agreement != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agreement:* %s", event.Agreement)})
	}
	if event.Agent != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", event.Agent)})
	}
	if event.Status != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", event.Status)})
	}
	if event.Amount != 0 {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Amount:* %d", event.Amount)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("pactwatch: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event events.Event) ([]byte, error) {
	subject := event.Agreement
	if subject == "" {
		subject = event.Agent
	}
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("pactwatch %s: %s", event.Type, subject),
			"severity": severityFor(event.Type),
			"source":   "pactwatch",
			"custom_details": map[string]any{
				"agreement":  event.Agreement,
				"agent":      event.Agent,
				"signer":     event.Signer,
				"status":     event.Status,
				"amount":     event.Amount,
				"request_id": event.RequestID,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(t events.Type) string {
	switch t {
	case events.AgentRevoked, events.AgreementCancelled:
		return "warning"
	default:
		return "info"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
