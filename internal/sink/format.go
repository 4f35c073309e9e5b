package sink

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/sentinel/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, ev model.Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(ev)
	case "pagerduty":
		return formatPagerDuty(ev)
	default:
		return formatGeneric(ev)
	}
}

func formatGeneric(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func formatSlack(ev model.Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("sentinel: %s", ev.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", ev.Tool)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Decision:* %s", ev.Decision)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %.2f (%s)", ev.RiskScore, riskLabelFor(ev.RiskScore))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", ev.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(ev model.Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("sentinel %s: %s", ev.Decision, ev.Tool),
			"severity": severityFor(ev.RiskScore),
			"source":   "sentinel",
			"custom_details": map[string]any{
				"type":             ev.Type,
				"tool":             ev.Tool,
				"tool_call_id":     ev.ToolCallID,
				"status":           ev.Status,
				"risk_score":       ev.RiskScore,
				"reason":           ev.Reason,
				"policy_citations": ev.PolicyCitations,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(risk float64) string {
	switch {
	case risk >= 0.9:
		return "critical"
	case risk >= 0.6:
		return "error"
	case risk >= 0.3:
		return "warning"
	default:
		return "info"
	}
}

func riskLabelFor(risk float64) string {
	switch {
	case risk >= 0.9:
		return "critical"
	case risk >= 0.6:
		return "high"
	case risk >= 0.3:
		return "elevated"
	default:
		return "low"
	}
}
