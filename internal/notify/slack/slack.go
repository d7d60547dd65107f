// Package slack posts intake notices to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends intake notices to a Slack webhook.
type Notifier struct {
	webhookURL string
	maxLevel   int
	client     *http.Client
	now        func() time.Time
}

// New creates a Slack notifier. Admission notices are only sent for patients
// at maxLevel or more severe (1 is most severe); failures are always sent.
// A maxLevel outside 1..5 sends every admission. If webhookURL is empty,
// Notify is a no-op.
func New(webhookURL string, maxLevel int) *Notifier {
	if maxLevel < int(patient.LevelResuscitation) || maxLevel > int(patient.LevelNonUrgent) {
		maxLevel = int(patient.LevelNonUrgent)
	}
	return &Notifier{
		webhookURL: webhookURL,
		maxLevel:   maxLevel,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// Notify posts a notice to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, notice *patient.Notice) error {
	if n.webhookURL == "" || notice == nil {
		return nil
	}
	if notice.Kind == patient.NoticeSuccess && notice.Level > n.maxLevel {
		return nil
	}

	body, err := json.Marshal(buildMessage(notice, n.now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(n *patient.Notice, at time.Time) map[string]any {
	return map[string]any{
		"text": n.Message,
		"blocks": []map[string]any{
			headerBlock(n),
			fieldsBlock(n),
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": truncate(n.Message, maxMessageLen)},
			},
			{
				"type": "context",
				"elements": []map[string]any{{
					"type": "mrkdwn",
					"text": "triagedesk • " + at.UTC().Format("2006-01-02 15:04 UTC"),
				}},
			},
		},
	}
}

func headerBlock(n *patient.Notice) map[string]any {
	title := "Patient admitted"
	if n.Kind == patient.NoticeFailure {
		title = "Intake failed"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(fmt.Sprintf("%s %s: %s", levelEmoji(n.Kind, n.Level), title, n.Name), 150),
		},
	}
}

func fieldsBlock(n *patient.Notice) map[string]any {
	level := patient.TriageLevel(n.Level)
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Triage:* %d %s", n.Level, level.Label())},
	}
	if n.PatientID != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Patient ID:* " + n.PatientID})
	}
	return map[string]any{"type": "section", "fields": fields}
}

func levelEmoji(kind patient.NoticeKind, level int) string {
	if kind == patient.NoticeFailure {
		return "⚠️" // warning sign
	}
	switch patient.TriageLevel(level) {
	case patient.LevelResuscitation, patient.LevelEmergent:
		return "\U0001f534" // red circle
	case patient.LevelUrgent:
		return "\U0001f7e0" // orange circle
	case patient.LevelLessUrgent:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := max(limit-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
