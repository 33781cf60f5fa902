// Package slack posts findings to a Slack incoming webhook as Block Kit
// messages.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
	"github.com/crimson-sun/watchdog/internal/provider/httpclient"
)

const (
	defaultChannel  = "#security-alerts"
	defaultUsername = "WatchDogAI"
	defaultIcon     = ":shield:"
	defaultTimeout  = 10 * time.Second

	evidencePreview = 2
	evidenceRunes   = 100
	summaryTop      = 5
	footerLayout    = "2006-01-02 15:04:05 UTC"
)

// Config holds webhook settings.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Timeout    time.Duration
}

// Block is one Block Kit block.
type Block map[string]any

// Payload is the webhook request body.
type Payload struct {
	Channel   string  `json:"channel,omitempty"`
	Username  string  `json:"username,omitempty"`
	IconEmoji string  `json:"icon_emoji,omitempty"`
	Text      string  `json:"text"`
	Blocks    []Block `json:"blocks"`
}

// Output sends each finding as a Block Kit alert.
type Output struct {
	client *httpclient.Client
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// New creates a Slack output. The webhook URL is required.
func New(cfg Config) (*Output, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack: webhook URL is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if cfg.IconEmoji == "" {
		cfg.IconEmoji = defaultIcon
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Output{
		client: httpclient.New(cfg.WebhookURL, httpclient.WithTimeout(cfg.Timeout)),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

func (o *Output) Name() string { return "slack" }

// Write posts an alert for f.
func (o *Output) Write(ctx context.Context, f model.Finding) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = o.now()
	}
	title := "Security Alert: " + f.Issue
	return o.post(ctx, title, AlertBlocks(title, f))
}

// WriteSummary posts a run overview listing the most severe findings.
func (o *Output) WriteSummary(ctx context.Context, s output.Summary) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = o.now()
	}
	return o.post(ctx, "WatchDogAI Analysis Summary", SummaryBlocks(s))
}

// SendTest posts a connectivity test message.
func (o *Output) SendTest(ctx context.Context) error {
	f := model.Finding{
		Recommendation: model.Recommendation{
			Issue:           "This is a test message to verify Slack integration is working correctly.",
			Recommendation:  "No action required - this is just a connectivity test.",
			Severity:        model.SeverityInfo,
			Confidence:      1.0,
			Category:        "test",
			AffectedSystems: []string{"test-system"},
			Timeline:        model.TimelineImmediate,
			LogEvidence:     []string{"2024-01-01 12:00:00 INFO WatchDogAI integration test"},
		},
		Timestamp: o.now(),
	}
	const title = "WatchDogAI Test Alert"
	return o.post(ctx, title, AlertBlocks(title, f))
}

func (o *Output) post(ctx context.Context, text string, blocks []Block) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return output.ErrClosed
	}

	payload := Payload{
		Channel:   o.cfg.Channel,
		Username:  o.cfg.Username,
		IconEmoji: o.cfg.IconEmoji,
		Text:      text,
		Blocks:    blocks,
	}
	if err := o.client.PostJSON(ctx, "", payload, nil); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Emoji returns the header emoji for a severity.
func Emoji(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "🚨"
	case model.SeverityHigh:
		return "⚠️"
	case model.SeverityMedium:
		return "⚡"
	case model.SeverityLow:
		return "ℹ️"
	default:
		return "📋"
	}
}

// AlertBlocks renders a finding as Block Kit blocks under title.
func AlertBlocks(title string, f model.Finding) []Block {
	blocks := []Block{
		header(Emoji(f.Severity) + " " + title),
		{
			"type": "section",
			"fields": []Block{
				mrkdwn("*Severity:* " + strings.ToUpper(string(f.Severity))),
				mrkdwn("*Category:* " + cases.Title(language.English).String(string(f.Category))),
				mrkdwn(fmt.Sprintf("*Confidence:* %.0f%%", f.Confidence*100)),
				mrkdwn("*Timeline:* " + string(f.Timeline)),
			},
		},
		section("*Issue:*\n" + f.Issue),
		section("*Recommendation:*\n" + f.Recommendation.Recommendation),
	}

	if len(f.AffectedSystems) > 0 {
		blocks = append(blocks, section("*Affected Systems:* "+strings.Join(f.AffectedSystems, ", ")))
	}

	if len(f.LogEvidence) > 0 {
		lines := make([]string, 0, evidencePreview)
		for _, e := range f.LogEvidence[:min(len(f.LogEvidence), evidencePreview)] {
			lines = append(lines, "• "+output.Truncate(e, evidenceRunes))
		}
		text := strings.Join(lines, "\n")
		if extra := len(f.LogEvidence) - evidencePreview; extra > 0 {
			text += fmt.Sprintf("\n_...and %d more entries_", extra)
		}
		blocks = append(blocks, section("*Log Evidence:*\n```"+text+"```"))
	}

	footer := "WatchDogAI • " + f.Timestamp.UTC().Format(footerLayout)
	if f.Source != "" {
		footer += " • Source: " + f.Source
	}
	return append(blocks, contextBlock(footer))
}

// SummaryBlocks renders a run summary.
func SummaryBlocks(s output.Summary) []Block {
	counts := s.SeverityCounts()
	blocks := []Block{
		header("📊 WatchDogAI Analysis Summary"),
		{
			"type": "section",
			"fields": []Block{
				mrkdwn(fmt.Sprintf("*Logs analyzed:* %d", s.TotalLogs)),
				mrkdwn(fmt.Sprintf("*Findings:* %d", len(s.Findings))),
				mrkdwn(fmt.Sprintf("*Critical/High:* %d/%d", counts[model.SeverityCritical], counts[model.SeverityHigh])),
				mrkdwn(fmt.Sprintf("*Alerts sent:* %d", s.Alerts)),
			},
		},
	}

	if len(s.Findings) == 0 {
		blocks = append(blocks, section("No significant findings."))
	} else {
		ranked := s.Ranked()
		lines := make([]string, 0, summaryTop)
		for _, f := range ranked[:min(len(ranked), summaryTop)] {
			lines = append(lines, fmt.Sprintf("%s *%s* %s (%.0f%%)",
				Emoji(f.Severity), strings.ToUpper(string(f.Severity)), f.Issue, f.Confidence*100))
		}
		if extra := len(ranked) - summaryTop; extra > 0 {
			lines = append(lines, fmt.Sprintf("_...and %d more findings_", extra))
		}
		blocks = append(blocks, section("*Top findings:*\n"+strings.Join(lines, "\n")))
	}

	footer := "WatchDogAI • " + s.Timestamp.UTC().Format(footerLayout)
	if s.Source != "" {
		footer += " • Source: " + s.Source
	}
	return append(blocks, contextBlock(footer))
}

func header(text string) Block {
	return Block{"type": "header", "text": Block{"type": "plain_text", "text": text}}
}

func section(text string) Block {
	return Block{"type": "section", "text": mrkdwn(text)}
}

func mrkdwn(text string) Block {
	return Block{"type": "mrkdwn", "text": text}
}

func contextBlock(text string) Block {
	return Block{"type": "context", "elements": []Block{mrkdwn(text)}}
}
