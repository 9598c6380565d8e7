package alert

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ConsoleSink prints the one-line form to a writer (normally stdout).
type ConsoleSink struct {
	W io.Writer
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Deliver(_ context.Context, a Alert) error {
	_, err := fmt.Fprintln(s.W, a.Line())
	return err
}

// csvColumns is the additive, tolerant CSV schema: missing fields become
// empty cells, new columns only ever append.
var csvColumns = []string{
	"issuer_name",
	"ticker",
	"cik",
	"event_kind",
	"score",
	"event_datetime_utc",
	"title",
	"first_url",
	"rule_hits",
}

// CSVSink appends alert rows to a CSV file, writing the header only when the
// file is new or empty.
type CSVSink struct {
	Path string
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Deliver(_ context.Context, a Alert) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create alerts dir: %w", err)
	}
	writeHeader := false
	if st, err := os.Stat(s.Path); err != nil || st.Size() == 0 {
		writeHeader = true
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open alerts csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvColumns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	row := []string{
		a.IssuerName,
		a.Ticker,
		a.CIK,
		a.EventKind,
		strconv.Itoa(a.Score),
		a.EventDatetimeUTC,
		a.Title,
		a.FirstURL,
		strings.Join(a.RuleHits, ", "),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// SlackSink posts alerts to a Slack incoming webhook. Dry-run by default:
// the payload is logged, nothing leaves the process, delivery reports
// success. Arm it explicitly to go live.
type SlackSink struct {
	webhookURL string
	mention    string
	live       bool
	limiter    *rate.Limiter
	client     *http.Client
	logger     *slog.Logger
}

type SlackOption func(*SlackSink)

// WithSlackLive arms the sink for real HTTP delivery.
func WithSlackLive(live bool) SlackOption {
	return func(s *SlackSink) { s.live = live }
}

// WithSlackMention prepends a mention string to the message text.
func WithSlackMention(mention string) SlackOption {
	return func(s *SlackSink) { s.mention = mention }
}

// WithSlackRateLimit caps outgoing posts per second. Zero means unlimited.
func WithSlackRateLimit(perSec float64) SlackOption {
	return func(s *SlackSink) {
		if perSec > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

func NewSlackSink(webhookURL string, logger *slog.Logger, opts ...SlackOption) *SlackSink {
	s := &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("sink", "slack"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, a Alert) error {
	text := a.Line()
	if a.FirstURL != "" {
		text += "\n" + a.FirstURL
	}
	if s.mention != "" {
		text = s.mention + " " + text
	}

	if !s.live {
		s.logger.Info("dry-run: slack alert not sent", "preview", text)
		return nil
	}
	if s.webhookURL == "" {
		return fmt.Errorf("slack sink armed but webhook URL is empty")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return postJSON(ctx, s.client, s.webhookURL, body, "slack")
}

// WebhookSink posts the full alert as JSON to a generic HTTP endpoint.
// Same dry-run discipline as the Slack sink.
type WebhookSink struct {
	url    string
	live   bool
	client *http.Client
	logger *slog.Logger
}

func NewWebhookSink(url string, live bool, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		live:   live,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("sink", "webhook"),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, a Alert) error {
	payload := map[string]any{
		"issuer_name":        a.IssuerName,
		"ticker":             a.Ticker,
		"cik":                a.CIK,
		"event_kind":         a.EventKind,
		"score":              a.Score,
		"event_datetime_utc": a.EventDatetimeUTC,
		"title":              a.Title,
		"first_url":          a.FirstURL,
		"rule_hits":          a.RuleHits,
		"sent_at":            time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	if !s.live {
		s.logger.Info("dry-run: webhook alert not sent", "url", s.url, "bytes", len(body))
		return nil
	}
	if s.url == "" {
		return fmt.Errorf("webhook sink armed but URL is empty")
	}
	return postJSON(ctx, s.client, s.url, body, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Status text feeds the retry classifier.
		return fmt.Errorf("%s returned http status %d", name, resp.StatusCode)
	}
	return nil
}
