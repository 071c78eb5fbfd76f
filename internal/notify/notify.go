// Package notify delivers user-facing notifications: mentions, top priority
// decisions and saved search updates.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"barriers/api/internal/barrier"
	"barriers/api/internal/email"
	"barriers/api/internal/metrics"
)

const (
	KindMention     = "mention"
	KindTopPriority = "top_priority"
	KindSavedSearch = "saved_search"

	excerptRunes = 200
)

// Mailer sends the rendered notification emails.
type Mailer interface {
	IsConfigured() bool
	SendMention(to string, data email.MentionData) error
	SendSavedSearchUpdate(to string, data email.SavedSearchData) error
	SendTopPriorityDecision(to []string, data email.TopPriorityData) error
}

type Notifier struct {
	mailer      Mailer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	frontendURL string
	attempts    int
	backoff     time.Duration
	wg          sync.WaitGroup
}

type Option func(*Notifier)

// WithRetry sets how many times a delivery is attempted and the pause
// between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		n.backoff = backoff
	}
}

func New(mailer Mailer, logger *slog.Logger, m *metrics.Metrics, frontendURL string, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		mailer:      mailer,
		logger:      logger,
		metrics:     m,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		attempts:    3,
		backoff:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// BarrierURL is the frontend link to a barrier.
func (n *Notifier) BarrierURL(b *barrier.Barrier) string {
	return n.frontendURL + "/barriers/" + b.ID.String()
}

// MentionNotice describes one mention email.
type MentionNotice struct {
	To            string
	RecipientName string
	AuthorName    string
	Barrier       *barrier.Barrier
	Text          string
}

// Mention sends a mention email in the background.
func (n *Notifier) Mention(notice MentionNotice) {
	if n == nil {
		return
	}
	data := email.MentionData{
		RecipientName: notice.RecipientName,
		AuthorName:    notice.AuthorName,
		BarrierCode:   notice.Barrier.Code,
		BarrierTitle:  notice.Barrier.Title,
		Excerpt:       excerpt(notice.Text),
		URL:           n.BarrierURL(notice.Barrier),
	}
	n.async(KindMention, func() error { return n.mailer.SendMention(notice.To, data) })
}

// TopPriorityDecision tells the owners of b about an approval or rejection.
func (n *Notifier) TopPriorityDecision(to []string, b *barrier.Barrier, change *barrier.TopPriorityChange) {
	if n == nil || !change.Notify() || len(to) == 0 {
		return
	}
	outcome := "Rejected"
	if change.Approved {
		outcome = "Approved"
	}
	data := email.TopPriorityData{
		BarrierCode:  b.Code,
		BarrierTitle: b.Title,
		Outcome:      outcome,
		Summary:      change.Summary,
		URL:          n.BarrierURL(b),
	}
	recipients := append([]string(nil), to...)
	n.async(KindTopPriority, func() error { return n.mailer.SendTopPriorityDecision(recipients, data) })
}

// Wait blocks until background deliveries have finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) async(kind string, send func() error) {
	if n == nil || n.mailer == nil || !n.mailer.IsConfigured() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_ = n.deliver(context.Background(), kind, send)
	}()
}

func (n *Notifier) deliver(ctx context.Context, kind string, send func() error) error {
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		err = send()
		n.metrics.Notification(kind, err)
		if err == nil {
			return nil
		}
		n.logger.Warn("notification delivery failed", "kind", kind, "attempt", attempt, "error", err)
		if attempt == n.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff):
		}
	}
	return fmt.Errorf("deliver %s notification: %w", kind, err)
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptRunes])) + "…"
}
