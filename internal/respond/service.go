// Package respond implements one fetch-decide-reply cycle: list the unread
// inbox, drop excluded categories, and answer each remaining thread at most
// once, using the handled label as the only source of truth.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"

	"github.com/joshsymonds/autoreply/internal/gmail"
	"github.com/joshsymonds/autoreply/internal/rate"
)

// DefaultReplyBody is the fixed auto-reply template.
const DefaultReplyBody = "Hello,\n\n" +
	"Thanks for reaching out. This is an automated reply to let you know " +
	"your message arrived; I'll follow up personally as soon as I can.\n"

func replyHeaders() []string {
	return []string{"From", "Subject", "Message-ID", "References"}
}

// HandledChecker is the marker surface the service needs.
type HandledChecker interface {
	EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error)
	IsHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) bool
	MarkHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) error
}

// Spec configures one cycle.
type Spec struct {
	HandledLabel  string   // label name marking answered threads
	ExcludeLabels []string // category label ids that are never auto-answered
	ReplyBody     string
	PageSize      int
	DryRun        bool
}

// DefaultExcludeLabels are the categories never worth an auto-reply.
func DefaultExcludeLabels() []string {
	return []string{"CATEGORY_PROMOTIONS", "CATEGORY_SOCIAL"}
}

// Stats counts the terminal state of every listed message in a cycle.
type Stats struct {
	Listed     int
	Excluded   int
	Skipped    int // thread already handled
	Replied    int
	Marked     int
	MarkFailed int // reply sent, marker write failed
	Vanished   int // message deleted between list and get
	Malformed  int // no usable From header
	Failed     int // other per-message failures
}

// Service runs reply cycles against a mailbox.
type Service struct {
	Client gmail.Client
	Marker HandledChecker
	Rate   rate.Limiter
	Logger *slog.Logger
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, m HandledChecker, limiter rate.Limiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = rate.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client: client,
		Marker: m,
		Rate:   limiter,
		Logger: logger,
	}
}

// Cycle performs one fetch-decide-respond pass. Per-message failures are
// logged and never block the remaining messages; only listing failures and
// context cancellation abort the cycle, and the scheduler retries those on
// its next iteration.
func (s *Service) Cycle(ctx context.Context, spec Spec) (Stats, error) {
	if spec.HandledLabel == "" {
		return Stats{}, errors.New("handled label name must not be empty")
	}
	pageSize := spec.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	body := spec.ReplyBody
	if body == "" {
		body = DefaultReplyBody
	}
	exclude := make(map[gmail.LabelID]struct{}, len(spec.ExcludeLabels))
	for _, l := range spec.ExcludeLabels {
		exclude[gmail.LabelID(l)] = struct{}{}
	}

	// Resolved fresh every cycle; the mailbox is the only state store and
	// nothing is cached across cycles.
	label, err := s.Marker.EnsureLabel(ctx, spec.HandledLabel)
	if err != nil {
		return Stats{}, err
	}

	ids, err := s.listUnread(ctx, pageSize)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Listed: len(ids)}
	for _, id := range ids {
		if err := s.processMessage(ctx, id, label, exclude, body, spec.DryRun, &stats); err != nil {
			// Only context cancellation propagates out of an item.
			return stats, err
		}
	}

	s.Logger.InfoContext(ctx, "cycle complete",
		"listed", stats.Listed,
		"excluded", stats.Excluded,
		"skipped", stats.Skipped,
		"replied", stats.Replied,
		"marked", stats.Marked,
		"mark_failed", stats.MarkFailed,
		"vanished", stats.Vanished,
		"malformed", stats.Malformed,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (s *Service) listUnread(ctx context.Context, pageSize int) ([]gmail.MessageID, error) {
	q := gmail.Query{Raw: "in:inbox is:unread"}
	var (
		ids   []gmail.MessageID
		token string
	)
	for {
		if err := s.Rate.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := s.Client.ListUnread(ctx, q, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list unread: %w", err)
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" {
			return ids, nil
		}
		token = page.NextPageToken
	}
}

// processMessage walks one message through pending → skipped | replied →
// marked | mark-failed. Sends strictly precede the mark attempt, and the
// mark is attempted exactly once per successful send.
func (s *Service) processMessage(
	ctx context.Context,
	id gmail.MessageID,
	label gmail.LabelID,
	exclude map[gmail.LabelID]struct{},
	body string,
	dryRun bool,
	stats *Stats,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Rate.Wait(ctx); err != nil {
		return err
	}

	meta, err := s.Client.GetMetadata(ctx, id, replyHeaders())
	switch {
	case errors.Is(err, gmail.ErrNotFound):
		// Deleted between list and get; nothing to answer.
		stats.Vanished++
		return nil
	case err != nil:
		s.Logger.ErrorContext(ctx, "fetch message failed", "message", id, "error", err)
		stats.Failed++
		return nil
	}

	for _, l := range meta.Labels {
		if _, ok := exclude[l]; ok {
			stats.Excluded++
			return nil
		}
	}

	// The handled check hits live mailbox state per message. A second unread
	// message in an already-answered thread within the same cycle still sees
	// the marker written moments ago.
	if s.Marker.IsHandled(ctx, meta.Thread, label) {
		s.Logger.InfoContext(ctx, "thread already handled, skipping",
			"thread", meta.Thread, "message", id)
		stats.Skipped++
		return nil
	}

	to, err := senderAddress(meta.Headers["From"])
	if err != nil {
		s.Logger.WarnContext(ctx, "skipping malformed message",
			"message", id, "error", err)
		stats.Malformed++
		return nil
	}

	reply := gmail.OutgoingReply{
		Thread:     meta.Thread,
		To:         to,
		Subject:    replySubject(meta.Headers["Subject"]),
		InReplyTo:  meta.Headers["Message-ID"],
		References: referencesChain(meta.Headers["References"], meta.Headers["Message-ID"]),
		Body:       body,
	}

	if dryRun {
		s.Logger.InfoContext(ctx, "dry-run: would reply",
			"thread", meta.Thread, "to", to)
		stats.Replied++
		return nil
	}

	if _, err := s.Client.SendReply(ctx, reply); err != nil {
		s.Logger.ErrorContext(ctx, "send reply failed",
			"thread", meta.Thread, "to", to, "error", err)
		stats.Failed++
		return nil
	}
	stats.Replied++
	s.Logger.InfoContext(ctx, "auto-reply sent", "thread", meta.Thread, "to", to)

	if err := s.Marker.MarkHandled(ctx, meta.Thread, label); err != nil {
		// The reply is already out. If the marker write is lost the next
		// cycle finds the thread unmarked and may answer again; accepted
		// at-most-mostly-once trade-off in exchange for zero local state.
		s.Logger.ErrorContext(ctx, "mark handled failed",
			"thread", meta.Thread, "error", err)
		stats.MarkFailed++
		return nil
	}
	stats.Marked++
	return nil
}

func senderAddress(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", errors.New("missing From header")
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("parse From %q: %w", from, err)
	}
	return addr.Address, nil
}

// referencesChain appends the answered message's id to its own References
// header, per RFC 5322; Gmail threads by ThreadId regardless, this keeps
// other clients happy.
func referencesChain(prior, messageID string) string {
	prior = strings.TrimSpace(prior)
	messageID = strings.TrimSpace(messageID)
	switch {
	case prior == "":
		return messageID
	case messageID == "":
		return prior
	default:
		return prior + " " + messageID
	}
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
