// Package marker tracks per-thread "already replied" state using a Gmail
// label as the only durable store. The label lives in the mailbox itself, so
// restarts and multiple agent instances all read the same state.
package marker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/autoreply/internal/gmail"
)

// Client is the label surface the marker needs.
type Client interface {
	ListLabels(ctx context.Context) (map[string]gmail.LabelID, map[gmail.LabelID]string, error)
	CreateLabel(ctx context.Context, name string) (gmail.LabelID, error)
	ThreadLabels(ctx context.Context, id gmail.ThreadID) ([]gmail.LabelID, error)
	ModifyThread(ctx context.Context, id gmail.ThreadID, ops gmail.ModifyOps) error
}

// Marker resolves and applies the handled label.
type Marker struct {
	Client Client
	Logger *slog.Logger
}

// New constructs a Marker.
func New(client Client, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marker{Client: client, Logger: logger}
}

// EnsureLabel returns the id of the named label, creating it on first use.
// Two processes may both observe the label missing and both attempt the
// create; the loser sees the duplicate-name conflict, re-lists, and returns
// the winner's id. The race converges on one label and is never an error.
func (m *Marker) EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	byName, _, err := m.Client.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve label %q: %w", name, err)
	}
	if id, ok := byName[name]; ok {
		return id, nil
	}

	id, err := m.Client.CreateLabel(ctx, name)
	if err == nil {
		m.Logger.InfoContext(ctx, "created handled label", "label", name, "id", id)
		return id, nil
	}
	if !errors.Is(err, gmail.ErrAlreadyExists) {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}

	// Lost the create race; the other writer's label is the one we want.
	byName, _, err = m.Client.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve label %q after create race: %w", name, err)
	}
	id, ok := byName[name]
	if !ok {
		return "", fmt.Errorf("label %q reported existing but not listed", name)
	}
	return id, nil
}

// IsHandled reports whether the thread already carries the handled label.
// A failed lookup answers false: the worst outcome of a wrong false is one
// duplicate reply, whereas a wrong true drops a conversation on the floor.
func (m *Marker) IsHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) bool {
	labels, err := m.Client.ThreadLabels(ctx, thread)
	if err != nil {
		m.Logger.WarnContext(ctx, "handled check failed, assuming unhandled",
			"thread", thread, "error", err)
		return false
	}
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// MarkHandled applies the handled label and archives the thread in one
// request. The caller has already sent the reply by the time this runs, so a
// failure here is reported, not retried; the next cycle's handled check is
// the retry path.
func (m *Marker) MarkHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) error {
	ops := gmail.ModifyOps{
		AddLabels:    []gmail.LabelID{label},
		RemoveLabels: []gmail.LabelID{"INBOX"},
	}
	if err := m.Client.ModifyThread(ctx, thread, ops); err != nil {
		return fmt.Errorf("mark thread %s handled: %w", thread, err)
	}
	return nil
}
