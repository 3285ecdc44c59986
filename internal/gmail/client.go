package gmail

import (
	"context"
	"errors"
)

// ErrNotFound reports that a message or thread vanished between a list call
// and the follow-up fetch. Callers skip the item silently.
var ErrNotFound = errors.New("gmail: not found")

// ErrAlreadyExists reports that a label with the requested name already
// exists. Two processes racing on first-use label creation both converge on
// the existing label; callers treat this as success.
var ErrAlreadyExists = errors.New("gmail: already exists")

// Client is the narrow Gmail surface required by the agent. Every method is
// a single remote call: no internal retries, no internal batching. Transient
// failures surface as plain errors and are recovered at the cycle boundary.
type Client interface {
	ListUnread(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
	SendReply(ctx context.Context, reply OutgoingReply) (MessageID, error)
	ListLabels(ctx context.Context) (map[string]LabelID, map[LabelID]string, error)
	CreateLabel(ctx context.Context, name string) (LabelID, error)
	ThreadLabels(ctx context.Context, id ThreadID) ([]LabelID, error)
	ModifyThread(ctx context.Context, id ThreadID, ops ModifyOps) error
}
