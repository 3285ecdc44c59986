package gmail

// MessageID identifies a single Gmail message.
type MessageID string

// ThreadID identifies a conversation thread. The handled marker is tracked
// per thread, not per message.
type ThreadID string

// LabelID identifies a Gmail label. System labels (INBOX, UNREAD,
// CATEGORY_PROMOTIONS, ...) use their well-known name as the id.
type LabelID string

// Query is a raw Gmail search string, already formed
// (e.g. `in:inbox is:unread`).
type Query struct {
	Raw string
}

// ListPage is one page of a message listing.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// MessageMeta is an immutable metadata snapshot of one message. It is
// re-fetched every cycle and never cached across cycles.
type MessageMeta struct {
	ID      MessageID
	Thread  ThreadID
	Labels  []LabelID
	Headers map[string]string // From, Subject, Message-ID, ...
}

// HasLabel reports whether the snapshot carries the given label.
func (m MessageMeta) HasLabel(id LabelID) bool {
	for _, l := range m.Labels {
		if l == id {
			return true
		}
	}
	return false
}

// ModifyOps describes a single label mutation on a thread.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// OutgoingReply is a reply to be sent into an existing thread.
type OutgoingReply struct {
	Thread     ThreadID
	To         string
	Subject    string
	InReplyTo  string // Message-ID of the message being answered
	References string
	Body       string
}
