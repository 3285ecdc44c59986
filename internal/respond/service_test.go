package respond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/joshsymonds/autoreply/internal/gmail"
)

type fakeClient struct {
	listPages []gmail.ListPage
	listErr   error
	listCalls int

	metas    map[gmail.MessageID]gmail.MessageMeta
	metaErrs map[gmail.MessageID]error

	sent    []gmail.OutgoingReply
	sendErr map[gmail.ThreadID]error
}

func (f *fakeClient) ListUnread(
	ctx context.Context,
	q gmail.Query,
	pageToken string,
	pageSize int,
) (gmail.ListPage, error) {
	_ = ctx
	_ = q
	_ = pageToken
	_ = pageSize
	f.listCalls++
	if f.listErr != nil {
		return gmail.ListPage{}, f.listErr
	}
	if len(f.listPages) == 0 {
		return gmail.ListPage{}, nil
	}
	page := f.listPages[0]
	f.listPages = f.listPages[1:]
	return page, nil
}

func (f *fakeClient) GetMetadata(
	ctx context.Context,
	id gmail.MessageID,
	headers []string,
) (gmail.MessageMeta, error) {
	_ = ctx
	_ = headers
	if err := f.metaErrs[id]; err != nil {
		return gmail.MessageMeta{}, err
	}
	meta, ok := f.metas[id]
	if !ok {
		return gmail.MessageMeta{}, fmt.Errorf("fake has no message %s", id)
	}
	return meta, nil
}

func (f *fakeClient) SendReply(ctx context.Context, reply gmail.OutgoingReply) (gmail.MessageID, error) {
	_ = ctx
	if err := f.sendErr[reply.Thread]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, reply)
	return gmail.MessageID(fmt.Sprintf("sent-%d", len(f.sent))), nil
}

func (f *fakeClient) ListLabels(ctx context.Context) (map[string]gmail.LabelID, map[gmail.LabelID]string, error) {
	_ = ctx
	return nil, nil, nil
}

func (f *fakeClient) CreateLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	_ = name
	return "", errors.New("not implemented")
}

func (f *fakeClient) ThreadLabels(ctx context.Context, id gmail.ThreadID) ([]gmail.LabelID, error) {
	_ = ctx
	_ = id
	return nil, nil
}

func (f *fakeClient) ModifyThread(ctx context.Context, id gmail.ThreadID, ops gmail.ModifyOps) error {
	_ = ctx
	_ = id
	_ = ops
	return nil
}

// fakeMarker mimics label-as-state: MarkHandled flips live state, so a
// handled check later in the same cycle sees the new marker.
type fakeMarker struct {
	labelID   gmail.LabelID
	ensureErr error

	handled  map[gmail.ThreadID]bool
	markErrs map[gmail.ThreadID]error

	checks []gmail.ThreadID
	marked []gmail.ThreadID
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{labelID: "Label123", handled: map[gmail.ThreadID]bool{}}
}

func (f *fakeMarker) EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	_ = name
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	return f.labelID, nil
}

func (f *fakeMarker) IsHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) bool {
	_ = ctx
	_ = label
	f.checks = append(f.checks, thread)
	return f.handled[thread]
}

func (f *fakeMarker) MarkHandled(ctx context.Context, thread gmail.ThreadID, label gmail.LabelID) error {
	_ = ctx
	_ = label
	if err := f.markErrs[thread]; err != nil {
		return err
	}
	f.marked = append(f.marked, thread)
	f.handled[thread] = true
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unreadMessage(id, thread, from string) gmail.MessageMeta {
	return gmail.MessageMeta{
		ID:     gmail.MessageID(id),
		Thread: gmail.ThreadID(thread),
		Labels: []gmail.LabelID{"INBOX", "UNREAD"},
		Headers: map[string]string{
			"From":       from,
			"Subject":    "Hello",
			"Message-ID": "<" + id + "@example.com>",
		},
	}
}

func testSpec() Spec {
	return Spec{
		HandledLabel:  "auto-replied",
		ExcludeLabels: DefaultExcludeLabels(),
	}
}

func TestCycleRepliesAndMarks(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "Alice <alice@example.com>"),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(fake.sent))
	}
	reply := fake.sent[0]
	if reply.To != "alice@example.com" {
		t.Fatalf("reply To = %q", reply.To)
	}
	if reply.Thread != "T1" {
		t.Fatalf("reply Thread = %q", reply.Thread)
	}
	if reply.Subject != "Re: Hello" {
		t.Fatalf("reply Subject = %q", reply.Subject)
	}
	if reply.InReplyTo != "<m1@example.com>" {
		t.Fatalf("reply InReplyTo = %q", reply.InReplyTo)
	}
	if reply.Body != DefaultReplyBody {
		t.Fatalf("reply Body = %q", reply.Body)
	}
	if len(mk.marked) != 1 || mk.marked[0] != "T1" {
		t.Fatalf("marked = %v", mk.marked)
	}
	want := Stats{Listed: 1, Replied: 1, Marked: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestCycleSkipsHandledThread(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "alice@example.com"),
		},
	}
	mk := newFakeMarker()
	mk.handled["T1"] = true
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(fake.sent))
	}
	if stats.Skipped != 1 {
		t.Fatalf("skipped = %d", stats.Skipped)
	}
}

func TestCycleExcludesCategories(t *testing.T) {
	promo := unreadMessage("m1", "T1", "deals@shop.example")
	promo.Labels = append(promo.Labels, "CATEGORY_PROMOTIONS")
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metas:     map[gmail.MessageID]gmail.MessageMeta{"m1": promo},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(fake.sent))
	}
	if len(mk.checks) != 0 {
		t.Fatalf("excluded message reached handled check: %v", mk.checks)
	}
	if stats.Excluded != 1 {
		t.Fatalf("excluded = %d", stats.Excluded)
	}
}

func TestCycleIsolatesMarkFailure(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1", "m2"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "TA", "a@example.com"),
			"m2": unreadMessage("m2", "TB", "b@example.com"),
		},
	}
	mk := newFakeMarker()
	mk.markErrs = map[gmail.ThreadID]error{"TA": errors.New("label write failed")}
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected both replies sent, got %d", len(fake.sent))
	}
	if stats.MarkFailed != 1 || stats.Marked != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(mk.marked) != 1 || mk.marked[0] != "TB" {
		t.Fatalf("marked = %v", mk.marked)
	}
}

func TestCycleSkipsMalformedFrom(t *testing.T) {
	bad := unreadMessage("m1", "T1", "")
	delete(bad.Headers, "From")
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1", "m2"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": bad,
			"m2": unreadMessage("m2", "T2", "b@example.com"),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if stats.Malformed != 1 {
		t.Fatalf("malformed = %d", stats.Malformed)
	}
	if len(fake.sent) != 1 || fake.sent[0].To != "b@example.com" {
		t.Fatalf("sent = %+v", fake.sent)
	}
}

func TestCycleSkipsVanishedMessage(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metaErrs: map[gmail.MessageID]error{
			"m1": fmt.Errorf("get message m1: %w", gmail.ErrNotFound),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if stats.Vanished != 1 || len(fake.sent) != 0 {
		t.Fatalf("stats = %+v, sent = %d", stats, len(fake.sent))
	}
}

func TestCycleSendFailureSkipsMark(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "a@example.com"),
		},
		sendErr: map[gmail.ThreadID]error{"T1": errors.New("smtp says no")},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(mk.marked) != 0 {
		t.Fatalf("mark must not run after a failed send, marked %v", mk.marked)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d", stats.Failed)
	}
}

func TestCycleRechecksSameThreadWithinCycle(t *testing.T) {
	// Two unread messages in one thread: the first reply writes the marker,
	// the second attempt must see it and skip.
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1", "m2"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "a@example.com"),
			"m2": unreadMessage("m2", "T1", "a@example.com"),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 send for the thread, got %d", len(fake.sent))
	}
	if stats.Skipped != 1 || stats.Replied != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(mk.checks) != 2 {
		t.Fatalf("handled state must be re-queried per message, checks = %v", mk.checks)
	}
}

func TestCyclePagesThroughListing(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{
			{IDs: []gmail.MessageID{"m1"}, NextPageToken: "page2"},
			{IDs: []gmail.MessageID{"m2"}},
		},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "a@example.com"),
			"m2": unreadMessage("m2", "T2", "b@example.com"),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	stats, err := svc.Cycle(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if fake.listCalls != 2 {
		t.Fatalf("list calls = %d", fake.listCalls)
	}
	if stats.Listed != 2 || stats.Replied != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCycleDryRunSendsNothing(t *testing.T) {
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m1"}}},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"m1": unreadMessage("m1", "T1", "a@example.com"),
		},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	spec := testSpec()
	spec.DryRun = true
	stats, err := svc.Cycle(context.Background(), spec)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 0 || len(mk.marked) != 0 {
		t.Fatalf("dry-run mutated: sent %d, marked %d", len(fake.sent), len(mk.marked))
	}
	if stats.Replied != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCycleListFailureAborts(t *testing.T) {
	fake := &fakeClient{listErr: errors.New("network down")}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	if _, err := svc.Cycle(context.Background(), testSpec()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCycleExtendsReferencesChain(t *testing.T) {
	msg := unreadMessage("m3", "T1", "a@example.com")
	msg.Headers["References"] = "<m1@example.com> <m2@example.com>"
	msg.Headers["Message-ID"] = "<m3@example.com>"
	fake := &fakeClient{
		listPages: []gmail.ListPage{{IDs: []gmail.MessageID{"m3"}}},
		metas:     map[gmail.MessageID]gmail.MessageMeta{"m3": msg},
	}
	mk := newFakeMarker()
	svc := NewService(fake, mk, nil, slogDiscard())

	if _, err := svc.Cycle(context.Background(), testSpec()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(fake.sent))
	}
	reply := fake.sent[0]
	if reply.InReplyTo != "<m3@example.com>" {
		t.Fatalf("InReplyTo = %q", reply.InReplyTo)
	}
	want := "<m1@example.com> <m2@example.com> <m3@example.com>"
	if reply.References != want {
		t.Fatalf("References = %q, want %q", reply.References, want)
	}
}

func TestReferencesChain(t *testing.T) {
	tests := []struct {
		name  string
		prior string
		msgID string
		want  string
	}{
		{name: "no-prior", prior: "", msgID: "<a@x>", want: "<a@x>"},
		{name: "with-prior", prior: "<a@x> <b@x>", msgID: "<c@x>", want: "<a@x> <b@x> <c@x>"},
		{name: "no-message-id", prior: "<a@x>", msgID: "", want: "<a@x>"},
		{name: "both-empty", prior: "", msgID: "", want: ""},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := referencesChain(tc.prior, tc.msgID); got != tc.want {
				t.Fatalf("referencesChain(%q, %q) = %q, want %q", tc.prior, tc.msgID, got, tc.want)
			}
		})
	}
}

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		want    string
		wantErr bool
	}{
		{name: "bare", from: "alice@example.com", want: "alice@example.com"},
		{name: "display-name", from: "Alice A. <alice@example.com>", want: "alice@example.com"},
		{name: "empty", from: "", wantErr: true},
		{name: "garbage", from: "not an address", wantErr: true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := senderAddress(tc.from)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Hello", want: "Re: Hello"},
		{in: "Re: Hello", want: "Re: Hello"},
		{in: "RE: Hello", want: "RE: Hello"},
		{in: "", want: "Re: your message"},
	}
	for _, tt := range tests {
		if got := replySubject(tt.in); got != tt.want {
			t.Fatalf("replySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
