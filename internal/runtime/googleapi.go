// internal/runtime/googleapi.go — adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/autoreply/internal/gmail"
)

type googleClient struct{ svc *gmail.Service }

// NewGoogleAPIClient wraps an authenticated Gmail service.
func NewGoogleAPIClient(svc *gmail.Service) gc.Client { return &googleClient{svc} }

func (g *googleClient) ListUnread(
	ctx context.Context,
	q gc.Query,
	pageToken string,
	pageSize int,
) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List("me").Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, fmt.Errorf("list messages: %w", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (g *googleClient) GetMetadata(
	ctx context.Context,
	id gc.MessageID,
	headers []string,
) (gc.MessageMeta, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).
		Format("metadata").
		MetadataHeaders(headers...).
		Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, mapStatus(err, fmt.Sprintf("get message %s", id))
	}
	meta := gc.MessageMeta{
		ID:      id,
		Thread:  gc.ThreadID(msg.ThreadId),
		Labels:  toLabelIDs(msg.LabelIds),
		Headers: map[string]string{},
	}
	if msg.Payload != nil {
		for _, hd := range msg.Payload.Headers {
			meta.Headers[hd.Name] = hd.Value
		}
	}
	return meta, nil
}

func (g *googleClient) SendReply(ctx context.Context, reply gc.OutgoingReply) (gc.MessageID, error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(rawReply(reply))),
		ThreadId: string(reply.Thread),
	}
	sent, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send reply to %s: %w", reply.To, err)
	}
	return gc.MessageID(sent.Id), nil
}

// rawReply renders the RFC 822 payload Gmail expects in Message.Raw. The
// In-Reply-To and References headers keep threading intact for clients that
// ignore ThreadId.
func rawReply(reply gc.OutgoingReply) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", reply.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", reply.Subject)
	if reply.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", reply.InReplyTo)
	}
	if reply.References != "" {
		fmt.Fprintf(&b, "References: %s\r\n", reply.References)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(reply.Body)
	return b.String()
}

func (g *googleClient) ListLabels(
	ctx context.Context,
) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	lr, err := g.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("list labels: %w", err)
	}
	byName := map[string]gc.LabelID{}
	byID := map[gc.LabelID]string{}
	for _, l := range lr.Labels {
		byName[l.Name] = gc.LabelID(l.Id)
		byID[gc.LabelID(l.Id)] = l.Name
	}
	return byName, byID, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.LabelID, error) {
	created, err := g.svc.Users.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", mapStatus(err, fmt.Sprintf("create label %q", name))
	}
	return gc.LabelID(created.Id), nil
}

func (g *googleClient) ThreadLabels(ctx context.Context, id gc.ThreadID) ([]gc.LabelID, error) {
	th, err := g.svc.Users.Threads.Get("me", string(id)).Format("minimal").Context(ctx).Do()
	if err != nil {
		return nil, mapStatus(err, fmt.Sprintf("get thread %s", id))
	}
	// The marker may sit on any message in the thread; report the union.
	seen := map[gc.LabelID]struct{}{}
	var labels []gc.LabelID
	for _, m := range th.Messages {
		for _, l := range m.LabelIds {
			lid := gc.LabelID(l)
			if _, ok := seen[lid]; ok {
				continue
			}
			seen[lid] = struct{}{}
			labels = append(labels, lid)
		}
	}
	return labels, nil
}

func (g *googleClient) ModifyThread(ctx context.Context, id gc.ThreadID, ops gc.ModifyOps) error {
	req := &gmail.ModifyThreadRequest{
		AddLabelIds:    toStrings(ops.AddLabels),
		RemoveLabelIds: toStrings(ops.RemoveLabels),
	}
	_, err := g.svc.Users.Threads.Modify("me", string(id), req).Context(ctx).Do()
	if err != nil {
		return mapStatus(err, fmt.Sprintf("modify thread %s", id))
	}
	return nil
}

// mapStatus translates Google API status codes into the sentinel errors the
// rest of the agent branches on.
func mapStatus(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, gc.ErrNotFound)
		case http.StatusConflict:
			return fmt.Errorf("%s: %w", op, gc.ErrAlreadyExists)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toStrings(ids []gc.LabelID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]gc.LabelID, 0, len(ids))
	for _, id := range ids {
		out = append(out, gc.LabelID(id))
	}
	return out
}
