// Package report produces a one-shot snapshot of the mailbox from the
// agent's point of view: how much unread mail is waiting, who it is from,
// and whether the handled label is in place.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/autoreply/internal/gmail"
	"github.com/joshsymonds/autoreply/internal/rate"
)

const previewSubjectDisplayLimit = 60

// Options controls the snapshot.
type Options struct {
	HandledLabel string
	TopN         int
	PageSize     int
}

// Service gathers the snapshot.
type Service struct {
	Client gmail.Client
	Rate   rate.Limiter
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, limiter rate.Limiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = rate.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Client: client, Rate: limiter, Logger: logger, Clock: time.Now}
}

// SenderStat ranks unread volume by sender domain.
type SenderStat struct {
	Domain         string
	Count          int
	PreviewSubject string
}

// Report is the snapshot result.
type Report struct {
	GeneratedAt       time.Time
	HandledLabel      string
	HandledLabelFound bool
	Unread            int
	TopSenders        []SenderStat
	Categories        map[string]int
}

// Run builds the snapshot.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	topN := opts.TopN
	if topN <= 0 {
		topN = 10
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}

	byName, _, err := s.Client.ListLabels(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list labels: %w", err)
	}
	_, found := byName[opts.HandledLabel]

	rep := Report{
		GeneratedAt:       s.Clock(),
		HandledLabel:      opts.HandledLabel,
		HandledLabelFound: found,
		Categories:        map[string]int{},
	}

	q := gmail.Query{Raw: "in:inbox is:unread"}
	senders := map[string]SenderStat{}
	token := ""
	for {
		if err := s.Rate.Wait(ctx); err != nil {
			return Report{}, err
		}
		page, err := s.Client.ListUnread(ctx, q, token, pageSize)
		if err != nil {
			return Report{}, fmt.Errorf("list unread: %w", err)
		}
		for _, id := range page.IDs {
			if err := s.Rate.Wait(ctx); err != nil {
				return Report{}, err
			}
			meta, err := s.Client.GetMetadata(ctx, id, []string{"From", "Subject"})
			if err != nil {
				s.Logger.WarnContext(ctx, "fetch metadata failed", "message", id, "error", err)
				continue
			}
			rep.Unread++
			for _, l := range meta.Labels {
				if strings.HasPrefix(string(l), "CATEGORY_") {
					rep.Categories[string(l)]++
				}
			}
			dom := domainOf(meta.Headers["From"])
			if dom == "" {
				continue
			}
			st := senders[dom]
			st.Domain, st.Count = dom, st.Count+1
			if st.PreviewSubject == "" {
				st.PreviewSubject = meta.Headers["Subject"]
			}
			senders[dom] = st
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	rep.TopSenders = rankSenders(senders, topN)
	return rep, nil
}

func rankSenders(senders map[string]SenderStat, topN int) []SenderStat {
	out := make([]SenderStat, 0, len(senders))
	for _, st := range senders {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "autoreply status — %d unread messages\n", rep.Unread)
	if rep.HandledLabelFound {
		fmt.Fprintf(&builder, "handled label %q present\n", rep.HandledLabel)
	} else {
		fmt.Fprintf(&builder, "handled label %q not yet created\n", rep.HandledLabel)
	}
	if len(rep.Categories) > 0 {
		builder.WriteString("\nCategories:\n")
		names := make([]string, 0, len(rep.Categories))
		for name := range rep.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&builder, "  %-24s %4d\n", name, rep.Categories[name])
		}
	}
	if len(rep.TopSenders) > 0 {
		builder.WriteString("\nTop senders:\n")
		for _, s := range rep.TopSenders {
			fmt.Fprintf(&builder, "  %-30s %4d %s\n",
				s.Domain, s.Count, truncate(s.PreviewSubject, previewSubjectDisplayLimit))
		}
	}
	_, err := io.WriteString(w, builder.String())
	return err
}

// truncate cuts on rune boundaries so multibyte subjects stay valid UTF-8.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
