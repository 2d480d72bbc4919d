// Package history fetches the stored backlog for a support conversation.
package history

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/model"
)

const Path = "/support/history"

// Error is a rejected history request.
type Error = apiclient.Error

type Loader struct {
	api    *apiclient.Client
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

type Options struct {
	// Limit is sent as the limit parameter when positive; the server applies
	// its own default otherwise.
	Limit  int
	Logger *slog.Logger
	Now    func() time.Time
}

func NewLoader(api *apiclient.Client, opts Options) *Loader {
	l := &Loader{api: api, limit: opts.Limit, logger: opts.Logger, now: opts.Now}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

type response struct {
	Items []model.Frame `json:"items"`
}

// Load returns the backlog oldest first. Items without text and non-message
// items are skipped; items without a timestamp get the load time.
func (l *Loader) Load(ctx context.Context, conv conversation.Conversation, token string) ([]model.Message, error) {
	var resp response
	if err := l.api.Get(ctx, Path, conv.Query(l.limit), token, &resp); err != nil {
		return nil, err
	}

	loadedAt := l.now()
	out := make([]model.Message, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.Type != "" && it.Type != model.FrameMessage {
			continue
		}
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		ts := it.TS.Time
		if ts.IsZero() {
			ts = loadedAt
		}
		it.From.Role = model.ParseRole(string(it.From.Role))
		out = append(out, model.Message{
			ID:        string(it.ID),
			Sender:    it.From,
			Text:      text,
			Timestamp: ts,
			Origin:    model.OriginHistory,
		})
	}
	l.logger.Debug("history loaded", "conversation", conv.String(), "items", len(out), "skipped", len(resp.Items)-len(out))
	return out, nil
}
