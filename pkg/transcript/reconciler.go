// Package transcript keeps the ordered message list for one open conversation.
package transcript

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/venue-support/pkg/model"
)

// DefaultWindow is how close two identical inbound messages from the same
// sender must be for the second to count as a retransmission.
const DefaultWindow = 3 * time.Second

type Options struct {
	// Self is the signed-in user. Inbound messages from Self are the
	// server's copy of a local echo and are dropped.
	Self model.Sender
	// Window overrides DefaultWindow when positive.
	Window time.Duration
	// Now overrides the clock used for local echoes and inbound frames.
	Now func() time.Time
	// OnAppend runs after every append.
	OnAppend func(model.Message)
}

// Reconciler merges history, local echoes and live inbound messages into a
// single transcript. It is not safe for concurrent use; the chat surface
// owns it from one goroutine.
type Reconciler struct {
	self     model.Sender
	window   time.Duration
	now      func() time.Time
	onAppend func(model.Message)

	messages []model.Message
	last     *model.Message
	seen     map[string]struct{}
	claimed  map[string]struct{} // local echoes already matched to a server copy
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		self:     opts.Self,
		window:   opts.Window,
		now:      opts.Now,
		onAppend: opts.OnAppend,
		seen:     make(map[string]struct{}),
		claimed:  make(map[string]struct{}),
	}
	if r.window <= 0 {
		r.window = DefaultWindow
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Seed inserts history messages in the order given. Messages whose server id
// was already delivered live are skipped, as are stored copies of a local
// echo.
func (r *Reconciler) Seed(history []model.Message) {
	for _, m := range history {
		if _, ok := r.seen[m.ID]; ok && m.ID != "" {
			continue
		}
		if r.claimEcho(m.Sender, m.Text, m.Timestamp) {
			continue
		}
		m.Origin = model.OriginHistory
		r.append(m)
	}
}

// AppendLocal records a message this client has just sent. Blank text is
// ignored.
func (r *Reconciler) AppendLocal(text string) (model.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, false
	}
	m := model.Message{
		ID:        "me-" + uuid.NewString(),
		Sender:    r.self,
		Text:      text,
		Timestamp: r.now(),
		Origin:    model.OriginLocalEcho,
	}
	r.append(m)
	return m, true
}

// ApplyInbound reconciles a frame received on the live channel and reports
// whether it was appended.
func (r *Reconciler) ApplyInbound(f model.Frame) bool {
	if f.Type != model.FrameMessage {
		return false
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return false
	}
	if model.SameSender(f.From, r.self) {
		if f.ID != "" {
			r.seen[string(f.ID)] = struct{}{}
		}
		r.claimEcho(f.From, text, r.now())
		return false
	}
	m := model.Message{
		Sender:    f.From,
		Text:      text,
		Timestamp: r.now(),
		Origin:    model.OriginLiveInbound,
	}
	if r.duplicate(m) {
		return false
	}
	m.ID = string(f.ID)
	if m.ID == "" {
		m.ID = "ws-" + uuid.NewString()
	} else if _, ok := r.seen[m.ID]; ok {
		return false
	}
	r.append(m)
	return true
}

// claimEcho marks the first unclaimed local echo with the same text within
// the window as delivered, and reports whether one was found.
func (r *Reconciler) claimEcho(from model.Sender, text string, at time.Time) bool {
	if !model.SameSender(from, r.self) {
		return false
	}
	text = strings.TrimSpace(text)
	for _, e := range r.messages {
		if e.Origin != model.OriginLocalEcho || e.Text != text {
			continue
		}
		if _, ok := r.claimed[e.ID]; ok {
			continue
		}
		if absDuration(at.Sub(e.Timestamp)) <= r.window {
			r.claimed[e.ID] = struct{}{}
			return true
		}
	}
	return false
}

// duplicate compares against the most recently appended entry, not the last
// one in timestamp order.
func (r *Reconciler) duplicate(m model.Message) bool {
	if r.last == nil {
		return false
	}
	if r.last.Text != m.Text || !model.SameSender(r.last.Sender, m.Sender) {
		return false
	}
	return absDuration(m.Timestamp.Sub(r.last.Timestamp)) <= r.window
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (r *Reconciler) append(m model.Message) {
	// upper bound keeps arrival order for equal timestamps
	i := sort.Search(len(r.messages), func(i int) bool {
		return r.messages[i].Timestamp.After(m.Timestamp)
	})
	r.messages = append(r.messages, model.Message{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = m

	last := m
	r.last = &last
	if m.ID != "" {
		r.seen[m.ID] = struct{}{}
	}
	if r.onAppend != nil {
		r.onAppend(m)
	}
}

// Messages returns a copy of the transcript in render order.
func (r *Reconciler) Messages() []model.Message {
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int { return len(r.messages) }
