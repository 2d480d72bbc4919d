package surface

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/model"
)

// TextRenderer prints a transcript to a terminal. It implements Observer and
// Notifier. New entries are appended; when one lands above entries already
// shown, the whole transcript is printed again under a marker.
type TextRenderer struct {
	w     io.Writer
	color bool
	now   func() time.Time

	mu        sync.Mutex
	printed   map[string]bool
	binding   string
	indicator string
}

func NewTextRenderer(w io.Writer, color bool) *TextRenderer {
	return &TextRenderer{w: w, color: color, now: time.Now, printed: make(map[string]bool)}
}

func (r *TextRenderer) Changed(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding := string(v.Mode) + "/" + v.Target.String()
	if binding != r.binding {
		r.binding = binding
		r.printed = make(map[string]bool)
		r.indicator = ""
		if v.Mode != "" {
			fmt.Fprintf(r.w, "── %s ──\n", title(v))
		}
	}
	if v.Indicator != r.indicator && v.Mode != "" {
		r.indicator = v.Indicator
		fmt.Fprintf(r.w, "[%s]\n", v.Indicator)
	}
	if r.backfilled(v.Items) {
		fmt.Fprintf(r.w, "── %s, earlier messages loaded ──\n", title(v))
		r.printed = make(map[string]bool)
	}
	for _, m := range v.Items {
		if r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		fmt.Fprintln(r.w, r.line(m, v.Self))
	}
}

// backfilled reports whether a new item sorts before one already on screen,
// in which case the transcript is printed again in order.
func (r *TextRenderer) backfilled(items []model.Message) bool {
	fresh := false
	for _, m := range items {
		if !r.printed[m.ID] {
			fresh = true
		} else if fresh {
			return true
		}
	}
	return false
}

func (r *TextRenderer) ScrollToNewest() {}

func (r *TextRenderer) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := "! "
	if r.color {
		switch n.Level {
		case LevelError:
			prefix = "\x1b[31m! "
		case LevelWarning:
			prefix = "\x1b[33m! "
		}
		fmt.Fprintf(r.w, "%s%s\x1b[0m\n", prefix, n.Text)
		return
	}
	fmt.Fprintf(r.w, "%s%s: %s\n", prefix, n.Level, n.Text)
}

func (r *TextRenderer) line(m model.Message, self model.Sender) string {
	who := m.Sender.Name
	if who == "" {
		who = roleLabel(m.Sender.Role)
	}
	if m.Origin == model.OriginLocalEcho || model.SameSender(m.Sender, self) {
		who = "me"
	}
	when := humanize.RelTime(m.Timestamp, r.now(), "ago", "from now")
	text := strings.ReplaceAll(m.Text, "\n", "\n    ")
	if r.color && who != "me" {
		who = "\x1b[1m" + who + "\x1b[0m"
	}
	return fmt.Sprintf("[%s] %s (%s): %s", badge(m.Sender.Role), who, when, text)
}

func badge(r model.Role) string {
	if r == "" {
		return string(model.RoleCustomer)
	}
	return string(r)
}

func roleLabel(r model.Role) string {
	if r.IsStaff() {
		return "Support"
	}
	return "Customer"
}

func title(v View) string {
	if v.Target.IsZero() {
		if v.Mode == conversation.ModeAsStaff {
			return "no customer selected"
		}
		return "support"
	}
	return "customer " + v.Target.String()
}
