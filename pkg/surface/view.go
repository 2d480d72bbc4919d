package surface

import (
	"strings"

	"github.com/mahaj/venue-support/pkg/channel"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/model"
)

const (
	IndicatorConnected  = "connected"
	IndicatorConnecting = "connecting"
)

type View struct {
	Items         []model.Message
	Indicator     string
	Loading       bool
	Input         string
	InputDisabled bool
	SendDisabled  bool
	Placeholder   string
	Mode          conversation.Mode
	Target        model.Identity
	Self          model.Sender
}

type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Notice struct {
	Level Level
	Text  string
}

// Notifier receives transient notices. It is called on the surface loop and
// must not call back into the Surface.
type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Observer is told about every view change and when the newest entry should
// be scrolled into view. Like Notifier it runs on the surface loop.
type Observer interface {
	Changed(View)
	ScrollToNewest()
}

type nopObserver struct{}

func (nopObserver) Changed(View)    {}
func (nopObserver) ScrollToNewest() {}

func (s *Surface) view() View {
	v := View{
		Input:     s.input,
		Loading:   s.loading,
		Mode:      s.conv.Mode,
		Target:    s.conv.Target,
		Indicator: IndicatorConnecting,
	}
	if s.rec != nil {
		v.Items = s.rec.Messages()
	}
	if s.sessions != nil {
		v.Self = s.sessions.Snapshot().Sender()
	}
	open := s.ch != nil && s.chState == channel.Open
	if open {
		v.Indicator = IndicatorConnected
	}
	noTarget := s.convErr != nil

	v.InputDisabled = noTarget || !open
	v.SendDisabled = v.InputDisabled || strings.TrimSpace(s.input) == ""
	switch {
	case s.conv.Mode == conversation.ModeAsStaff && s.conv.Target.IsZero():
		v.Placeholder = NoticeNoTarget
	case s.convErr != nil:
		v.Placeholder = NoticeSignedOut
	case !open:
		v.Placeholder = "Connecting..."
	default:
		v.Placeholder = "Type a message..."
	}
	return v
}
