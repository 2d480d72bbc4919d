// Package surface is the chat window: one goroutine owns the transcript, the
// live channel and the input buffer, and everything else talks to it through
// requests and events.
package surface

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/venue-support/pkg/channel"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/history"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/session"
	"github.com/mahaj/venue-support/pkg/transcript"
)

const (
	NoticeNoTarget      = "Select a customer to chat with."
	NoticeNotConnected  = "Chat is not connected yet, retry shortly."
	NoticeSendFailed    = "Message could not be sent."
	NoticeHistoryFailed = "Could not load chat history: "
	NoticeSignedOut     = "Sign in to chat with support."
	NoticeDisconnected  = "Chat connection lost."
)

// Close codes the gateway uses for policy rejections.
const (
	CloseInvalidSession = 4401
	CloseForbidden      = 4403
)

var ErrStopped = errors.New("surface: stopped")

// HistorySource loads the backlog for a conversation.
type HistorySource interface {
	Load(ctx context.Context, conv conversation.Conversation, token string) ([]model.Message, error)
}

type Options struct {
	Sessions *session.Store
	Selector *conversation.Selector
	History  HistorySource
	// Dialer is handed to every live channel the surface opens.
	Dialer     channel.Dialer
	GatewayURL string

	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger

	// Window and Now are passed to the reconciler.
	Window time.Duration
	Now    func() time.Time
}

type Surface struct {
	sessions   *session.Store
	selector   *conversation.Selector
	history    HistorySource
	dialer     channel.Dialer
	gatewayURL string
	notifier   Notifier
	observer   Observer
	logger     *slog.Logger
	window     time.Duration
	now        func() time.Time

	reqs  chan func()
	inbox mailbox
	done  chan struct{}

	finalMu sync.Mutex
	final   View

	// owned by the loop goroutine
	ctx        context.Context
	gen        uint64
	bound      bool
	conv       conversation.Conversation
	convErr    error
	rec        *transcript.Reconciler
	ch         *channel.Channel
	chState    channel.State
	loading    bool
	cancelBind context.CancelFunc
	input      string
	scroll     bool
	stopping   bool
}

func New(opts Options) *Surface {
	s := &Surface{
		sessions:   opts.Sessions,
		selector:   opts.Selector,
		history:    opts.History,
		dialer:     opts.Dialer,
		gatewayURL: opts.GatewayURL,
		notifier:   opts.Notifier,
		observer:   opts.Observer,
		logger:     opts.Logger,
		window:     opts.Window,
		now:        opts.Now,
		reqs:       make(chan func()),
		done:       make(chan struct{}),
		chState:    channel.Closed,
	}
	s.inbox.init()
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = NotifierFunc(func(Notice) {})
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Run processes requests and events until Close is called or ctx ends. The
// live channel is released before Run returns. Every other method blocks
// until Run is running.
func (s *Surface) Run(ctx context.Context) error {
	s.ctx = ctx
	unsubscribe := s.sessions.Subscribe(func(session.Session) {
		s.post(func() {
			if s.bound {
				s.logger.Debug("session changed, rebinding")
				s.rebind()
			}
		})
	})
	defer func() {
		unsubscribe()
		s.teardown()
		s.finalMu.Lock()
		s.final = s.view()
		s.finalMu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.reqs:
			fn()
		case <-s.inbox.ready():
			for _, fn := range s.inbox.drain() {
				fn()
			}
		}
		s.publish()
		if s.stopping {
			return nil
		}
	}
}

// call runs fn on the loop and waits for it.
func (s *Surface) call(fn func()) error {
	replied := make(chan struct{})
	select {
	case s.reqs <- func() { fn(); close(replied) }:
	case <-s.done:
		return ErrStopped
	}
	<-replied
	return nil
}

// post queues fn for the loop without blocking.
func (s *Surface) post(fn func()) {
	s.inbox.push(fn)
}

// postFor queues fn only while binding gen is current.
func (s *Surface) postFor(gen uint64, fn func()) {
	s.post(func() {
		if gen != s.gen {
			return
		}
		fn()
	})
}

// Open binds the surface to the conversation the session and selector
// describe.
func (s *Surface) Open() error {
	return s.call(func() {
		s.bound = true
		s.rebind()
	})
}

// SetTarget selects the customer a staff member serves. A change tears down
// the current binding and starts over.
func (s *Surface) SetTarget(id model.Identity) error {
	return s.call(func() {
		if !s.selector.SetTarget(id) {
			return
		}
		if s.bound {
			s.rebind()
		}
	})
}

func (s *Surface) SetInput(text string) error {
	return s.call(func() { s.input = text })
}

type Key int

const (
	KeyEnter Key = iota
	KeyShiftEnter
)

// Key handles Enter, which submits, and Shift+Enter, which inserts a newline.
func (s *Surface) Key(k Key) error {
	return s.call(func() {
		switch k {
		case KeyEnter:
			s.submit()
		case KeyShiftEnter:
			s.input += "\n"
		}
	})
}

// Submit sends the current input.
func (s *Surface) Submit() error {
	return s.call(s.submit)
}

// Send replaces the input with text and submits it.
func (s *Surface) Send(text string) error {
	return s.call(func() {
		s.input = text
		s.submit()
	})
}

// View returns the current view. After the loop stops it returns the last
// view.
func (s *Surface) View() View {
	var v View
	if err := s.call(func() { v = s.view() }); err != nil {
		s.finalMu.Lock()
		defer s.finalMu.Unlock()
		return s.final
	}
	return v
}

// Close releases the live channel and stops the loop. In-flight history
// results are discarded.
func (s *Surface) Close() error {
	if err := s.call(func() {
		s.teardown()
		s.stopping = true
	}); err != nil {
		return nil
	}
	<-s.done
	return nil
}

// Done is closed once Run has returned.
func (s *Surface) Done() <-chan struct{} { return s.done }

func (s *Surface) submit() {
	text := strings.TrimSpace(s.input)
	if text == "" {
		return
	}
	switch {
	case errors.Is(s.convErr, conversation.ErrNoTarget):
		s.notify(LevelWarning, NoticeNoTarget)
		return
	case errors.Is(s.convErr, conversation.ErrNotAuthenticated):
		s.notify(LevelWarning, NoticeSignedOut)
		return
	case s.convErr != nil || s.rec == nil:
		s.notify(LevelWarning, NoticeNotConnected)
		return
	}
	if s.ch == nil || s.chState != channel.Open {
		s.notify(LevelWarning, NoticeNotConnected)
		return
	}
	if err := s.ch.Send(text); err != nil {
		s.logger.Warn("send failed", "conversation", s.conv.String(), "error", err)
		if errors.Is(err, channel.ErrNotOpen) {
			s.notify(LevelWarning, NoticeNotConnected)
			return
		}
		s.notify(LevelError, NoticeSendFailed)
		return
	}
	s.rec.AppendLocal(text)
	s.input = ""
}

func (s *Surface) rebind() {
	s.teardown()
	s.gen++
	gen := s.gen

	sess := s.sessions.Snapshot()
	s.conv, s.convErr = s.selector.Resolve()
	s.rec = transcript.New(transcript.Options{
		Self:     sess.Sender(),
		Window:   s.window,
		Now:      s.now,
		OnAppend: func(model.Message) { s.scroll = true },
	})
	s.chState = channel.Closed
	s.loading = false
	s.scroll = false

	if s.convErr != nil {
		if !errors.Is(s.convErr, conversation.ErrNoTarget) {
			s.logger.Info("chat not available", "error", s.convErr)
		}
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelBind = cancel
	s.logger.Info("opening conversation", "conversation", s.conv.String())

	s.loading = true
	conv := s.conv
	go func() {
		msgs, err := s.history.Load(ctx, conv, sess.Token)
		s.postFor(gen, func() { s.historyLoaded(msgs, err) })
	}()

	liveURL, err := conv.LiveURL(s.gatewayURL, sess.Token)
	if err != nil {
		s.logger.Error("build live url", "error", err)
		s.notify(LevelError, NoticeDisconnected)
		return
	}
	ch := channel.New(channel.Options{URL: liveURL, Dialer: s.dialer, Logger: s.logger})
	ch.On(channel.Open, func(channel.Transition) {
		s.postFor(gen, func() { s.chState = channel.Open })
	})
	ch.On(channel.Closed, func(t channel.Transition) {
		s.postFor(gen, func() { s.channelClosed(t) })
	})
	ch.OnFrame(func(f model.Frame) {
		s.postFor(gen, func() { s.rec.ApplyInbound(f) })
	})
	s.ch = ch
	s.chState = channel.Connecting
	go ch.Connect(ctx)
}

func (s *Surface) historyLoaded(msgs []model.Message, err error) {
	s.loading = false
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("history load failed", "conversation", s.conv.String(), "error", err)
		msg := err.Error()
		var apiErr *history.Error
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		s.notify(LevelError, NoticeHistoryFailed+msg)
		return
	}
	s.rec.Seed(msgs)
}

func (s *Surface) channelClosed(t channel.Transition) {
	s.chState = channel.Closed
	switch {
	case t.Code == CloseInvalidSession || t.Code == CloseForbidden:
		reason := t.Reason
		if reason == "" {
			reason = NoticeDisconnected
		}
		s.notify(LevelError, reason)
	case t.Err != nil:
		s.notify(LevelWarning, NoticeDisconnected)
	}
}

// teardown releases the current binding. Events already queued for it are
// dropped by the generation check.
func (s *Surface) teardown() {
	s.gen++
	if s.cancelBind != nil {
		s.cancelBind()
		s.cancelBind = nil
	}
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	s.chState = channel.Closed
	s.loading = false
}

func (s *Surface) notify(level Level, text string) {
	s.notifier.Notify(Notice{Level: level, Text: text})
}

func (s *Surface) publish() {
	s.observer.Changed(s.view())
	if s.scroll {
		s.scroll = false
		s.observer.ScrollToNewest()
	}
}

// mailbox is an unbounded queue so that channel callbacks never block on
// the loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func (m *mailbox) init() { m.signal = make(chan struct{}, 1) }

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) ready() <-chan struct{} { return m.signal }

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
