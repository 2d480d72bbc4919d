package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/channel"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/history"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/surface"
)

const chatHelp = `Type a message and press Enter to send. End a line with \ to continue
on the next line. Commands:
  /switch <customer id>  serve another customer (staff)
  /help                  show this help
  /quit                  leave the chat`

func init() {
	chatCmd.Flags().String("customer", "", "customer id to serve (staff)")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the live support chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		if !e.sessions.Snapshot().Authenticated() {
			return conversation.ErrNotAuthenticated
		}
		// A rejected token signs the user out; other failures keep the
		// stored session and let the chat report what it can.
		if _, err := e.sessions.Hydrate(cmd.Context(), e.api); err != nil {
			var apiErr *apiclient.Error
			if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
				return fmt.Errorf("session expired, sign in again: %w", err)
			}
			e.logger.Warn("could not refresh session", "err", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		renderer := surface.NewTextRenderer(out, isTerminal(out))
		selector := conversation.NewSelector(e.sessions)
		if id, _ := cmd.Flags().GetString("customer"); id != "" {
			selector.SetTarget(model.Identity(id))
		}

		surf := surface.New(surface.Options{
			Sessions:   e.sessions,
			Selector:   selector,
			History:    history.NewLoader(e.api, history.Options{Limit: e.cfg.HistoryLimit, Logger: e.logger}),
			Dialer:     channel.NewWebsocketDialer(channel.DefaultHandshakeTimeout),
			GatewayURL: e.cfg.GatewayURL,
			Notifier:   renderer,
			Observer:   renderer,
			Logger:     e.logger,
			Window:     e.cfg.DedupWindow,
		})
		go surf.Run(ctx)
		defer surf.Close()

		if err := surf.Open(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Type /help for commands.")
		return chatLoop(ctx, surf, cmd.InOrStdin(), out)
	},
}

// chatLoop feeds stdin lines to the surface until /quit, EOF or ctx ends.
func chatLoop(ctx context.Context, surf *surface.Surface, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ed := &lineEditor{surf: surf, out: out}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-surf.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := ed.handle(line); quit {
				return nil
			}
		}
	}
}

// lineEditor turns terminal lines into surface input. A line ending in a
// backslash continues the message on the next line.
type lineEditor struct {
	surf    *surface.Surface
	out     io.Writer
	pending string
}

// handle applies one line of input. It reports whether the user asked to
// leave.
func (ed *lineEditor) handle(line string) bool {
	name, arg, isCommand := parseCommand(line)
	if isCommand && ed.pending == "" {
		switch name {
		case "quit", "exit":
			return true
		case "help":
			fmt.Fprintln(ed.out, chatHelp)
		case "switch":
			if arg == "" {
				fmt.Fprintln(ed.out, "usage: /switch <customer id>")
				return false
			}
			ed.surf.SetTarget(model.Identity(arg))
		default:
			fmt.Fprintf(ed.out, "unknown command /%s, try /help\n", name)
		}
		return false
	}

	if ed.pending == "" && strings.HasPrefix(strings.TrimSpace(line), "//") {
		line = strings.Replace(line, "//", "/", 1)
	}
	if strings.HasSuffix(line, `\`) {
		ed.surf.SetInput(ed.pending + strings.TrimSuffix(line, `\`))
		ed.surf.Key(surface.KeyShiftEnter)
		ed.pending = ed.surf.View().Input
		return false
	}
	ed.surf.SetInput(ed.pending + line)
	ed.surf.Key(surface.KeyEnter)
	ed.pending = ""
	return false
}

// parseCommand splits "/name arg" lines. "//text" escapes a leading slash.
func parseCommand(line string) (name, arg string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(trimmed[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
