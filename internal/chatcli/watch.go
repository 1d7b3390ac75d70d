package chatcli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/chatsync"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/notify"
	"github.com/tOgg1/casechat/internal/render"
	"github.com/tOgg1/casechat/internal/session"
)

// surfaceURL is where the bridge opens new watch surfaces.
const surfaceURL = "casechat://watch"

const watchHelp = `commands:
  /to <conversation>  switch conversation (user:<id>, team:<id>, @<id>, #<id>)
  /older              load older history
  /open               open the conversation of the last notification
  /quit               leave
anything else is sent to the active conversation`

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [conversation]",
		Short: "Follow conversations and chat interactively",
		Long: "Follow conversations live. Lines typed on stdin are sent to the active conversation; " +
			"lines starting with / are commands (/to, /older, /open, /quit).",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args)
		},
	}
	cmd.Flags().String("open", "", "surface url carrying the conversation to open")
	cmd.Flags().Bool("no-push", false, "rely on polling only")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.Component("chatcli-watch")

	var initial *models.Recipient
	if len(args) == 1 {
		r, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		initial = &r
	}
	if raw, _ := cmd.Flags().GetString("open"); raw != "" {
		r, ok, err := notify.ParseOpenTarget(raw)
		if err != nil {
			return fmt.Errorf("invalid --open url: %w", err)
		}
		if ok {
			initial = &r
		}
	}

	if err := a.cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}
	state := session.New(a.cfg.SessionStatePath(), a.userID)
	if err := state.Load(); err != nil {
		logger.Warn().Err(err).Msg("ignoring unreadable session state")
	}

	tuning := a.cfg.Sync
	engine, err := chatsync.New(chatsync.Options{
		Service:        a.svc,
		SelfID:         a.userID,
		Session:        state,
		Initial:        initial,
		Poller:         chatsync.PollerConfig{Interval: tuning.PollInterval},
		Reads:          chatsync.ReadTrackerConfig{IdleWindow: tuning.IdleWindow, MinInterval: tuning.MarkReadInterval, CallTimeout: a.cfg.API.Timeout},
		PageSize:       tuning.PageSize,
		BootstrapLimit: tuning.BootstrapLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := newWatcher(engine, out, a.userID, terminalWidth(out))
	unsubscribe := engine.Store().Subscribe(w.onChange)
	defer unsubscribe()

	hub := notify.NewHub()
	defer hub.Close()
	_, unregister, err := hub.Register(engine.HandleEnvelope, nil)
	if err != nil {
		return err
	}
	defer unregister()
	opener := notify.OpenerFunc(func(_ context.Context, target string) error {
		w.printf("open with: casechat watch --open %q\n", target)
		return nil
	})
	bridge := notify.NewBridge(hub, opener, surfaceURL, a.userID)

	w.hold()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Warn().Err(err).Msg("engine stop")
		}
	}()
	w.release()

	in := cmd.InOrStdin()
	engine.SetVisible(ctx, isTerminal(in))

	if noPush, _ := cmd.Flags().GetBool("no-push"); !noPush {
		receiver := notify.NewPushReceiver(notify.PushConfig{URL: a.cfg.PushURL(), UserID: a.userID}, func(p notify.Payload) {
			_ = engine.PollNow()
			w.notePayload(p)
		})
		go func() { _ = receiver.Run(ctx) }()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-engine.Notices():
				w.printf("! %s: %s\n", n, render.Excerpt(n.Content, 40))
			}
		}
	}()

	return w.loop(ctx, in, bridge)
}

// watcher prints the active conversation as the cache changes and runs
// typed input against the engine.
type watcher struct {
	engine *chatsync.Engine
	out    io.Writer
	selfID int64
	width  int

	mu          sync.Mutex
	seen        map[models.MessageID]string
	holding     bool
	lastUnread  string
	lastPayload *notify.Payload
}

func newWatcher(engine *chatsync.Engine, out io.Writer, selfID int64, width int) *watcher {
	return &watcher{
		engine: engine,
		out:    out,
		selfID: selfID,
		width:  width,
		seen:   make(map[models.MessageID]string),
	}
}

func (w *watcher) options() render.Options {
	return render.Options{SelfID: w.selfID, Parents: w.engine.Store()}
}

func (w *watcher) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

// printLineLocked writes one message line, clipped to the terminal width.
func (w *watcher) printLineLocked(prefix string, msg models.Message) {
	line := prefix + render.Line(msg, w.options())
	if w.width > 0 && utf8.RuneCountInString(line) > w.width {
		line = string([]rune(line)[:w.width-1]) + "…"
	}
	fmt.Fprintln(w.out, line)
}

func fingerprint(msg models.Message) string {
	return string(msg.Type) + "\x00" + msg.Content + "\x00" + msg.LinkURL + "\x00" + msg.LinkTitle
}

// hold suppresses incremental output until release reprints the
// conversation. Used around bulk loads that arrive out of order.
func (w *watcher) hold() {
	w.mu.Lock()
	w.holding = true
	w.mu.Unlock()
}

func (w *watcher) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.holding = false

	key, ok := w.engine.ActiveKey()
	if !ok {
		fmt.Fprintln(w.out, "no conversation selected; use /to user:<id> or /to team:<id>")
		w.printUnreadLocked()
		return
	}
	msgs := w.engine.Conversation()
	fmt.Fprintf(w.out, "── %s (%d loaded) ──\n", key, len(msgs))
	for _, msg := range msgs {
		w.printLineLocked("", msg)
		w.seen[msg.ID] = fingerprint(msg)
	}
	if w.engine.HasMore() {
		fmt.Fprintln(w.out, "(/older for earlier messages)")
	}
	w.printUnreadLocked()
}

func (w *watcher) onChange(change chatcache.Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.holding {
		return
	}

	key, active := w.engine.ActiveKey()
	store := w.engine.Store()

	for local, server := range change.Replaced {
		delete(w.seen, local)
		if msg, ok := store.Get(server); ok {
			w.seen[server] = fingerprint(msg)
			fmt.Fprintf(w.out, "  sent #%s\n", server)
		}
	}
	for _, id := range change.Upserted {
		msg, ok := store.Get(id)
		if !ok || !active || models.KeyFor(msg, w.selfID) != key {
			continue
		}
		previous, seen := w.seen[id]
		current := fingerprint(msg)
		switch {
		case !seen:
			w.printLineLocked("", msg)
		case previous != current:
			w.printLineLocked("edited ", msg)
		}
		w.seen[id] = current
	}
	for _, id := range change.Removed {
		if _, seen := w.seen[id]; seen {
			delete(w.seen, id)
			if !id.IsLocal() {
				fmt.Fprintf(w.out, "  #%s deleted\n", id)
			}
		}
	}
	if change.Unread {
		w.printUnreadLocked()
	}
}

func (w *watcher) printUnreadLocked() {
	counts := w.engine.Store().UnreadCounts()
	if key, ok := w.engine.ActiveKey(); ok {
		delete(counts, key)
	}
	summary := ""
	if counts.Total() > 0 {
		summary = render.UnreadSummary(counts)
	}
	if summary != w.lastUnread && summary != "" {
		fmt.Fprintf(w.out, "unread: %s\n", summary)
	}
	w.lastUnread = summary
}

func (w *watcher) notePayload(p notify.Payload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPayload = &p
	target, err := p.Target(w.selfID)
	if err != nil {
		return
	}
	if key, ok := w.engine.ActiveKey(); ok && key == models.RecipientKey(target) {
		return
	}
	fmt.Fprintf(w.out, "* new message in %s: %s (/open to view)\n", models.RecipientKey(target), render.Excerpt(p.Body, 60))
}

func (w *watcher) payload() (notify.Payload, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastPayload == nil {
		return notify.Payload{}, false
	}
	return *w.lastPayload, true
}

var errQuit = errors.New("quit")

// loop reads input lines until EOF, /quit or cancellation.
func (w *watcher) loop(ctx context.Context, in io.Reader, bridge *notify.Bridge) error {
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

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			w.engine.RecordActivity(ctx, chatsync.ActivityKeyboard)
			if err := w.handleLine(ctx, strings.TrimSpace(line), bridge); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				w.printf("error: %v\n", err)
			}
		}
	}
}

func (w *watcher) handleLine(ctx context.Context, line string, bridge *notify.Bridge) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := w.engine.SendActive(ctx, line, models.MessageNormal, nil)
		if errors.Is(err, chatsync.ErrNotSent) {
			// Reported through the notice channel.
			return nil
		}
		return err
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/q":
		return errQuit
	case "/help":
		w.printf("%s\n", watchHelp)
		return nil
	case "/to":
		r, err := parseTarget(arg)
		if err != nil {
			return err
		}
		w.hold()
		defer w.release()
		return w.engine.Select(ctx, r)
	case "/older":
		w.hold()
		defer w.release()
		more, err := w.engine.LoadOlder(ctx)
		if err != nil {
			return err
		}
		if !more {
			w.printf("beginning of conversation\n")
		}
		return nil
	case "/open":
		p, ok := w.payload()
		if !ok {
			return errors.New("no notification to open")
		}
		w.hold()
		defer w.release()
		_, err := bridge.Route(ctx, p)
		return err
	default:
		return fmt.Errorf("unknown command %s (try /help)", command)
	}
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
