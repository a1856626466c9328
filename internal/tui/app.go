package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/tui/keys"
	"github.com/matheus3301/huddle/internal/tui/model"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/matheus3301/huddle/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageNotifications = "notifications"
	pageHelp          = "help"
	pageSignIn        = "signin"

	requestTimeout = 10 * time.Second
)

// Daemon is everything the TUI needs from a session daemon.
type Daemon interface {
	model.Daemon
	Events(ctx context.Context, prefix string, fn func(client.Event) error) error
}

// Options tune the app.
type Options struct {
	Session string
	// NoticeTTL is how long an incoming toast stays in the flash bar.
	NoticeTTL time.Duration
	// SignInURL is shown when the daemon reports an auth failure without one.
	SignInURL string
}

// App is the terminal client. It renders the daemon's state and turns key
// presses into daemon calls; it holds no state of its own beyond the view
// model cache.
type App struct {
	app    *tview.Application
	theme  *ui.Theme
	daemon Daemon
	vm     *model.ViewModel
	opts   Options
	keys   *keys.Registry

	layout   *tview.Flex
	pages    *ui.Pages
	prompt   *ui.Prompt
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	info     *ui.SessionInfo

	convList *views.ConversationList
	thread   *views.MessageThread
	details  *views.ConversationInfo
	search   *views.SearchView
	notifs   *views.NotificationsView
	signIn   *views.SignInView
	help     *views.HelpView

	components map[string]ui.Component
	refreshCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(d Daemon, opts Options) *App {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	vm := model.NewViewModel(d)

	a := &App{
		app:       tview.NewApplication(),
		theme:     theme,
		daemon:    d,
		vm:        vm,
		opts:      opts,
		keys:      keys.NewRegistry(),
		pages:     ui.NewPages(),
		prompt:    ui.NewPrompt(theme),
		menu:      ui.NewMenu(theme),
		crumbs:    ui.NewCrumbs(theme),
		flashBar:  ui.NewFlashBar(theme),
		info:      ui.NewSessionInfo(theme),
		convList:  views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme),
		details:   views.NewConversationInfo(theme),
		notifs:    views.NewNotificationsView(theme),
		signIn:    views.NewSignInView(theme),
		help:      views.NewHelpView(theme),
		refreshCh: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.search = views.NewSearchView(theme, func(id string) string {
		c, _ := vm.Conversation(id)
		return c.Name
	})
	a.components = map[string]ui.Component{
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.details,
		pageSearch:        a.search,
		pageNotifications: a.notifs,
		pageSignIn:        a.signIn,
		pageHelp:          a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.keys.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: ':', Description: "Command", Handler: func() { a.showPrompt(ui.PromptCommand) }})
	a.keys.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '/', Description: "Filter", Handler: func() { a.showPrompt(ui.PromptFilter) }})
	a.keys.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'n', Description: "Notifications", Handler: a.showNotifications})
	a.keys.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: func() { a.push(pageHelp) }})
	a.keys.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: a.Stop})

	a.keys.AddPage(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Details", Handler: func() { a.showDetails(a.convList.Selected()) }})
	a.keys.AddPage(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'm', Description: "Mark read", Handler: func() { a.markRead(a.convList.Selected()) }})
	for n := 1; n <= 9; n++ {
		a.keys.AddPage(pageConversations, &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n), Hidden: true,
			Handler: func() { a.openConversation(a.convList.ByIndex(n)) },
		})
	}

	a.keys.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose", Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	a.keys.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Description: "Retry failed", Handler: a.retryFailed})
	a.keys.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'o', Description: "Older", Handler: a.loadOlder})
	a.keys.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Details", Handler: func() { a.showDetails(a.vm.Active()) }})

	a.keys.AddPage(pageNotifications, &keys.Action{Key: tcell.KeyRune, Rune: 'x', Description: "Dismiss", Handler: a.dismissNotification})
	a.keys.AddPage(pageNotifications, &keys.Action{Key: tcell.KeyRune, Rune: 'c', Description: "Clear panel", Handler: a.clearPanel})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(int, int) {
		a.openConversation(a.convList.Selected())
	})
	a.search.SetSelectedFunc(func(int, int) {
		if conv, _ := a.search.Selected(); conv != "" {
			a.openConversation(conv)
		}
	})
	a.notifs.SetSelectedFunc(func(int, int) {
		a.openNotification()
	})
	a.thread.SetOnSend(func(text string) {
		a.do("Send", func(ctx context.Context) error { return a.vm.Send(ctx, text) }, a.renderThread)
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		case ui.PromptSearch:
			a.runSearch(text)
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(stack []string) {
		names := make([]string, len(stack))
		for i, p := range stack {
			names[i] = a.components[p].Name()
		}
		a.crumbs.Update(names)
		a.updateMenu()
	})
}

func (a *App) setupLayout() {
	for name, c := range a.components {
		a.pages.AddPage(name, c.(tview.Primitive), true, false)
	}

	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 26, 0, false)

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	a.layout.SetBackgroundColor(a.theme.BgColor)

	a.pages.Reset(pageConversations)
	a.app.SetRoot(a.layout, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch focused := a.app.GetFocus(); focused {
	case a.prompt.InputField:
		return ev
	case a.thread.Composer():
		if ev.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		return ev
	}

	if ev.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if a.keys.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) updateMenu() {
	page := a.pages.Current()
	hints := a.keys.Hints(page)
	if c, ok := a.components[page]; ok {
		hints = append(c.Hints(), hints...)
	}
	a.menu.Update(hints)
}

func (a *App) push(page string) {
	a.pages.Push(page)
	a.app.SetFocus(a.components[page].(tview.Primitive))
}

// back pops one page. Leaving the thread leaves the messaging surface so the
// daemon starts notifying again.
func (a *App) back() {
	if a.pages.Current() == pageConversations {
		if a.convList.Filter() != "" {
			a.convList.SetFilter("")
		}
		return
	}
	popped := a.pages.Pop()
	if popped == pageThread && !a.pages.Contains(pageThread) {
		a.do("Close", a.vm.CloseConversation, a.renderState)
	}
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	if a.pages.Current() == pageThread {
		a.app.SetFocus(a.thread.Messages())
		return
	}
	a.app.SetFocus(a.components[a.pages.Current()].(tview.Primitive))
}

func (a *App) showPrompt(mode ui.PromptMode) {
	if mode == ui.PromptFilter && a.pages.Current() != pageConversations {
		a.goHome()
	}
	a.prompt.Activate(mode)
	a.layout.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

// goHome returns to the conversation list, closing any open thread.
func (a *App) goHome() {
	if a.pages.Contains(pageThread) {
		a.do("Close", a.vm.CloseConversation, a.renderState)
	}
	a.pages.Reset(pageConversations)
	a.app.SetFocus(a.convList)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "search":
		if cmd.Args == "" {
			a.showPrompt(ui.PromptSearch)
			return
		}
		a.runSearch(cmd.Args)
	case "open":
		if id := a.findConversation(cmd.Args); id != "" {
			a.openConversation(id)
		} else {
			a.vm.Flash.Warn(fmt.Sprintf("No conversation matches %q", cmd.Args))
		}
	case "read":
		id := a.findConversation(cmd.Args)
		if cmd.Args == "" {
			id = a.vm.Active()
		}
		a.markRead(id)
	case "notifications":
		a.showNotifications()
	case "clear":
		a.clearPanel()
	default:
		a.vm.Flash.Warn(fmt.Sprintf("Unknown command %q", cmd.Name))
	}
	a.renderFlash()
}

// findConversation matches an id exactly, then a name case-insensitively,
// then a name prefix.
func (a *App) findConversation(query string) string {
	if query == "" {
		return ""
	}
	convs := a.vm.Snapshot().Conversations
	for _, c := range convs {
		if c.ID == query {
			return c.ID
		}
	}
	for _, c := range convs {
		if strings.EqualFold(c.Name, query) {
			return c.ID
		}
	}
	for _, c := range convs {
		if strings.HasPrefix(strings.ToLower(c.Name), strings.ToLower(query)) {
			return c.ID
		}
	}
	return ""
}

// do runs fn off the UI goroutine with a request timeout, flashes any error,
// then runs render (if any) on the UI goroutine.
func (a *App) do(what string, fn func(context.Context) error, render func()) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.vm.Flash.Err(fmt.Errorf("%s failed: %w", what, err))
		}
		a.app.QueueUpdateDraw(func() {
			if render != nil {
				render()
			}
			a.renderFlash()
		})
	}()
}

func (a *App) openConversation(id string) {
	if id == "" {
		return
	}
	a.do("Open", func(ctx context.Context) error { return a.vm.OpenConversation(ctx, id) }, func() {
		if a.vm.Active() != id {
			return
		}
		a.pages.Reset(pageConversations)
		a.renderState()
		a.renderThread()
		a.pages.Push(pageThread)
		a.app.SetFocus(a.thread.Messages())
	})
}

func (a *App) markRead(id string) {
	if id == "" {
		return
	}
	a.do("Mark read", func(ctx context.Context) error {
		if err := a.vm.MarkRead(ctx, id); err != nil {
			return err
		}
		return a.vm.LoadState(ctx)
	}, a.renderState)
}

func (a *App) showDetails(id string) {
	c, ok := a.vm.Conversation(id)
	if !ok {
		return
	}
	a.details.Update(c)
	a.push(pageDetails)
}

func (a *App) retryFailed() {
	a.do("Retry", func(ctx context.Context) error {
		ok, err := a.vm.RetryLastFailed(ctx)
		if err == nil && !ok {
			a.vm.Flash.Info("No failed message to retry")
		}
		return err
	}, nil)
}

func (a *App) loadOlder() {
	var added int
	a.do("Load older", func(ctx context.Context) error {
		n, err := a.vm.LoadOlder(ctx)
		added = n
		if err == nil && n == 0 {
			a.vm.Flash.Info("No older messages archived")
		}
		return err
	}, func() {
		if added > 0 {
			a.thread.Update(a.vm.Messages(), true)
		}
	})
}

func (a *App) runSearch(query string) {
	if query == "" {
		return
	}
	a.do("Search", func(ctx context.Context) error {
		results, err := a.vm.Search(ctx, query)
		if err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(query, results)
			a.push(pageSearch)
		})
		return nil
	}, nil)
}

func (a *App) showNotifications() {
	a.do("Notifications", a.vm.LoadNotifications, func() {
		a.notifs.Update(a.vm.Notifications())
		a.push(pageNotifications)
	})
}

func (a *App) openNotification() {
	surface, id := a.notifs.Selected()
	if id == "" {
		return
	}
	var conv string
	a.do("Open", func(ctx context.Context) error {
		c, err := a.vm.OpenNotification(ctx, surface, id)
		conv = c
		return err
	}, func() {
		a.openConversation(conv)
	})
}

func (a *App) dismissNotification() {
	surface, id := a.notifs.Selected()
	if id == "" {
		return
	}
	a.do("Dismiss", func(ctx context.Context) error {
		return a.vm.DismissNotification(ctx, surface, id)
	}, func() { a.notifs.Update(a.vm.Notifications()) })
}

func (a *App) clearPanel() {
	a.do("Clear", func(ctx context.Context) error {
		n, err := a.vm.DismissAll(ctx)
		if err == nil {
			a.vm.Flash.Info(fmt.Sprintf("Dismissed %d", n))
		}
		return err
	}, func() { a.notifs.Update(a.vm.Notifications()) })
}

func (a *App) renderState() {
	snap := a.vm.Snapshot()
	a.convList.Update(snap.Conversations)
	a.info.Update(ui.SessionData{
		Session:       a.opts.Session,
		Connection:    snap.Connection,
		Unread:        snap.UnreadTotal,
		Conversations: len(snap.Conversations),
		Provisional:   snap.Provisional,
		Banner:        snap.Banner,
	})
}

func (a *App) renderThread() {
	id := a.vm.Active()
	if id == "" {
		return
	}
	name := id
	if c, ok := a.vm.Conversation(id); ok && c.Name != "" {
		name = c.Name
	}
	a.thread.SetConversation(name)
	a.thread.Update(a.vm.Messages(), false)
}

func (a *App) renderFlash() {
	a.flashBar.Update(a.vm.Flash.Current())
}

// requestRefresh schedules a state reload; requests made while one is
// pending are merged.
func (a *App) requestRefresh() {
	select {
	case a.refreshCh <- struct{}{}:
	default:
	}
}

func (a *App) refreshLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.refreshCh:
		}
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		err := a.vm.LoadState(ctx)
		cancel()
		if err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Err(fmt.Errorf("refresh failed: %w", err))
		}
		a.app.QueueUpdateDraw(func() {
			a.renderState()
			if a.pages.Current() == pageThread {
				a.renderThread()
			}
			a.renderFlash()
		})
	}
}

func (a *App) flashLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.Flash.Watch():
		case <-ticker.C:
		}
		a.app.QueueUpdateDraw(a.renderFlash)
	}
}

// watchEvents follows the daemon's event stream, reconnecting with backoff
// when the daemon restarts.
func (a *App) watchEvents() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		err := a.daemon.Events(a.ctx, "", func(e client.Event) error {
			if e.Kind == "ready" {
				bo.Reset()
			}
			a.handleEvent(e)
			return nil
		})
		if a.ctx.Err() != nil {
			return backoff.Permanent(a.ctx.Err())
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		return err
	}
	onRetry := func(err error, d time.Duration) {
		a.vm.Flash.Warn(fmt.Sprintf("Lost daemon events (%v), retrying in %s", err, d.Round(time.Second)))
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(bo, a.ctx), onRetry)
}

func (a *App) handleEvent(e client.Event) {
	switch e.Kind {
	case bus.KindNotifyShown:
		var shown notify.Shown
		if json.Unmarshal(e.Payload, &shown) == nil && shown.Surface == notify.SurfaceToast {
			a.vm.Flash.Notice(shown.Record.Title()+": "+shown.Record.Snippet, a.opts.NoticeTTL)
		}
		a.reloadNotifications()
	case bus.KindNotifyCleared:
		a.reloadNotifications()
	case bus.KindMessageSendFailed:
		a.vm.Flash.Warn("Message not sent; press r in the thread to retry")
		a.requestRefresh()
	case bus.KindAuthRequired:
		var req delivery.AuthRequired
		_ = json.Unmarshal(e.Payload, &req)
		url := req.SignInURL
		if url == "" {
			url = a.opts.SignInURL
		}
		a.app.QueueUpdateDraw(func() {
			a.signIn.Show("The backend rejected this session: "+req.Reason, url)
			a.push(pageSignIn)
		})
	default:
		// ready, store and delivery changes all mean "state moved".
		a.requestRefresh()
	}
}

func (a *App) reloadNotifications() {
	a.app.QueueUpdateDraw(func() {
		if a.pages.Current() == pageNotifications {
			a.do("Notifications", a.vm.LoadNotifications, func() { a.notifs.Update(a.vm.Notifications()) })
		}
	})
}

// Run blocks until the user quits. On the way out the messaging surface is
// left so the daemon does not keep suppressing notifications.
func (a *App) Run() error {
	a.renderState()

	go a.refreshLoop()
	go a.flashLoop()
	go a.watchEvents()
	a.requestRefresh()

	err := a.app.Run()
	a.cancel()

	if a.vm.Active() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.vm.CloseConversation(ctx)
		cancel()
	}
	return err
}

func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
