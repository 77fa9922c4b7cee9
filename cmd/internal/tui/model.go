// Package tui is the terminal client: login, the debate list and a live debate room.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/room"
	"podium/cmd/internal/session"
	v1 "podium/shared/contracts/debate/v1"
)

const (
	requestTimeout = 10 * time.Second
	refreshEvery   = 250 * time.Millisecond
)

// API is what the client needs from the backend.
type API interface {
	backend.Collaborator
	Login(ctx context.Context, username, pw string, role v1.Role) (v1.LoginResponse, error)
	ListDebates(ctx context.Context) ([]v1.Debate, error)
}

// Deps wires the client. Connect returns an API authenticated with token ("" before login).
type Deps struct {
	Connect     func(token string) API
	Sessions    *session.Store
	Dial        room.Dialer
	Log         *slog.Logger
	RoomOptions []room.Option
}

type screen int

const (
	screenLogin screen = iota
	screenList
	screenRoom
)

type (
	loginDoneMsg struct {
		id  session.Identity
		err error
	}
	debatesMsg struct {
		debates []v1.Debate
		err     error
	}
	roomOpenedMsg struct {
		r   *room.Room
		err error
	}
	roomEventMsg struct {
		r *room.Room
		e room.Event
	}
	roomClosedMsg struct{}
	roomViewMsg   struct {
		v   room.View
		err error
	}
	submitDoneMsg struct {
		m   v1.Message
		err error
	}
	refreshMsg time.Time
)

type model struct {
	deps Deps
	api  API
	me   session.Identity

	screen  screen
	width   int
	height  int
	busy    bool
	status  string
	lastErr error

	// login
	username textinput.Model
	password textinput.Model
	role     v1.Role

	// list
	debates []v1.Debate
	cursor  int

	// room
	room     *room.Room
	view     room.View
	timeline viewport.Model
	composer textinput.Model

	spinner spinner.Model
	theme   theme
}

func newModel(deps Deps) model {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	user := textinput.New()
	user.Prompt = "username › "
	user.CharLimit = 64
	user.Focus()

	pw := textinput.New()
	pw.Prompt = "password › "
	pw.CharLimit = 128
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '•'

	composer := textinput.New()
	composer.Prompt = "❯ "
	composer.CharLimit = v1.MaxMessageChars
	composer.Placeholder = "Make your argument"

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	m := model{
		deps:     deps,
		api:      deps.Connect(""),
		screen:   screenLogin,
		username: user,
		password: pw,
		role:     v1.RoleDebater,
		timeline: timeline,
		composer: composer,
		spinner:  sp,
		theme:    newTheme(),
		status:   "log in to continue",
	}

	if deps.Sessions != nil {
		id, err := deps.Sessions.Load()
		switch {
		case err == nil:
			m.me = id
			m.api = deps.Connect(id.Token)
			m.screen = screenList
			m.status = "welcome back, " + id.Username
		case !errors.Is(err, session.ErrNoSession):
			deps.Log.Warn("tui.session.load.fail", "err", err)
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, textinput.Blink, refreshTick()}
	if m.screen == screenList {
		cmds = append(cmds, m.listCmd())
	}
	return tea.Batch(cmds...)
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// ---- commands ----

func (m model) loginCmd(username, pw string, role v1.Role) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := api.Login(ctx, username, pw, role)
		if err != nil {
			return loginDoneMsg{err: err}
		}
		return loginDoneMsg{id: session.Identity{
			UserID:   res.User.ID,
			Username: res.User.Username,
			Role:     res.User.Role,
			Token:    res.Token,
		}}
	}
}

func (m model) listCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ds, err := api.ListDebates(ctx)
		return debatesMsg{debates: ds, err: err}
	}
}

func (m model) openCmd(debateID string) tea.Cmd {
	api, me, deps := m.api, m.me, m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		r, err := room.Open(ctx, debateID, me, api, deps.Dial, deps.Log, deps.RoomOptions...)
		return roomOpenedMsg{r: r, err: err}
	}
}

func waitEvent(r *room.Room) tea.Cmd {
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-r.Events()
		if !ok {
			return roomClosedMsg{}
		}
		return roomEventMsg{r: r, e: e}
	}
}

func viewCmd(r *room.Room) tea.Cmd {
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		v, err := r.View(ctx)
		return roomViewMsg{v: v, err: err}
	}
}

func submitCmd(r *room.Room, body string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msg, err := r.Submit(ctx, body)
		return submitDoneMsg{m: msg, err: err}
	}
}

// ---- update ----

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.renderTimeline()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		cmds := []tea.Cmd{refreshTick()}
		if m.screen == screenRoom {
			cmds = append(cmds, viewCmd(m.room))
		}
		return m, tea.Batch(cmds...)

	case loginDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.fail("login failed", msg.err)
			return m, nil
		}
		m.me = msg.id
		m.api = m.deps.Connect(msg.id.Token)
		if m.deps.Sessions != nil {
			if err := m.deps.Sessions.Save(msg.id); err != nil {
				m.deps.Log.Warn("tui.session.save.fail", "err", err)
			}
		}
		m.password.Reset()
		m.screen = screenList
		m.ok("logged in as " + msg.id.Username)
		m.busy = true
		return m, m.listCmd()

	case debatesMsg:
		m.busy = false
		if msg.err != nil {
			m.fail("could not load debates", msg.err)
			return m, nil
		}
		m.debates = msg.debates
		if m.cursor >= len(m.debates) {
			m.cursor = max(0, len(m.debates)-1)
		}
		m.ok(fmt.Sprintf("%d debates", len(m.debates)))
		return m, nil

	case roomOpenedMsg:
		m.busy = false
		if msg.err != nil {
			if errors.Is(msg.err, room.ErrRoomNotFound) {
				m.fail("debate not found", msg.err)
			} else {
				m.fail("could not open debate", msg.err)
			}
			return m, nil
		}
		m.room = msg.r
		m.view = room.View{}
		m.screen = screenRoom
		m.composer.Reset()
		m.ok("joined " + msg.r.ID())
		return m, tea.Batch(m.composer.Focus(), waitEvent(m.room), viewCmd(m.room))

	case roomEventMsg:
		if msg.r != m.room {
			return m, nil
		}
		if msg.e.Type == room.EvtError && msg.e.Err != nil {
			m.fail("room", msg.e.Err)
		}
		return m, tea.Batch(waitEvent(m.room), viewCmd(m.room))

	case roomClosedMsg:
		return m, nil

	case roomViewMsg:
		if msg.err != nil || m.screen != screenRoom {
			return m, nil
		}
		follow := m.timeline.AtBottom() || len(msg.v.Messages) != len(m.view.Messages)
		m.view = msg.v
		m.renderTimeline()
		if follow {
			m.timeline.GotoBottom()
		}
		return m, nil

	case submitDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.fail("not sent", msg.err)
			return m, nil
		}
		m.composer.Reset()
		m.ok("sent")
		return m, viewCmd(m.room)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.closeRoom()
			return m, tea.Quit
		}
		switch m.screen {
		case screenLogin:
			return m.updateLogin(msg)
		case screenList:
			return m.updateList(msg)
		case screenRoom:
			return m.updateRoom(msg)
		}
	}

	if m.screen == screenRoom {
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "tab", "shift+tab", "up", "down":
		if m.username.Focused() {
			m.username.Blur()
			return m, m.password.Focus()
		}
		m.password.Blur()
		return m, m.username.Focus()
	case "ctrl+r":
		if m.role == v1.RoleDebater {
			m.role = v1.RoleAudience
		} else {
			m.role = v1.RoleDebater
		}
		return m, nil
	case "enter":
		if m.busy {
			return m, nil
		}
		user, pw := strings.TrimSpace(m.username.Value()), m.password.Value()
		if user == "" || pw == "" {
			m.fail("username and password are required", nil)
			return m, nil
		}
		m.busy = true
		m.status = "logging in…"
		return m, m.loginCmd(user, pw, m.role)
	}

	var cmd tea.Cmd
	if m.username.Focused() {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.debates)-1 {
			m.cursor++
		}
	case "r":
		m.busy = true
		return m, m.listCmd()
	case "L":
		if m.deps.Sessions != nil {
			if err := m.deps.Sessions.Clear(); err != nil {
				m.deps.Log.Warn("tui.session.clear.fail", "err", err)
			}
		}
		m.me = session.Identity{}
		m.api = m.deps.Connect("")
		m.debates = nil
		m.screen = screenLogin
		m.ok("logged out")
		return m, m.username.Focus()
	case "enter":
		if m.busy || len(m.debates) == 0 {
			return m, nil
		}
		m.busy = true
		m.status = "opening " + m.debates[m.cursor].ID + "…"
		return m, m.openCmd(m.debates[m.cursor].ID)
	}
	return m, nil
}

func (m model) updateRoom(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeRoom()
		m.screen = screenList
		m.busy = true
		return m, m.listCmd()
	case "enter":
		if m.busy || m.room == nil {
			return m, nil
		}
		body := strings.TrimSpace(m.composer.Value())
		if body == "" {
			return m, nil
		}
		m.busy = true
		return m, submitCmd(m.room, body)
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m *model) closeRoom() {
	if m.room == nil {
		return
	}
	m.room.Close()
	m.room = nil
	m.view = room.View{}
}

func (m *model) fail(what string, err error) {
	m.lastErr = err
	if err == nil {
		m.status = what
		return
	}
	m.status = what + ": " + describe(err)
}

func (m *model) ok(status string) {
	m.lastErr = nil
	m.status = status
}

func (m *model) resize() {
	w := max(20, m.width-4)
	h := max(3, m.height-10)
	m.timeline.Width = w
	m.timeline.Height = h
	m.composer.Width = max(10, w-4)
}
