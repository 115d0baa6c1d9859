package main

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nao1215/eventhub/pkg/client"
	"github.com/nao1215/eventhub/pkg/notifysync"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0a0a10")).
			Background(lipgloss.Color("#d4a844")).
			Bold(true)

	unreadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c0c4d0"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34d474"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e05a5a"))

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	helpLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))
)

// keyMap は監視画面の操作キー。
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Open    key.Binding
	Read    key.Binding
	ReadAll key.Binding
	Archive key.Binding
	More    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "上へ"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "下へ"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "再取得"),
		),
		Read: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "既読"),
		),
		ReadAll: key.NewBinding(
			key.WithKeys("A"),
			key.WithHelp("A", "全件既読"),
		),
		Archive: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "アーカイブ"),
		),
		More: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "次ページ"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "終了"),
		),
	}
}

// syncMsg は同期エンジンの状態変化の通知。
type syncMsg struct {
	state notifysync.State
}

// clockTickMsg は相対時刻を描き直すためのタイマー。
type clockTickMsg time.Time

func clockTickCmd() tea.Cmd {
	return tea.Tick(time.Minute, func(t time.Time) tea.Msg {
		return clockTickMsg(t)
	})
}

// watchModel は通知監視画面。表示内容はすべて同期エンジンの
// スナップショットから描画する。
type watchModel struct {
	engine  *notifysync.Engine
	notify  chan struct{}
	state   notifysync.State
	cursor  int
	spinner spinner.Model
	keys    keyMap
	now     time.Time
	width   int
	height  int
}

func newWatchModel(api *client.Client) watchModel {
	// onChangeは描画側を起こす合図だけを送る。最新の状態はState()で読む
	notify := make(chan struct{}, 1)
	engine := notifysync.New(api, func(notifysync.State) {
		select {
		case notify <- struct{}{}:
		default:
		}
	}, notifysync.Options{})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	return watchModel{
		engine:  engine,
		notify:  notify,
		spinner: sp,
		keys:    defaultKeyMap(),
		now:     time.Now(),
	}
}

// waitForSync は次の状態変化を待つコマンド。受け取るたびに再発行する。
func (m watchModel) waitForSync() tea.Cmd {
	notify := m.notify
	engine := m.engine
	return func() tea.Msg {
		<-notify
		return syncMsg{state: engine.State()}
	}
}

func (m watchModel) Init() tea.Cmd {
	m.engine.Start(context.Background())
	m.engine.OpenList(context.Background())
	return tea.Batch(m.waitForSync(), m.spinner.Tick, clockTickCmd())
}

func (m watchModel) loadingAny() bool {
	return m.state.ListLoading || m.state.MoreLoading || m.state.CountRefreshing
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case syncMsg:
		m.state = msg.state
		if len(m.state.Items) == 0 {
			m.cursor = 0
		} else if m.cursor >= len(m.state.Items) {
			m.cursor = len(m.state.Items) - 1
		}
		if m.loadingAny() {
			return m, tea.Batch(m.waitForSync(), m.spinner.Tick)
		}
		return m, m.waitForSync()

	case clockTickMsg:
		m.now = time.Time(msg)
		return m, clockTickCmd()

	case spinner.TickMsg:
		if m.loadingAny() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.engine.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.state.Items)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Open):
		m.engine.OpenList(ctx)
		m.engine.RefreshCount(ctx)

	case key.Matches(msg, m.keys.Read):
		if item, ok := m.selected(); ok {
			m.engine.MarkRead(ctx, item.ID)
		}

	case key.Matches(msg, m.keys.ReadAll):
		m.engine.MarkAllRead(ctx)

	case key.Matches(msg, m.keys.Archive):
		if item, ok := m.selected(); ok {
			m.engine.Archive(ctx, item.ID)
		}

	case key.Matches(msg, m.keys.More):
		m.engine.LoadMore(ctx)
	}
	return m, nil
}

func (m watchModel) selected() (client.Notification, bool) {
	if len(m.state.Items) == 0 || m.cursor >= len(m.state.Items) {
		return client.Notification{}, false
	}
	return m.state.Items[m.cursor], true
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")

	s := m.state
	switch {
	case !s.Loaded && s.ListLoading:
		b.WriteString(" " + m.spinner.View() + dimStyle.Render("通知を読み込んでいます...") + "\n")
	case !s.Loaded:
		b.WriteString(" " + dimStyle.Render("enterで通知を読み込みます") + "\n")
	case len(s.Items) == 0:
		b.WriteString(" " + dimStyle.Render("通知はありません") + "\n")
	default:
		for i, item := range s.Items {
			b.WriteString(m.viewItem(i, item))
		}
		switch {
		case s.MoreLoading:
			b.WriteString(" " + m.spinner.View() + dimStyle.Render("次のページを読み込んでいます...") + "\n")
		case s.Pagination.HasMore:
			remain := s.Pagination.TotalCount - len(s.Items)
			b.WriteString(" " + dimStyle.Render(fmt.Sprintf("残り%d件 (mで読み込む)", remain)) + "\n")
		}
	}

	if s.LastError != nil {
		b.WriteString("\n " + errorStyle.Render("エラー: "+s.LastError.Error()))
		if client.IsTransient(s.LastError) {
			b.WriteString(" " + dimStyle.Render("(enterで再試行)"))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + m.viewHelp() + "\n")
	return b.String()
}

func (m watchModel) viewHeader() string {
	header := " " + titleStyle.Render("eventhub 通知")
	if m.state.UnreadCount > 0 {
		header += " " + badgeStyle.Render(fmt.Sprintf(" 未読 %d ", m.state.UnreadCount))
	} else {
		header += " " + dimStyle.Render("未読なし")
	}
	if m.state.CountRefreshing {
		header += " " + m.spinner.View()
	}
	return header
}

func (m watchModel) viewItem(i int, item client.Notification) string {
	cursor := " "
	if i == m.cursor {
		cursor = accentStyle.Render("▸")
	}

	marker := unreadStyle.Render("●")
	switch item.Status {
	case client.StatusRead:
		marker = dimStyle.Render("○")
	case client.StatusArchived:
		marker = metaStyle.Render("-")
	}

	title := normalStyle.Render(item.Title)
	if item.Status == client.StatusUnread {
		title = selectedStyle.Render(item.Title)
	}

	age := metaStyle.Render(relativeTime(item.CreatedAt, m.now))

	row := fmt.Sprintf(" %s %s %s  %s\n", cursor, marker, title, age)
	if i == m.cursor && item.Message != "" {
		row += "     " + dimStyle.Render(truncate(item.Message, 80)) + "\n"
	}
	return row
}

func (m watchModel) viewHelp() string {
	entries := []string{
		helpEntry("j/k", "移動"),
		helpEntry("enter", "再取得"),
		helpEntry("r", "既読"),
		helpEntry("A", "全件既読"),
		helpEntry("x", "アーカイブ"),
		helpEntry("m", "次ページ"),
		helpEntry("q", "終了"),
	}
	return " " + strings.Join(entries, "  ")
}

// helpEntry はヘルプ行の「キー 説明」の組を描画する。
func helpEntry(key, label string) string {
	return helpKeyStyle.Render(key) + " " + helpLabelStyle.Render(label)
}

// relativeTime は作成時刻を「3分前」の形式で表す。
func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "たった今"
	case d < time.Hour:
		return fmt.Sprintf("%d分前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d時間前", int(d.Hours()))
	default:
		return fmt.Sprintf("%d日前", int(d.Hours()/24))
	}
}

// truncate は文字列をmax文字に切り詰め、必要なら省略記号を付ける。
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
