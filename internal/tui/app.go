// Package tui is a terminal browser over the transactions and parse misses
// cached by previous runs.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"mailmint/internal/ledger"
	"mailmint/internal/model"
	"mailmint/internal/store"
)

type viewState int

const (
	viewLoading      viewState = iota
	viewMonths                 // month buckets
	viewTransactions           // rows of one month
	viewDetail                 // single transaction
	viewMisses                 // parse misses
	viewMissText               // readable body of one miss
	viewBody                   // dumped body of one transaction's message
)

// Source is the cache the browser reads. *store.SQLiteStore implements it.
type Source interface {
	LoadTransactions(ctx context.Context) ([]model.Transaction, error)
	LoadMisses(ctx context.Context) ([]model.ParseMiss, error)
	LastRun(ctx context.Context) (store.Run, bool, error)
	Body(ctx context.Context, messageID string) (string, error)
}

type AppModel struct {
	// Core state
	source Source
	Err    error
	status string

	// View state machine
	view        viewState
	months      []model.MonthlyBucket
	misses      []model.ParseMiss
	selectedTxn *model.Transaction
	selectedMis *model.ParseMiss

	// Sub-models
	monthsList list.Model
	txnsList   list.Model
	missesList list.Model
	detail     viewport.Model

	// Layout
	width, height int

	// open is swapped out in tests.
	open func(url string) error
}

func NewAppModel(source Source) AppModel {
	ml := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	ml.Title = "Months"
	// Remove esc from the list's built-in Quit binding so it doesn't exit on home
	ml.KeyMap.Quit.SetKeys("q")

	return AppModel{
		source:     source,
		status:     "Loading...",
		view:       viewLoading,
		monthsList: ml,
		txnsList:   list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0),
		missesList: list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0),
		detail:     viewport.New(0, 0),
		open:       OpenBrowser,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listH := msg.Height - 4 // room for footer
		m.monthsList.SetSize(msg.Width, listH)
		m.txnsList.SetSize(msg.Width, listH)
		m.missesList.SetSize(msg.Width, listH)
		m.detail.Width = msg.Width
		m.detail.Height = msg.Height - 4
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case dataLoadedMsg:
		if msg.err != nil {
			m.Err = msg.err
			m.status = "Load failed!"
			return m, tea.Quit
		}
		m.months = ledger.GroupByMonth(msg.txns)
		m.misses = msg.misses
		m.monthsList.SetItems(monthsToItems(m.months))
		m.monthsList.Title = monthsTitle(len(msg.txns), msg.lastRun)
		m.missesList.SetItems(missesToItems(m.misses))
		m.missesList.Title = fmt.Sprintf("Parse misses (%d)", len(m.misses))
		m.view = viewMonths
		m.status = ""
		return m, nil

	case bodyLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Failed to load body: %v", msg.err)
			return m, clearStatusAfter(2 * time.Second)
		}
		if msg.body == "" {
			m.status = "No body saved for this message (run with -debug)"
			return m, clearStatusAfter(2 * time.Second)
		}
		header := headerStyle.Render("Message " + msg.messageID)
		m.detail.SetContent(header + "\n" + missText(msg.body))
		m.detail.GotoTop()
		m.view = viewBody
		m.status = ""
		return m, nil

	case openResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Open failed: %v", msg.err)
		} else {
			m.status = "Opened in browser"
		}
		return m, clearStatusAfter(2 * time.Second)

	case statusMsg:
		if string(msg) == "" {
			m.status = ""
		}
		return m, nil
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewMonths:
		m.monthsList, cmd = m.monthsList.Update(msg)
	case viewTransactions:
		m.txnsList, cmd = m.txnsList.Update(msg)
	case viewMisses:
		m.missesList, cmd = m.missesList.Update(msg)
	case viewDetail, viewMissText, viewBody:
		m.detail, cmd = m.detail.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	}

	switch m.view {
	case viewMonths:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.monthsList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.monthsList, cmd = m.monthsList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "enter":
			return m.enterMonth()
		case "m":
			m.view = viewMisses
			return m, nil
		case "r":
			m.status = "Reloading..."
			return m, m.loadCmd()
		}
		var cmd tea.Cmd
		m.monthsList, cmd = m.monthsList.Update(msg)
		return m, cmd

	case viewTransactions:
		if m.txnsList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.txnsList, cmd = m.txnsList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewMonths
			return m, nil
		case "enter":
			return m.enterTransaction()
		case "o":
			if it, ok := m.txnsList.SelectedItem().(txnItem); ok {
				return m, m.openCmd(it.Link)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.txnsList, cmd = m.txnsList.Update(msg)
		return m, cmd

	case viewDetail:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewTransactions
			m.selectedTxn = nil
			return m, nil
		case "o":
			if m.selectedTxn != nil {
				return m, m.openCmd(m.selectedTxn.Link)
			}
			return m, nil
		case "b":
			if m.selectedTxn != nil {
				m.status = "Loading body..."
				return m, m.bodyCmd(m.selectedTxn.MessageID)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case viewBody:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			if m.selectedTxn != nil {
				m.detail.SetContent(detailContent(*m.selectedTxn))
				m.detail.GotoTop()
			}
			m.view = viewDetail
			return m, nil
		case "o":
			if m.selectedTxn != nil {
				return m, m.openCmd(m.selectedTxn.Link)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case viewMisses:
		if m.missesList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.missesList, cmd = m.missesList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewMonths
			return m, nil
		case "enter":
			return m.enterMiss()
		case "o":
			if it, ok := m.missesList.SelectedItem().(missItem); ok {
				return m, m.openCmd(it.Link)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.missesList, cmd = m.missesList.Update(msg)
		return m, cmd

	case viewMissText:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewMisses
			m.selectedMis = nil
			return m, nil
		case "o":
			if m.selectedMis != nil {
				return m, m.openCmd(m.selectedMis.Link)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *AppModel) enterMonth() (tea.Model, tea.Cmd) {
	it, ok := m.monthsList.SelectedItem().(monthItem)
	if !ok {
		return m, nil
	}
	m.txnsList.SetItems(transactionsToItems(it.Rows))
	m.txnsList.ResetSelected()
	m.txnsList.Title = fmt.Sprintf("%s (%d transactions)", it.Month, len(it.Rows))
	m.view = viewTransactions
	return m, nil
}

func (m *AppModel) enterTransaction() (tea.Model, tea.Cmd) {
	it, ok := m.txnsList.SelectedItem().(txnItem)
	if !ok {
		return m, nil
	}
	t := it.Transaction
	m.selectedTxn = &t
	m.detail.SetContent(detailContent(t))
	m.detail.GotoTop()
	m.view = viewDetail
	return m, nil
}

func (m *AppModel) enterMiss() (tea.Model, tea.Cmd) {
	it, ok := m.missesList.SelectedItem().(missItem)
	if !ok {
		return m, nil
	}
	miss := it.ParseMiss
	m.selectedMis = &miss
	header := headerStyle.Render(fmt.Sprintf("%s  %s", miss.Issuer, miss.MessageID))
	m.detail.SetContent(header + "\n" + missText(miss.Body))
	m.detail.GotoTop()
	m.view = viewMissText
	return m, nil
}

// Commands

func (m *AppModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		txns, err := m.source.LoadTransactions(ctx)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		misses, err := m.source.LoadMisses(ctx)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		msg := dataLoadedMsg{txns: txns, misses: misses}
		if run, ok, err := m.source.LastRun(ctx); err == nil && ok {
			msg.lastRun = &run
		}
		return msg
	}
}

func (m *AppModel) bodyCmd(messageID string) tea.Cmd {
	return func() tea.Msg {
		body, err := m.source.Body(context.Background(), messageID)
		return bodyLoadedMsg{messageID: messageID, body: body, err: err}
	}
}

func (m *AppModel) openCmd(url string) tea.Cmd {
	if url == "" {
		m.status = "No link for this message"
		return clearStatusAfter(2 * time.Second)
	}
	open := m.open
	return func() tea.Msg {
		return openResultMsg{err: open(url)}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

func monthsTitle(count int, run *store.Run) string {
	title := fmt.Sprintf("Months (%d transactions)", count)
	if run != nil && !run.FinishedAt.IsZero() {
		title += " · last run " + run.FinishedAt.Format("Jan 2 15:04")
	}
	return title
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	if m.Err != nil {
		return "Error: " + m.Err.Error() + "\n"
	}

	if m.view == viewLoading {
		if m.status != "" {
			return m.status + "\n"
		}
		return "Loading...\n"
	}

	var b strings.Builder

	switch m.view {
	case viewMonths:
		b.WriteString(m.monthsList.View())
		b.WriteString("\n")
		b.WriteString(monthsFooter())
	case viewTransactions:
		b.WriteString(m.txnsList.View())
		b.WriteString("\n")
		b.WriteString(transactionsFooter())
	case viewDetail:
		b.WriteString(m.detail.View())
		b.WriteString("\n")
		b.WriteString(detailFooter())
	case viewMisses:
		b.WriteString(m.missesList.View())
		b.WriteString("\n")
		b.WriteString(missesFooter())
	case viewMissText, viewBody:
		b.WriteString(m.detail.View())
		b.WriteString("\n")
		b.WriteString(textFooter())
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}

	return b.String()
}
