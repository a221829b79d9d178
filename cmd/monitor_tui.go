// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mdbridge/pkg/bridge"
	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

// Bus log entry
type busLogEntry struct {
	timestamp time.Time
	source    string
	raw       string
	label     string
	isError   bool
}

// Messages
type busLineMsg struct {
	raw string
}
type busErrorMsg struct {
	err error
}

// Monitor model
type monitorModel struct {
	connInfo string
	showRaw  bool

	vmc   bridge.Vmc
	nayax bridge.Nayax

	linesRead    int
	vendRequests int
	vendSuccess  int
	lastVend     string

	log           []busLogEntry
	maxLogEntries int
	viewport      viewport.Model
	ready         bool

	width    int
	height   int
	quitting bool
	readErr  error
}

func newMonitorModel(connInfo string, showRaw bool) monitorModel {
	return monitorModel{
		connInfo:      connInfo,
		showRaw:       showRaw,
		maxLogEntries: 500,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.EnterAltScreen
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := m.height - 10
		if logHeight < 5 {
			logHeight = 5
		}
		if !m.ready {
			m.viewport = viewport.New(m.width-4, logHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 4
			m.viewport.Height = logHeight
		}
		m.refreshLog()

	case busErrorMsg:
		m.readErr = msg.err

	case busLineMsg:
		m.linesRead++
		m.observe(msg.raw)
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// observe applies one bus line to the trackers and the log.
func (m *monitorModel) observe(raw string) {
	entry := busLogEntry{timestamp: time.Now(), raw: raw, source: "?"}
	if parsed := qibixx.Parse(raw); parsed != nil {
		entry.source = parsed.Source.String()
	}

	classified := false
	if ev, ok := qibixx.ClassifyVmc(raw); ok {
		classified = true
		m.vmc.Observe(ev)
		switch ev.Type {
		case qibixx.VmcVendRequest:
			m.vendRequests++
			m.lastVend = fmt.Sprintf("%s for product %s", ev.Price, ev.Product)
			entry.label = "vend request"
		case qibixx.VmcVendSuccess:
			m.vendSuccess++
			entry.label = "vend success"
		case qibixx.VmcStartRejected:
			entry.label = "arm rejected"
			entry.isError = true
		}
	} else if ev, ok := qibixx.ClassifyNayax(raw); ok {
		classified = true
		m.nayax.Observe(ev)
		switch ev.Type {
		case qibixx.NayaxCredit:
			entry.label = "session open"
		case qibixx.NayaxResult:
			entry.label = fmt.Sprintf("result %d", ev.Result)
			entry.isError = ev.Result != 1
		case qibixx.NayaxErrorLine:
			entry.label = "reader error"
			entry.isError = true
		}
	}

	if !classified && !m.showRaw {
		return
	}

	m.log = append(m.log, entry)
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
	m.refreshLog()
}

func (m *monitorModel) refreshLog() {
	if !m.ready {
		return
	}
	stick := m.viewport.AtBottom()

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	var b strings.Builder
	for _, entry := range m.log {
		line := fmt.Sprintf("%s [%-5s] %s",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			entry.source, entry.raw)
		if entry.label != "" {
			if entry.isError {
				line += "  " + errorStyle.Render(entry.label)
			} else {
				line += "  " + labelStyle.Render(entry.label)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	if stick {
		m.viewport.GotoBottom()
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("MDBRIDGE - BUS MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Connection: %s | Press 'q' to quit", m.connInfo)))
	s.WriteString("\n\n")

	status := strings.Builder{}
	status.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("VMC:"), valueStyle.Render(m.vmc.State.String())))
	if m.vmc.HasCredit() {
		status.WriteString(headerStyle.Render(fmt.Sprintf(" (credit %s)", m.vmc.Credit)))
	}
	status.WriteString(fmt.Sprintf("   %s %s\n",
		labelStyle.Render("Nayax:"), valueStyle.Render(m.nayax.State.String())))
	status.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Lines:"), valueStyle.Render(fmt.Sprintf("%d", m.linesRead)),
		labelStyle.Render("Vend requests:"), valueStyle.Render(fmt.Sprintf("%d", m.vendRequests)),
		labelStyle.Render("Successes:"), valueStyle.Render(fmt.Sprintf("%d", m.vendSuccess)),
	))
	if m.lastVend != "" {
		status.WriteString(fmt.Sprintf("\n%s %s",
			labelStyle.Render("Last vend:"), valueStyle.Render(m.lastVend)))
	}
	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	if m.readErr != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Connection lost: %v", m.readErr)))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Bus Traffic:"))
	s.WriteString("\n")
	if m.ready {
		s.WriteString(boxStyle.Render(m.viewport.View()))
	} else {
		s.WriteString(headerStyle.Render("  (waiting for terminal size)"))
	}

	return s.String()
}
