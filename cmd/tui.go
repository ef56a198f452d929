// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for informational entries
}

// Latest message seen on the bus
type lastMessage struct {
	timestamp time.Time
	text      string
	valid     bool
}

// TUI model
type model struct {
	connInfo      string
	rate          uint64
	statsInterval int
	showAll       bool
	displayBase   cec.DisplayBase
	stats         *cec.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	log           viewport.Model
	synchronized  bool
	skippedErrors int
	linkErrors    int
	probeSamples  uint64
	last          *lastMessage
	width         int
	height        int
	quitting      bool
	done          bool
	doneErr       error
}

// Messages
type tickMsg time.Time
type cecMessageMsg struct {
	message          *cec.Message
	validationErrors []cec.ValidationError
}
type syncMsg struct {
	skippedErrors int
}
type statusMsg struct {
	samples uint64
}
type linkErrorMsg struct {
	err error
}
type sessionDoneMsg struct {
	err error
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Rows taken by everything above the event log
const tuiReservedRows = 16

func initialModel(connInfo string, rate uint64, statsInterval int, showAll bool) model {
	m := model{
		connInfo:      connInfo,
		rate:          rate,
		statsInterval: statsInterval,
		showAll:       showAll,
		displayBase:   base(),
		stats:         cec.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 200,
		width:         80,
		height:        24,
	}
	m.log = viewport.New(m.width-6, m.height-tuiReservedRows)
	m.refreshLog()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = max(msg.Width-6, 20)
		m.log.Height = max(msg.Height-tuiReservedRows, 5)
		m.refreshLog()

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skippedErrors = msg.skippedErrors
		if msg.skippedErrors > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d link errors", msg.skippedErrors), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case statusMsg:
		m.probeSamples = msg.samples

	case linkErrorMsg:
		m.linkErrors++
		m.addLogEntry(fmt.Sprintf("LINK ERROR: %v", msg.err), true)

	case cecMessageMsg:
		m.stats.Update(msg.message, msg.validationErrors)
		text := cec.FormatMessage(msg.message, m.displayBase)
		m.last = &lastMessage{
			timestamp: time.Now(),
			text:      text,
			valid:     len(msg.validationErrors) == 0,
		}

		if len(msg.validationErrors) > 0 {
			for _, err := range msg.validationErrors {
				m.addLogEntry(fmt.Sprintf("%s: %s", text, err.Message), true)
			}
		} else if m.showAll {
			m.addLogEntry(text, false)
		}

	case sessionDoneMsg:
		m.done = true
		m.doneErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Capture ended: %v", msg.err), true)
		} else {
			m.addLogEntry("Capture ended, press 'q' to quit", false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

// refreshLog re-renders the event log into the viewport, following the tail
// unless the user has scrolled up
func (m *model) refreshLog() {
	follow := m.log.AtBottom() || m.log.TotalLineCount() == 0

	var content strings.Builder
	if len(m.eventLog) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i, entry := range m.eventLog {
		if i > 0 {
			content.WriteString("\n")
		}
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			content.WriteString(fmt.Sprintf("%s %s", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			content.WriteString(fmt.Sprintf("%s %s", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}

	m.log.SetContent(content.String())
	if follow {
		m.log.GotoBottom()
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CECSTAT - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All messages"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Mode: %s | Press 'q' to quit",
		m.connInfo, probelink.FormatSampleRate(m.rate), mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.done:
		s.WriteString(warningStyle.Render("■ Capture ended"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skippedErrors > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d link errors)", m.skippedErrors)))
		}
	}
	if m.probeSamples > 0 && m.rate > 0 {
		s.WriteString(headerStyle.Render(fmt.Sprintf("   probe time: %s",
			probelink.FormatUptime(m.probeSamples*1000/m.rate))))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.statsView()))
	s.WriteString("\n\n")

	if m.last != nil {
		style := statsValueStyle
		if !m.last.valid {
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n\n",
			statsLabelStyle.Render("Last Message:"),
			headerStyle.Render(m.last.timestamp.Format("15:04:05.000")),
			style.Render(m.last.text),
		))
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.log.View()))

	return s.String()
}

// statsView renders the statistics box contents
func (m model) statsView() string {
	st := m.stats
	totalErrors := st.DecodeErrors + st.ProtocolErrors

	var validPercent, errorPercent float64
	if st.TotalMessages > 0 {
		validPercent = float64(st.ValidMessages) * 100.0 / float64(st.TotalMessages)
		errorPercent = float64(st.TotalMessages-st.ValidMessages) * 100.0 / float64(st.TotalMessages)
	}

	var c strings.Builder
	c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalMessages)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidMessages, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))
	c.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Pings:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Pings)),
		statsLabelStyle.Render("Broadcasts:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Broadcasts)),
	))

	if st.DecodeErrors > 0 {
		c.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
			headerStyle.Render("timing"), st.OutOfTolerance,
			headerStyle.Render("truncated"), st.Truncated,
			headerStyle.Render("overlong"), st.Overlong,
		))
	}
	if st.ProtocolErrors > 0 {
		c.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Protocol:"), warningStyle.Render(fmt.Sprintf("%d", st.ProtocolErrors)),
			headerStyle.Render("nack"), st.NotAcknowledged,
			headerStyle.Render("no EOM"), st.MissingEOM,
			headerStyle.Render("unknown opcode"), st.UnknownOpCodes,
			headerStyle.Render("length"), st.LengthErrors,
		))
	}
	if m.linkErrors > 0 {
		c.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Link Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.linkErrors)),
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	c.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Message Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", st.MessageRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))
	return c.String()
}
