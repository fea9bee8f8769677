package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

var headingPattern = regexp.MustCompile(`(?is)<h[12][^>]*>(.*?)</h[12]>`)

// terminalView prints controller output as a stream of styled blocks.
type terminalView struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	now    func() time.Time
}

func newTerminalView(w io.Writer, format string) *terminalView {
	return &terminalView{w: w, format: format, now: time.Now}
}

func (v *terminalView) println(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, s)
}

func (v *terminalView) ShowLoading(page string) {
	v.println(dimStyle.Render("loading " + page + "..."))
}

func (v *terminalView) ShowPage(page, fragment string) {
	title := page
	if m := headingPattern.FindStringSubmatch(fragment); m != nil {
		title = html.UnescapeString(m[1])
	}
	v.println(titleStyle.Render("chathub · " + title))
}

func (v *terminalView) ShowData(page string, data json.RawMessage) {
	body, err := formatData(data, v.format)
	if err != nil {
		v.println(errorStyle.Render(fmt.Sprintf("%s: cannot render data: %v", page, err)))
		return
	}
	v.println(dimStyle.Render(v.now().Format("15:04:05")+" "+page) + "\n" + body)
}

func (v *terminalView) ShowError(page string, err error) {
	v.println(errorStyle.Render(fmt.Sprintf("failed to load %s: %v (retrying)", page, err)))
}

func (v *terminalView) ShowConnection(connected bool) {
	if connected {
		v.println(liveStyle.Render("● live"))
		return
	}
	v.println(offlineStyle.Render("○ disconnected, reconnecting"))
}

func formatData(data json.RawMessage, format string) (string, error) {
	if format == "yaml" {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(bytes.TrimRight(out, "\n")), nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
