package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-strings/boundary"
	"github.com/wippyai/wasm-strings/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	cfg      config
	rt       *runtime.Runtime
	instance *runtime.Instance
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	owned    []boundary.String
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	name       string
	doc        string
	resultType string
	params     []paramInfo
}

type paramInfo struct {
	name    string
	typeStr string
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(cfg config) *interactiveModel {
	return &interactiveModel{
		cfg:   cfg,
		state: stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	rt    *runtime.Runtime
	inst  *runtime.Instance
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
	owned  *boundary.String
	freed  bool
}

func stringParams(names ...string) []paramInfo {
	out := make([]paramInfo, len(names))
	for i, n := range names {
		out[i] = paramInfo{name: n, typeStr: witTypeStr(wit.String{})}
	}
	return out
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	ctx := context.Background()

	if _, err := setupLogging(m.cfg); err != nil {
		return loadedMsg{err: err}
	}
	rt, err := runtime.NewWithConfig(ctx, m.cfg.runtimeConfig())
	if err != nil {
		return loadedMsg{err: err}
	}
	inst, err := instantiate(ctx, rt, m.cfg)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	str := witTypeStr(wit.String{})
	funcs := []funcInfo{
		{name: "concat", doc: "guest export", params: stringParams("left", "right"), resultType: str},
	}
	if inst.HasHostImport() {
		funcs = append(funcs, funcInfo{name: "host-concat", doc: "host import", params: stringParams("left", "right"), resultType: str})
	}
	funcs = append(funcs,
		funcInfo{name: "dup", doc: "copy into guest memory", params: stringParams("s"), resultType: str},
		funcInfo{name: "set", doc: "adopt a nul-terminated buffer", params: stringParams("s"), resultType: str},
		funcInfo{name: "free", doc: "release the most recent owned string"},
	)
	return loadedMsg{funcs: funcs, rt: rt, inst: inst}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break
			}
			ctx := context.Background()
			if m.instance != nil {
				m.instance.Close(ctx)
			}
			if m.rt != nil {
				m.rt.Close(ctx)
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.rt = msg.rt
		m.instance = msg.inst

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		if msg.owned != nil {
			m.owned = append(m.owned, *msg.owned)
		}
		if msg.freed && len(m.owned) > 0 {
			m.owned = m.owned[:len(m.owned)-1]
		}
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	if m.instance == nil {
		return callResultMsg{err: fmt.Errorf("guest not loaded")}
	}

	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}
	tr := m.instance.Transfer(ctx)

	switch f := m.funcs[m.selected]; f.name {
	case "concat":
		s, err := m.instance.Concat(ctx, args[0], args[1])
		return callResultMsg{result: fmt.Sprintf("%q", s), err: err}

	case "host-concat":
		s, err := m.instance.HostConcat(ctx, args[0], args[1])
		return callResultMsg{result: fmt.Sprintf("%q", s), err: err}

	case "dup", "set":
		raw, err := m.instance.WriteCString(ctx, args[0])
		if err != nil {
			return callResultMsg{err: err}
		}
		var s boundary.String
		if f.name == "dup" {
			s, err = tr.Dup(raw)
			if src, serr := tr.Set(raw); serr == nil {
				_ = tr.Free(&src)
			}
		} else {
			s, err = tr.Set(raw)
		}
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: describe(tr, s), owned: &s}

	case "free":
		if len(m.owned) == 0 {
			return callResultMsg{result: "nothing to release"}
		}
		s := m.owned[len(m.owned)-1]
		if err := tr.Free(&s); err != nil {
			return callResultMsg{err: err, freed: true}
		}
		return callResultMsg{result: fmt.Sprintf("released, %d owned", tr.Owned()), freed: true}
	}
	return callResultMsg{err: fmt.Errorf("unknown operation")}
}

func describe(tr *boundary.Transfer, s boundary.String) string {
	text, err := tr.Text(s)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%q (ptr=0x%x, len=%d), %d owned", text, s.Ptr, s.Len, tr.Owned())
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.funcs) == 0 {
		return "Loading guest..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("String Boundary"))
	b.WriteString(" ")
	b.WriteString(guestName(m.cfg))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select an operation:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatFunc(f)))
			} else {
				b.WriteString(cursor + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d owned • ↑/↓ select • enter call • q quit", len(m.owned))))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, p.name+": "+typeStyle.Render(p.typeStr))
	}
	result := ""
	if f.resultType != "" {
		result = " -> " + typeStyle.Render(f.resultType)
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result + helpStyle.Render("  "+f.doc)
}

func runInteractive(cfg config) error {
	p := tea.NewProgram(newInteractiveModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
