package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/lifecycle"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validOutputs() []string {
	return []string{outputTable, outputJSON, outputYAML}
}

var (
	primaryColor = lipgloss.Color("#A78BFA")
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	blueColor    = lipgloss.Color("#60A5FA")
	mutedColor   = lipgloss.Color("#9CA3AF")
	borderColor  = lipgloss.Color("#6B7280")

	keyStyle    = lipgloss.NewStyle().Foreground(mutedColor).Width(keyWidth)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	plainCell   = lipgloss.NewStyle().PaddingRight(2)
	secretStyle = lipgloss.NewStyle().Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(amberColor)
)

const keyWidth = 15

func statusColor(s backend.Status) lipgloss.Color {
	switch s {
	case backend.StatusRunning:
		return greenColor
	case backend.StatusRestarting, backend.StatusProvisioning:
		return blueColor
	case backend.StatusStopped:
		return amberColor
	case backend.StatusDestroyed:
		return redColor
	default:
		return mutedColor
	}
}

// printer renders command results in the format chosen with --output.
// Tables are styled only when writing to a terminal.
type printer struct {
	w      io.Writer
	format string
	styled bool
}

func newPrinter(cmd *cobra.Command, format string) (*printer, error) {
	if !slices.Contains(validOutputs(), format) {
		return nil, fmt.Errorf("%w: output must be one of: %s (got %q)",
			errors.ErrInvalidInput, strings.Join(validOutputs(), ", "), format)
	}
	w := cmd.OutOrStdout()
	return &printer{w: w, format: format, styled: isTerminal(w)}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) structured() bool {
	return p.format != outputTable
}

func (p *printer) encode(v any) error {
	switch p.format {
	case outputJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s is not a structured format", errors.ErrInvalidInput, p.format)
	}
}

// sessionView is the serialized form of a session.
type sessionView struct {
	lifecycle.SessionInfo `yaml:",inline"`
	Warning               string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func viewOf(info *lifecycle.SessionInfo, secrets bool) sessionView {
	v := *info
	if !secrets {
		v = v.Redacted()
	}
	return sessionView{SessionInfo: v, Warning: info.WarningText()}
}

// session prints one session. Passwords are included only when secrets is set.
func (p *printer) session(info *lifecycle.SessionInfo, secrets bool) error {
	v := viewOf(info, secrets)
	if p.structured() {
		return p.encode(v)
	}

	rows := [][2]string{
		{"ID", v.ID},
		{"Backend", string(v.Kind)},
		{"Owner", v.Owner},
		{"Status", p.status(v.Status)},
	}
	if v.SSHCommand != "" {
		rows = append(rows, [2]string{"SSH", v.SSHCommand})
	}
	if v.HostPort > 0 {
		rows = append(rows, [2]string{"Host port", strconv.Itoa(v.HostPort)})
	}
	rows = append(rows, [2]string{"Spec", formatSpec(v.Spec)})
	if v.Credentials.Username != "" {
		rows = append(rows, [2]string{"Username", v.Credentials.Username})
	}
	if v.Credentials.Password != "" {
		rows = append(rows, [2]string{"Password", p.secret(v.Credentials.Password)})
	}
	if v.Credentials.RootPassword != "" {
		rows = append(rows, [2]string{"Root password", p.secret(v.Credentials.RootPassword)})
	}
	rows = append(rows, [2]string{"Created", formatTime(v.CreatedAt)})
	if v.Warning != "" {
		rows = append(rows, [2]string{"Warning", p.warning(v.Warning)})
	}

	for _, row := range rows {
		if p.styled {
			fmt.Fprintln(p.w, keyStyle.Render(row[0])+row[1])
		} else {
			fmt.Fprintf(p.w, "%-*s%s\n", keyWidth, row[0]+":", row[1])
		}
	}
	return nil
}

// sessions prints a list of sessions without credentials.
func (p *printer) sessions(infos []*lifecycle.SessionInfo) error {
	if p.structured() {
		views := make([]sessionView, len(infos))
		for i, info := range infos {
			views[i] = viewOf(info, false)
		}
		return p.encode(views)
	}

	if len(infos) == 0 {
		fmt.Fprintln(p.w, "No sessions")
		return nil
	}

	rows := make([][]string, len(infos))
	for i, info := range infos {
		port := "-"
		if info.HostPort > 0 {
			port = strconv.Itoa(info.HostPort)
		}
		rows[i] = []string{
			info.ID,
			p.cell(info.Owner, ownerColumnWidth),
			string(info.Kind),
			p.status(info.Status),
			port,
			p.cell(info.SSHCommand, sshColumnWidth),
			formatTime(info.CreatedAt),
		}
	}

	t := table.New().
		Headers("ID", "OWNER", "BACKEND", "STATUS", "PORT", "SSH", "CREATED").
		Rows(rows...)
	if p.styled {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderRight(false).
			BorderHeader(false).
			BorderColumn(false).
			StyleFunc(func(row, col int) lipgloss.Style { return plainCell })
	}
	fmt.Fprintln(p.w, t.Render())
	return nil
}

// Widest cells in a styled table; plain output is never cut.
const (
	ownerColumnWidth = 16
	sshColumnWidth   = 48
)

// cell truncates s to width columns on a terminal.
func (p *printer) cell(s string, width int) string {
	if !p.styled || lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

// message prints a one-line confirmation, or fields when structured.
func (p *printer) message(fields map[string]any, format string, args ...any) error {
	if p.structured() {
		return p.encode(fields)
	}
	fmt.Fprintf(p.w, format+"\n", args...)
	return nil
}

func (p *printer) status(s backend.Status) string {
	if !p.styled {
		return string(s)
	}
	return lipgloss.NewStyle().Foreground(statusColor(s)).Render(string(s))
}

func (p *printer) secret(s string) string {
	if !p.styled {
		return s
	}
	return secretStyle.Render(s)
}

func (p *printer) warning(s string) string {
	if !p.styled {
		return s
	}
	return warnStyle.Render(s)
}

func formatSpec(s backend.Spec) string {
	var parts []string
	if s.Image != "" {
		parts = append(parts, "image="+s.Image)
	}
	if s.MemoryMB > 0 {
		parts = append(parts, fmt.Sprintf("memory=%dMB", s.MemoryMB))
	}
	if s.CPUs > 0 {
		parts = append(parts, "cpus="+strconv.FormatFloat(s.CPUs, 'g', -1, 64))
	}
	if s.Disk != "" {
		parts = append(parts, "disk="+s.Disk)
	}
	if len(parts) == 0 {
		return "backend defaults"
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
