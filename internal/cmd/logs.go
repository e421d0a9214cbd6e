package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/config"
	"github.com/ariznodes/vpsctl/internal/logging"
)

// logEntry is a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown fields in Extra
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	aux := &struct{ *alias }{alias: (*alias)(e)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "session_id", "backend"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects the entries shown by the logs command
type logFilter struct {
	sessionID string
	minLevel  int
	since     time.Time
	grep      *regexp.Regexp
}

func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return lipgloss.NewStyle().Foreground(mutedColor)
	case logging.LevelWarn:
		return lipgloss.NewStyle().Foreground(amberColor)
	case logging.LevelError:
		return lipgloss.NewStyle().Foreground(redColor)
	default:
		return lipgloss.NewStyle().Foreground(blueColor)
	}
}

func (f logFilter) pass(e *logEntry) bool {
	if f.sessionID != "" && e.SessionID != f.sessionID {
		return false
	}
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

// formatLogEntry renders an entry on one line, extra fields in key order
func formatLogEntry(e *logEntry, styled bool) string {
	paint := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}
	field := lipgloss.NewStyle().Foreground(primaryColor)

	var sb strings.Builder
	sb.WriteString(paint(lipgloss.NewStyle().Foreground(mutedColor), "["+e.Time.Local().Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(paint(levelStyle(e.Level), "["+strings.ToUpper(e.Level)+"]"))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	if e.SessionID != "" {
		sb.WriteString(" " + paint(field, "session_id="+e.SessionID))
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		sb.WriteString(" " + paint(field, fmt.Sprintf("%s=%v", k, e.Extra[k])))
	}
	return sb.String()
}

func (c *cli) newLogsCmd() *cobra.Command {
	var (
		sessionID string
		tail      int
		follow    bool
		level     string
		since     string
		grep      string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the vpsctl log",
		Long: `View and filter the vpsctl log file. Logging to a file must be enabled
with logging.dir; otherwise logs go to stderr.

Examples:
  # Last 50 entries
  vpsctl logs

  # Everything about one session
  vpsctl logs -s 3f9a1c2e -n 0

  # Warnings from the last hour, as they arrive
  vpsctl logs --level warn --since 1h -f`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(c.v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			if cfg.Logging.Dir == "" {
				fmt.Fprintln(out, "File logging is disabled; set logging.dir to keep a log.")
				return nil
			}

			logPath := filepath.Join(cfg.Logging.Dir, logging.LogFileName)
			if _, err := os.Stat(logPath); os.IsNotExist(err) {
				fmt.Fprintf(out, "No log found at %s\n", logPath)
				return nil
			}

			filter := logFilter{sessionID: sessionID, minLevel: -1}
			if level != "" {
				filter.minLevel = levelPriority(level)
				if filter.minLevel < 0 {
					return fmt.Errorf("invalid level %q: must be one of %s", level, strings.Join(config.ValidLogLevels(), ", "))
				}
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid duration format: %w", err)
				}
				filter.since = time.Now().Add(-d)
			}
			if grep != "" {
				filter.grep, err = regexp.Compile(grep)
				if err != nil {
					return fmt.Errorf("invalid grep pattern: %w", err)
				}
			}

			styled := isTerminal(out)
			if follow {
				return followLogs(cmd.Context(), out, logPath, filter, styled)
			}
			return displayLogs(out, logPath, tail, filter, styled)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only show entries for this session id")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "number of entries to show (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output (like tail -f)")
	cmd.Flags().StringVar(&level, "level", "", "minimum level (debug/info/warn/error)")
	cmd.Flags().StringVar(&since, "since", "", "show entries since duration ago (e.g. 1h, 30m)")
	cmd.Flags().StringVar(&grep, "grep", "", "only show entries matching this regex")
	return cmd
}

// displayLogs prints the last tail entries of the log that pass filter
func displayLogs(w io.Writer, logPath string, tail int, filter logFilter, styled bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line, ok := renderLogLine(scanner.Text(), filter, styled); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log until ctx is done
func followLogs(ctx context.Context, w io.Writer, logPath string, filter logFilter, styled bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		if line, ok := renderLogLine(strings.TrimSpace(partial), filter, styled); ok {
			fmt.Fprintln(w, line)
		}
		partial = ""
	}
}

// renderLogLine formats one raw line. Lines that are not JSON are shown as is.
func renderLogLine(line string, filter logFilter, styled bool) (string, bool) {
	if line == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !filter.pass(&entry) {
		return "", false
	}
	return formatLogEntry(&entry, styled), true
}
