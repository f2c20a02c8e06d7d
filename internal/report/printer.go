// Package report renders the user-facing output of a run.
//
// Report lines go to stdout; per-controller and per-task errors go to
// stderr. Diagnostics belong in slog, not here.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorDim    = lipgloss.Color("#6b7280")

	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	bannerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
)

const rule = "----------------------------------------"

// Printer writes report output.
type Printer struct {
	out   io.Writer
	err   io.Writer
	color bool
}

// New creates a printer. Colour is applied only when color is true.
func New(out, errOut io.Writer, color bool) *Printer {
	return &Printer{out: out, err: errOut, color: color}
}

// Auto creates a printer coloured only when out is a terminal.
func Auto(out, errOut io.Writer) *Printer {
	return New(out, errOut, isTerminal(out))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) banner(title string) {
	fmt.Fprintln(p.out, p.style(bannerStyle, rule+" "+title+" "+rule))
}

// CurrentVersion prints the resolved target version.
func (p *Printer) CurrentVersion(version string) {
	fmt.Fprintf(p.out, "Current version: %s\n", version)
}

// OutdatedControllers prints the outdated controller table.
func (p *Printer) OutdatedControllers(controllers []types.Controller) {
	p.banner("Out of Date Controllers")
	tw := tabwriter.NewWriter(p.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tSERVER NAME\tAVAILABLE\tVERSION")
	for _, c := range controllers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, valueOrDash(c.ServerName), yesNo(c.Available), valueOrDash(c.Version))
	}
	tw.Flush()
	p.banner("End")
}

// UpgradeStarted prints the banner opening the submission phase.
func (p *Printer) UpgradeStarted() {
	p.banner("Controller(s) upgrade task started")
}

// UpgradeRequested announces a submission.
func (p *Printer) UpgradeRequested(controllerID, name string) {
	fmt.Fprintf(p.out, "Requesting upgrade of controller %s/%s\n", controllerID, valueOrDash(name))
}

// TaskCreated confirms a submission.
func (p *Printer) TaskCreated(id types.TaskID) {
	fmt.Fprintf(p.out, " -> Controller upgrade task id: %s created\n", id)
}

// SubmissionFailed reports a controller whose upgrade could not be scheduled.
func (p *Printer) SubmissionFailed(controllerID, name string, err error) {
	fmt.Fprintf(p.err, " -> %s %s/%s: %v\n", p.style(failedStyle, "upgrade request failed for"), controllerID, valueOrDash(name), err)
}

// NotOutdated warns that an explicitly selected controller is not in the outdated set.
func (p *Printer) NotOutdated(controllerID string) {
	fmt.Fprintf(p.err, " -> %s %s is not an available out-of-date controller, requesting anyway\n", p.style(warnStyle, "warning:"), controllerID)
}

// NoTasksCreated reports that the submission phase produced nothing to poll.
func (p *Printer) NoTasksCreated() {
	fmt.Fprintln(p.err, "No upgrade tasks were created")
}

// Waiting announces the polling phase.
func (p *Printer) Waiting(wait time.Duration, tasks int) {
	fmt.Fprintf(p.out, "\nWaiting %d secs for %d upgrade task(s) to finish...\n", int(wait.Seconds()), tasks)
}

// TaskCompleted reports a completed upgrade.
func (p *Printer) TaskCompleted(controllerID, name string) {
	fmt.Fprintf(p.out, " -> Upgrade of controller %s/%s %s\n", controllerID, valueOrDash(name), p.style(okStyle, string(types.TaskCompleted)))
}

// TaskFailed reports a failed upgrade with its error payload.
func (p *Printer) TaskFailed(controllerID, name, upgradeErrors string) {
	fmt.Fprintf(p.out, " -> Upgrade of controller %s/%s %s with errors: %s\n", controllerID, valueOrDash(name), p.style(failedStyle, string(types.TaskFailed)), upgradeErrors)
}

// PollFailed reports a status request that did not succeed.
func (p *Printer) PollFailed(id types.TaskID, err error) {
	fmt.Fprintf(p.err, " -> status of task %s: %v\n", id, err)
}

// Completed prints the banner closing the polling phase.
func (p *Printer) Completed() {
	p.banner("Completed")
}

// Error prints a fatal error.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.err, p.style(failedStyle, "Error:"), err)
}

// ServerInfo prints the server version and API version.
func (p *Printer) ServerInfo(info *types.ServerInfo) {
	tw := tabwriter.NewWriter(p.out, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Server version:\t%s\n", valueOrDash(info.ServerVersion))
	fmt.Fprintf(tw, "API version:\t%s\n", valueOrDash(info.APIVersion))
	tw.Flush()
}

// ControllerTasks groups upgrade tasks under the controller they belong to.
type ControllerTasks struct {
	ControllerID string
	Tasks        []types.UpgradeTask
}

// Tasks prints upgrade tasks grouped by controller.
func (p *Printer) Tasks(groups []ControllerTasks) {
	if len(groups) == 0 {
		fmt.Fprintln(p.out, "No upgrade tasks found")
		return
	}
	rows := [][]string{{"CONTROLLER", "TASK", "STATUS", "CREATED", "COMPLETED", "CURRENT VERSION"}}
	for _, g := range groups {
		for _, t := range g.Tasks {
			rows = append(rows, []string{
				valueOrDash(g.ControllerID),
				t.ID.String(),
				valueOrDash(string(t.Status)),
				formatTime(t.CreationTimestamp),
				formatTime(t.CompletionTimestamp),
				valueOrDash(t.CurrentVersion),
			})
		}
	}
	writeAligned(p.out, rows, func(row, col int, cell string) string {
		if row == 0 || col != 2 {
			return cell
		}
		return p.statusText(types.TaskStatus(cell))
	})
}

// writeAligned pads cells to their column width before style is applied, so
// escape sequences added by style do not shift later columns.
func writeAligned(w io.Writer, rows [][]string, style func(row, col int, cell string) string) {
	var widths []int
	for _, r := range rows {
		for c, cell := range r {
			if c >= len(widths) {
				widths = append(widths, 0)
			}
			widths[c] = max(widths[c], utf8.RuneCountInString(cell))
		}
	}
	var b strings.Builder
	for i, r := range rows {
		b.Reset()
		for c, cell := range r {
			b.WriteString(style(i, c, cell))
			if c < len(r)-1 {
				b.WriteString(strings.Repeat(" ", widths[c]-utf8.RuneCountInString(cell)+2))
			}
		}
		b.WriteByte('\n')
		io.WriteString(w, b.String())
	}
}

// Table prints rows under a header with aligned columns.
func (p *Printer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.out, 2, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	tw.Flush()
}

// Line prints a plain line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) statusText(s types.TaskStatus) string {
	switch s {
	case types.TaskCompleted:
		return p.style(okStyle, string(s))
	case types.TaskFailed:
		return p.style(failedStyle, string(s))
	case "", "-":
		return p.style(dimStyle, "-")
	default:
		return string(s)
	}
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			io.WriteString(w, "\t")
		}
		io.WriteString(w, valueOrDash(c))
	}
	io.WriteString(w, "\n")
}

func valueOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
