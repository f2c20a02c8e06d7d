package report

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

func newTestPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(&out, &errOut, false), &out, &errOut
}

func TestOutdatedControllers(t *testing.T) {
	p, out, _ := newTestPrinter()

	p.OutdatedControllers([]types.Controller{
		{ID: "a1", ServerName: "web-01", Version: "3.1.0", Available: true},
		{ID: "a4", ServerName: "", Version: "2.9.0", Available: true},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Out of Date Controllers")
	assert.Equal(t, []string{"UUID", "SERVER", "NAME", "AVAILABLE", "VERSION"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"a1", "web-01", "yes", "3.1.0"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"a4", "-", "yes", "2.9.0"}, strings.Fields(lines[3]))
	assert.Contains(t, lines[4], "End")
}

func TestTaskMessages(t *testing.T) {
	p, out, errOut := newTestPrinter()

	p.UpgradeRequested("a1", "web-01")
	p.TaskCreated(42)
	p.TaskCompleted("a1", "web-01")
	p.TaskFailed("a2", "web-02", `["disk full"]`)
	p.SubmissionFailed("a3", "web-03", errors.New("Controller busy 409"))
	p.PollFailed(42, errors.New("server returned HTTP 503"))

	assert.Contains(t, out.String(), "Requesting upgrade of controller a1/web-01\n")
	assert.Contains(t, out.String(), "Controller upgrade task id: 42 created\n")
	assert.Contains(t, out.String(), "Upgrade of controller a1/web-01 COMPLETED\n")
	assert.Contains(t, out.String(), `Upgrade of controller a2/web-02 FAILED with errors: ["disk full"]`)
	assert.Contains(t, errOut.String(), "a3/web-03: Controller busy 409")
	assert.Contains(t, errOut.String(), "status of task 42: server returned HTTP 503")
}

func TestWaiting(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.Waiting(180*time.Second, 2)
	assert.Contains(t, out.String(), "Waiting 180 secs for 2 upgrade task(s) to finish...")
}

func TestTasks(t *testing.T) {
	p, out, _ := newTestPrinter()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p.Tasks([]ControllerTasks{{
		ControllerID: "a1",
		Tasks: []types.UpgradeTask{
			{ID: 7, Status: types.TaskCompleted, CurrentVersion: "3.2.0", CreationTimestamp: &created},
		},
	}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"a1", "7", "COMPLETED", "2024-03-01T12:00:00Z", "-", "3.2.0"}, strings.Fields(lines[1]))
}

func TestWriteAligned_IgnoresStyleEscapes(t *testing.T) {
	var out bytes.Buffer
	rows := [][]string{
		{"CONTROLLER", "STATUS", "VERSION"},
		{"a1", "COMPLETED", "3.2.0"},
		{"b1", "PENDING", "-"},
	}
	writeAligned(&out, rows, func(row, col int, cell string) string {
		if row == 1 && col == 1 {
			return "\x1b[38;2;34;197;94m" + cell + "\x1b[0m"
		}
		return cell
	})

	plain := regexp.MustCompile(`\x1b\[[0-9;]*m`).ReplaceAllString(out.String(), "")
	lines := strings.Split(strings.TrimSuffix(plain, "\n"), "\n")
	require.Len(t, lines, 3)
	col := strings.Index(lines[0], "VERSION")
	assert.Equal(t, col, strings.Index(lines[1], "3.2.0"))
	assert.Equal(t, col, strings.Index(lines[2], "-"))
}

func TestTasks_Empty(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.Tasks(nil)
	assert.Equal(t, "No upgrade tasks found\n", out.String())
}

func TestColorDisabledIsPlain(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.TaskCompleted("a1", "web-01")
	assert.NotContains(t, out.String(), "\x1b[")
}

func TestAuto_BufferIsNotATerminal(t *testing.T) {
	var out bytes.Buffer
	p := Auto(&out, &out)
	assert.False(t, p.color)
}
