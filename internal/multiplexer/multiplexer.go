// Package multiplexer is the Multiplexer Gateway (C1): a pure facade over
// the tmux CLI, hiding argv/version quirks from the orchestrator.
package multiplexer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const supervisorControlOption = "@batty_supervisor_control"

// SplitMode is the split strategy available for the orchestrator log pane.
type SplitMode int

const (
	SplitDisabled SplitMode = iota
	SplitByLines
	SplitByPercent
)

// Capabilities is the result of the one-time tmux capability probe.
type Capabilities struct {
	VersionRaw            string
	VersionMajor          int
	VersionMinor          int
	VersionKnown          bool
	PipeToFile            bool
	PipeToFileOnlyMissing bool
	StatusStyle           bool
	Split                 SplitMode
}

// KnownGood reports whether the detected tmux version is in the supported
// range (>= 3.2).
func (c Capabilities) KnownGood() bool {
	if !c.VersionKnown {
		return false
	}
	return c.VersionMajor > 3 || (c.VersionMajor == 3 && c.VersionMinor >= 2)
}

// RemediationMessage is shown to the user when the capability probe fails.
func (c Capabilities) RemediationMessage() string {
	return fmt.Sprintf(
		"tmux capability check failed (detected %q). batty requires working pipe-pane support. "+
			"Install or upgrade tmux (recommended >= 3.2) and re-run `batty work` or `batty attach`.",
		c.VersionRaw,
	)
}

// PaneDetails describes one pane from `list-panes`.
type PaneDetails struct {
	ID      string
	Command string
	Active  bool
	Dead    bool
}

// Gateway wraps the tmux binary.
type Gateway struct {
	bin string
}

// New returns a Gateway invoking the "tmux" binary on PATH.
func New() *Gateway {
	return &Gateway{bin: "tmux"}
}

func (g *Gateway) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// SessionName derives a tmux session name from a phase identifier: runs of
// non-alphanumeric/-/_ become '-', prefixed with "batty-".
func SessionName(phase string) string {
	var sb strings.Builder
	prevReplaced := false
	for _, r := range phase {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
			prevReplaced = false
		default:
			if !prevReplaced {
				sb.WriteRune('-')
			}
			prevReplaced = true
		}
	}
	return "batty-" + sb.String()
}

var versionRe = regexp.MustCompile(`^tmux (\d+)\.(\d+)`)

func parseVersion(raw string) (major, minor int, ok bool) {
	m := versionRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(m[1])
	min, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// CheckTmux verifies tmux is installed and reachable, returning its version
// string.
func (g *Gateway) CheckTmux(ctx context.Context) (string, error) {
	stdout, stderr, err := g.run(ctx, "-V")
	if err != nil {
		return "", fmt.Errorf("tmux not found — install tmux (e.g. `apt install tmux` or `brew install tmux`): %w", err)
	}
	if stderr != "" {
		return "", fmt.Errorf("tmux -V failed: %s", stderr)
	}
	return strings.TrimSpace(stdout), nil
}

// SessionExists reports whether a tmux session exists.
func (g *Gateway) SessionExists(ctx context.Context, session string) bool {
	_, _, err := g.run(ctx, "has-session", "-t", session)
	return err == nil
}

// CreateSession creates a detached tmux session running program with argv
// in workDir. Fails if the session already exists.
func (g *Gateway) CreateSession(ctx context.Context, session, program string, args []string, workDir string) error {
	if g.SessionExists(ctx, session) {
		return fmt.Errorf("tmux session %q already exists — use `batty attach` to reconnect, or kill it with `tmux kill-session -t %s`", session, session)
	}

	argv := []string{"new-session", "-d", "-s", session, "-c", workDir, "-x", "220", "-y", "50", program}
	argv = append(argv, args...)

	_, stderr, err := g.run(ctx, argv...)
	if err != nil {
		return fmt.Errorf("tmux new-session failed: %s", stderr)
	}

	if err := g.SetMouse(ctx, session, true); err != nil {
		// Best-effort: mouse mode is a convenience, not a correctness requirement.
		_ = err
	}
	return nil
}

// KillSession kills a tmux session. Idempotent: a missing session is not an
// error.
func (g *Gateway) KillSession(ctx context.Context, session string) error {
	if !g.SessionExists(ctx, session) {
		return nil
	}
	_, stderr, err := g.run(ctx, "kill-session", "-t", session)
	if err != nil {
		return fmt.Errorf("tmux kill-session failed: %s", stderr)
	}
	return nil
}

// SetupPipeToFile streams all pane output to path via `pipe-pane`.
func (g *Gateway) SetupPipeToFile(ctx context.Context, target, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %s: %w", filepath.Dir(path), err)
	}
	pipeCmd := fmt.Sprintf("cat >> %s", path)
	_, stderr, err := g.run(ctx, "pipe-pane", "-t", target, pipeCmd)
	if err != nil {
		return fmt.Errorf("tmux pipe-pane failed: %s", stderr)
	}
	return nil
}

// SetupPipeToFileIfMissing is SetupPipeToFile's only-if-missing variant
// (`pipe-pane -o`).
func (g *Gateway) SetupPipeToFileIfMissing(ctx context.Context, target, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %s: %w", filepath.Dir(path), err)
	}
	pipeCmd := fmt.Sprintf("cat >> %s", path)
	_, stderr, err := g.run(ctx, "pipe-pane", "-o", "-t", target, pipeCmd)
	if err != nil {
		return fmt.Errorf("tmux pipe-pane -o failed: %s", stderr)
	}
	return nil
}

// SendKeys sends literalText into target, followed by the submit key if
// submit is true. Literal text is sent with `-l` so punctuation/symbols are
// never interpreted as tmux key names.
func (g *Gateway) SendKeys(ctx context.Context, target, literalText string, submit bool) error {
	if literalText != "" {
		_, stderr, err := g.run(ctx, "send-keys", "-t", target, "-l", "--", literalText)
		if err != nil {
			return fmt.Errorf("tmux send-keys failed: %s", stderr)
		}
	}
	if submit {
		_, stderr, err := g.run(ctx, "send-keys", "-t", target, "C-m")
		if err != nil {
			return fmt.Errorf("tmux send-keys Enter failed: %s", stderr)
		}
	}
	return nil
}

// CapturePane returns the currently visible content of target.
func (g *Gateway) CapturePane(ctx context.Context, target string) (string, error) {
	stdout, stderr, err := g.run(ctx, "capture-pane", "-t", target, "-p")
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane failed: %s", stderr)
	}
	return stdout, nil
}

// Attach attaches to session, blocking until detach or exit.
func (g *Gateway) Attach(session string) error {
	if !g.SessionExists(context.Background(), session) {
		return fmt.Errorf("tmux session %q not found — is batty running? Start with `batty work <phase>`", session)
	}
	cmd := exec.Command("tmux", "attach-session", "-t", session)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux attach exited with non-zero status: %w", err)
	}
	return nil
}

func (g *Gateway) tmuxSet(ctx context.Context, target, option, value string) error {
	_, stderr, err := g.run(ctx, "set", "-t", target, option, value)
	if err != nil {
		return fmt.Errorf("tmux set %s failed: %s", option, stderr)
	}
	return nil
}

// SetOption sets an arbitrary tmux session option, e.g. status-left-length.
func (g *Gateway) SetOption(ctx context.Context, session, option, value string) error {
	return g.tmuxSet(ctx, session, option, value)
}

// SetStatusLeft sets the session's status-left content.
func (g *Gateway) SetStatusLeft(ctx context.Context, session, content string) error {
	return g.tmuxSet(ctx, session, "status-left", content)
}

// SetStatusRight sets the session's status-right content.
func (g *Gateway) SetStatusRight(ctx context.Context, session, content string) error {
	return g.tmuxSet(ctx, session, "status-right", content)
}

// SetStatusStyle sets the session's status bar style.
func (g *Gateway) SetStatusStyle(ctx context.Context, session, style string) error {
	return g.tmuxSet(ctx, session, "status-style", style)
}

// SetTitle sets the terminal title via tmux.
func (g *Gateway) SetTitle(ctx context.Context, session, title string) error {
	if err := g.tmuxSet(ctx, session, "set-titles", "on"); err != nil {
		return err
	}
	return g.tmuxSet(ctx, session, "set-titles-string", title)
}

// SetMouse enables or disables tmux mouse mode for a session.
func (g *Gateway) SetMouse(ctx context.Context, session string, enabled bool) error {
	value := "off"
	if enabled {
		value = "on"
	}
	return g.tmuxSet(ctx, session, "mouse", value)
}

func (g *Gateway) bindHotkey(ctx context.Context, session, key, action string) error {
	_, stderr, err := g.run(ctx, "bind-key", "-T", "prefix", key, "set-option", "-t", session, supervisorControlOption, action)
	if err != nil {
		return fmt.Errorf("tmux bind-key %s failed: %s", key, stderr)
	}
	return nil
}

// ConfigureSupervisorHotkeys binds prefix+P -> "pause" and prefix+R ->
// "resume" into the session's supervisor control option.
func (g *Gateway) ConfigureSupervisorHotkeys(ctx context.Context, session string) error {
	if err := g.tmuxSet(ctx, session, supervisorControlOption, ""); err != nil {
		return err
	}
	if err := g.bindHotkey(ctx, session, "P", "pause"); err != nil {
		return err
	}
	return g.bindHotkey(ctx, session, "R", "resume")
}

// TakeHotkeyAction reads and clears the session's queued hotkey action:
// "pause", "resume", or "" if idle.
func (g *Gateway) TakeHotkeyAction(ctx context.Context, session string) (string, error) {
	stdout, stderr, err := g.run(ctx, "show-options", "-v", "-t", session, supervisorControlOption)
	if err != nil {
		return "", fmt.Errorf("tmux show-options supervisor control failed: %s", stderr)
	}
	action := strings.TrimSpace(stdout)
	if action == "" {
		return "", nil
	}
	if err := g.tmuxSet(ctx, session, supervisorControlOption, ""); err != nil {
		return "", err
	}
	return action, nil
}

// SplitVerticalByLines splits the window, giving the new pane a fixed line
// count and running command in it.
func (g *Gateway) SplitVerticalByLines(ctx context.Context, session string, lines int, command []string) error {
	argv := append([]string{"split-window", "-v", "-l", strconv.Itoa(lines), "-t", session}, command...)
	_, stderr, err := g.run(ctx, argv...)
	if err != nil {
		return fmt.Errorf("tmux split-window -l failed: %s", stderr)
	}
	return nil
}

// SplitVerticalByPercent splits the window, giving the new pane a
// percentage of height and running command in it.
func (g *Gateway) SplitVerticalByPercent(ctx context.Context, session string, percent int, command []string) error {
	argv := append([]string{"split-window", "-v", "-p", strconv.Itoa(percent), "-t", session}, command...)
	_, stderr, err := g.run(ctx, argv...)
	if err != nil {
		return fmt.Errorf("tmux split-window -p failed: %s", stderr)
	}
	return nil
}

// ListPaneDetails lists panes in session with their command/active/dead
// metadata.
func (g *Gateway) ListPaneDetails(ctx context.Context, session string) ([]PaneDetails, error) {
	format := "#{pane_id}\t#{pane_current_command}\t#{pane_active}\t#{pane_dead}"
	stdout, stderr, err := g.run(ctx, "list-panes", "-t", session, "-F", format)
	if err != nil {
		return nil, fmt.Errorf("tmux list-panes failed: %s", stderr)
	}

	var panes []PaneDetails
	for _, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		panes = append(panes, PaneDetails{
			ID:      fields[0],
			Command: fields[1],
			Active:  fields[2] == "1",
			Dead:    fields[3] == "1",
		})
	}
	return panes, nil
}

// ProbeCapabilities creates a throwaway session to empirically test
// pipe-pane, status-style, and split-mode support, then tears it down.
func (g *Gateway) ProbeCapabilities(ctx context.Context, probeSessionName string) (Capabilities, error) {
	versionRaw, err := g.CheckTmux(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	major, minor, versionKnown := parseVersion(versionRaw)

	_ = g.KillSession(ctx, probeSessionName)
	if err := g.CreateSession(ctx, probeSessionName, "sleep", []string{"20"}, os.TempDir()); err != nil {
		return Capabilities{}, fmt.Errorf("failed to create tmux probe session %q: %w", probeSessionName, err)
	}
	defer g.KillSession(ctx, probeSessionName)

	pipePane := func() bool {
		_, _, err := g.run(ctx, "pipe-pane", "-t", probeSessionName, "cat >/dev/null")
		return err == nil
	}()
	pipePaneOnlyMissing := func() bool {
		_, _, err := g.run(ctx, "pipe-pane", "-o", "-t", probeSessionName, "cat >/dev/null")
		return err == nil
	}()
	_, _, _ = g.run(ctx, "pipe-pane", "-t", probeSessionName)

	statusStyle := func() bool {
		_, _, err := g.run(ctx, "set", "-t", probeSessionName, "status-style", "bg=colour235,fg=colour136")
		return err == nil
	}()

	splitLines := func() bool {
		_, _, err := g.run(ctx, "split-window", "-v", "-l", "3", "-t", probeSessionName, "sleep", "1")
		return err == nil
	}()
	splitMode := SplitDisabled
	if splitLines {
		splitMode = SplitByLines
	} else if func() bool {
		_, _, err := g.run(ctx, "split-window", "-v", "-p", "20", "-t", probeSessionName, "sleep", "1")
		return err == nil
	}() {
		splitMode = SplitByPercent
	}

	return Capabilities{
		VersionRaw:            versionRaw,
		VersionMajor:          major,
		VersionMinor:          minor,
		VersionKnown:          versionKnown,
		PipeToFile:            pipePane,
		PipeToFileOnlyMissing: pipePaneOnlyMissing,
		StatusStyle:           statusStyle,
		Split:                 splitMode,
	}, nil
}
