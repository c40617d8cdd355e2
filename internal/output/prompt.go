package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/sessions"
)

// previewLines is how much of a file "show <n>" prints.
const previewLines = 20

// Prompter asks the questions of a sync session on a terminal.
type Prompter struct {
	ui   *UI
	in   *bufio.Reader
	fd   int
	root string
}

var _ sessions.Prompter = (*Prompter)(nil)

// NewPrompter creates a prompter reading answers from in. root is the working
// copy used for file previews in the conflict dialog.
func NewPrompter(ui *UI, in io.Reader, root string) *Prompter {
	p := &Prompter{ui: ui, in: bufio.NewReader(in), fd: -1, root: root}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *Prompter) ask(format string, a ...any) (string, error) {
	fmt.Fprintf(p.ui.Out, format, a...)
	return p.readLine()
}

func (p *Prompter) PromptSave(_ context.Context) (bool, error) {
	answer, err := p.ask("The model has unsaved changes. Save before syncing? [Y/n] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) PromptCommitMessage(_ context.Context, changed []string, suggestion string) (string, bool, error) {
	p.ui.Info("Local changes to commit:")
	for _, path := range changed {
		fmt.Fprintf(p.ui.Out, "  %s\n", Cyan(path))
	}

	prompt := "Commit message (empty to cancel): "
	if suggestion != "" {
		prompt = fmt.Sprintf("Commit message [%s]: ", suggestion)
	}
	msg, err := p.ask("%s", prompt)
	if errors.Is(err, io.EOF) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if msg == "" {
		msg = suggestion
	}
	if msg == "" {
		return "", false, nil
	}
	return msg, true, nil
}

// PresentConflicts shows the conflicting paths as a checklist. A checked
// entry takes the remote version, an unchecked one keeps the local file.
func (p *Prompter) PresentConflicts(_ context.Context, set *conflict.Set) (*conflict.Set, error) {
	paths := set.Paths()
	for {
		p.renderConflicts(set, paths)
		answer, err := p.ask("Toggle <n>, [a]ll remote, [n]one, show <n>, [q]uit, enter to apply: ")
		if err != nil {
			return nil, err
		}

		switch cmd, arg, _ := strings.Cut(strings.ToLower(answer), " "); cmd {
		case "":
			return set, nil
		case "q", "quit":
			return nil, context.Canceled
		case "a", "all":
			for _, path := range paths {
				_ = set.Toggle(path, true)
			}
		case "n", "none":
			for _, path := range paths {
				_ = set.Toggle(path, false)
			}
		case "show":
			if i, ok := pick(arg, len(paths)); ok {
				p.preview(paths[i])
			} else {
				p.ui.Notice("No such entry: %s", arg)
			}
		default:
			i, ok := pick(cmd, len(paths))
			if !ok {
				p.ui.Notice("Unknown choice: %s", answer)
				continue
			}
			e, _ := set.Entry(paths[i])
			_ = set.Toggle(paths[i], e.Resolution != conflict.Theirs)
		}
	}
}

func (p *Prompter) renderConflicts(set *conflict.Set, paths []string) {
	policy := set.Policy
	if policy == "" {
		policy = conflict.PolicyOurs
	}
	p.ui.Notice("%d conflicting path(s). Checked entries use the remote version.", len(paths))
	for i, path := range paths {
		e, _ := set.Entry(path)
		box := "[ ]"
		switch e.Resolution {
		case conflict.Theirs:
			box = Green("[x]")
		case conflict.Unresolved:
			box = fmt.Sprintf("[?] (undecided, %s)", policy)
		}
		note := ""
		if e.DeleteModify {
			note = Red(" deleted on one side")
		}
		fmt.Fprintf(p.ui.Out, "  %2d %s %s%s\n", i+1, box, path, note)
	}
}

func (p *Prompter) preview(path string) {
	f, err := os.Open(filepath.Join(p.root, filepath.FromSlash(path)))
	if err != nil {
		p.ui.Notice("Cannot preview %s: %v", path, err)
		return
	}
	defer f.Close()

	fmt.Fprintf(p.ui.Out, "--- %s (local)\n", Cyan(path))
	sc := bufio.NewScanner(f)
	for n := 0; sc.Scan(); n++ {
		if n == previewLines {
			fmt.Fprintln(p.ui.Out, "  ...")
			break
		}
		fmt.Fprintf(p.ui.Out, "  %s\n", sc.Text())
	}
}

func (p *Prompter) DisplayError(_ context.Context, phase sessions.Phase, err error) {
	p.ui.Error("Sync failed during %s: %v", phase, err)
}

// AskCredentials prompts for a username and password. The password is read
// without echo when input is a terminal.
func (p *Prompter) AskCredentials(_ context.Context, remoteURL string) (string, string, error) {
	p.ui.Info("Credentials required for %s", auth.Redact(remoteURL))
	username, err := p.ask("Username: ")
	if err != nil {
		return "", "", err
	}

	fmt.Fprint(p.ui.Out, "Password: ")
	if p.fd >= 0 {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.ui.Out)
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		return username, string(b), nil
	}
	secret, err := p.readLine()
	if err != nil {
		return "", "", err
	}
	return username, secret, nil
}

// pick parses a 1-based entry number.
func pick(s string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}
