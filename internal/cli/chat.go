package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/docchat/internal/chat"
	"github.com/raphaelgruber/docchat/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat session.

Without an id a new chat starts; its conversation is created with the first
message. Changes made by other clients signed in as the same user show up
live. Type /help inside the session for commands.

Examples:
  docchat chat --user alice
  docchat chat 3f6c1c9e-5b1a-4c1e-9f0e-2a7d8e4b1c55`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := currentUser()
	if err != nil {
		return err
	}
	st, err := getStore(ctx)
	if err != nil {
		return err
	}

	identity := session.NewIdentity()
	notices := chat.NewNotices(cfg.NoticeTTL)
	deps := &chat.Deps{
		Store:         st,
		Backend:       getBackend(),
		Identity:      identity,
		Notices:       notices,
		Logger:        logger,
		Metrics:       collector,
		AnswerTimeout: cfg.AnswerTimeout,
	}

	list := chat.NewListController(deps)
	active := chat.NewActiveController(deps, list)
	identity.SignIn(owner)
	list.Start()
	active.Start()
	defer func() {
		active.Close()
		list.Close()
	}()

	readLine, out, restore, err := openTerminal()
	if err != nil {
		return err
	}
	defer restore()

	r := newREPL(out, list, active, getBackend(), logger)
	unbind := r.bind(notices)
	defer unbind()
	defer r.close()

	fmt.Fprintf(out, "Signed in as %s. Type /help for commands.\n", owner)
	if len(args) == 1 {
		if err := active.Select(ctx, args[0]); err != nil {
			r.printErr(err)
		}
	}

	for {
		line, err := readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if r.handle(ctx, line) {
			return nil
		}
	}
}

// openTerminal puts stdin in raw mode with line editing when it is a TTY,
// so pushed messages can be printed above the prompt. Otherwise lines are
// read plainly, which keeps the REPL scriptable.
func openTerminal() (readLine func() (string, error), out io.Writer, restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		scanner := bufio.NewScanner(os.Stdin)
		readLine = func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return readLine, os.Stdout, func() {}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("enter raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}
	return t.ReadLine, t, func() { _ = term.Restore(fd, state) }, nil
}
