package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/infra/filestore"
)

// lineReader is the part of readline the chat loop needs.
type lineReader interface {
	Readline() (string, error)
}

// scannerReader reads piped input line by line.
type scannerReader struct {
	scanner *bufio.Scanner
}

func (r *scannerReader) Readline() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Negotiate a meeting interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if !opts.verbose {
				cfg.Observability.Logging.Level = "warn"
			}
			app, err := buildApplication(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			var in lineReader
			if isTTY() {
				rl, err := newReadline()
				if err != nil {
					return err
				}
				defer rl.Close()
				in = rl
			} else {
				in = &scannerReader{scanner: bufio.NewScanner(cmd.InOrStdin())}
			}
			return runChat(cmd.Context(), app, sessionID, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume or name a session (default: new random id)")
	return cmd
}

func newReadline() (*readline.Instance, error) {
	historyFile := filestore.ResolvePath("~/.smartsched/history", "")
	if err := filestore.EnsureParentDir(historyFile); err != nil {
		historyFile = ""
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return rl, nil
}

// runChat reads utterances until exit, EOF or cancellation and prints one
// reply per turn.
func runChat(ctx context.Context, app *application, sessionID string, in lineReader, out io.Writer) error {
	fmt.Fprintln(out, bold("smartsched")+" "+gray("session "+sessionID))
	fmt.Fprintln(out, gray("Describe the meeting you need. /reset starts over, /quit leaves."))
	fmt.Fprintln(out)

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(input) == 0 {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit", "/quit", "/exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "/reset":
			if _, err := app.service.Clear(ctx, sessionID); err != nil && !errors.Is(err, negotiation.ErrSessionNotFound) {
				fmt.Fprintln(out, red("Error: "+err.Error()))
				continue
			}
			fmt.Fprintln(out, cyan("Starting over."))
			fmt.Fprintln(out)
			continue
		}

		res, err := app.service.HandleUtterance(ctx, sessionID, input)
		if err != nil {
			fmt.Fprintln(out, red("Error: "+err.Error()))
			fmt.Fprintln(out)
			continue
		}
		reply := app.formatter.Format(res)
		fmt.Fprintln(out, green(reply.Text))
		if len(reply.Suggestions) > 0 {
			fmt.Fprintln(out, gray("  ["+strings.Join(reply.Suggestions, "] [")+"]"))
		}
		fmt.Fprintln(out)
	}
}
