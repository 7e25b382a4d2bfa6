package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/pkg/memory"
)

// turnController is the part of [conversation.Controller] the command loop
// drives.
type turnController interface {
	Connect(ctx context.Context) error
	Disconnect() error
	StartTurn(ctx context.Context) error
	StopTurn() error
	Status() conversation.Status
}

var _ turnController = (*conversation.Controller)(nil)

// historyFunc returns up to n of the newest transcript entries of the
// current session.
type historyFunc func(ctx context.Context, n int) ([]memory.TranscriptEntry, error)

const defaultHistory = 10

const helpText = `commands:
  <Enter>, start   begin a turn (interrupts a reply that is playing)
  stop             end the turn and wait for the reply
  connect          open the channel
  disconnect       close the channel and release the microphone
  status           print connection and session state
  history [n]      print the last n transcript lines
  quit             exit`

// runCommands reads one command per line from in until quit, EOF or ctx is
// done. Command failures are printed and do not end the loop.
func runCommands(ctx context.Context, in io.Reader, out io.Writer, ctrl turnController, history historyFunc) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read commands: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := execute(ctx, out, ctrl, history, line); quit {
				return nil
			}
		}
	}
}

// execute runs a single command line and reports whether the loop should end.
func execute(ctx context.Context, out io.Writer, ctrl turnController, history historyFunc, line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	cmd := ""
	if len(fields) > 0 {
		cmd = fields[0]
	}

	var err error
	switch cmd {
	case "", "start":
		err = ctrl.StartTurn(ctx)
	case "stop":
		err = ctrl.StopTurn()
	case "connect":
		err = ctrl.Connect(ctx)
	case "disconnect":
		err = ctrl.Disconnect()
	case "status":
		printStatus(out, ctrl.Status())
	case "history":
		err = printHistory(ctx, out, history, fields[1:])
	case "help", "?":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(out, "unknown command %q, try 'help'\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func printStatus(out io.Writer, st conversation.Status) {
	fmt.Fprintf(out, "connection: %s  session: %s", st.Connection, st.Session)
	if st.LastError != nil {
		fmt.Fprintf(out, "  last error: %v", st.LastError)
	}
	fmt.Fprintln(out)
}

func printHistory(ctx context.Context, out io.Writer, history historyFunc, args []string) error {
	if history == nil {
		fmt.Fprintln(out, "transcripts are not stored; set transcripts.postgres_dsn")
		return nil
	}
	n := defaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("history: %q is not a positive number", args[0])
		}
		n = v
	}
	entries, err := history(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  [%d] %s\n", e.Timestamp.Format("15:04:05"), e.Turn, e.Text)
	}
	return nil
}

// statusPrinter returns an observer that prints session state changes.
func statusPrinter(out io.Writer) func(conversation.Status) {
	last := conversation.Idle
	return func(st conversation.Status) {
		if st.Session == last {
			return
		}
		last = st.Session
		fmt.Fprintf(out, "● %s\n", st.Session)
	}
}
