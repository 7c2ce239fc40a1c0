package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/theritikchoure/logx"
)

// ErrExit ends the command loop without being reported as a failure.
var ErrExit = errors.New("exit")

type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(ctx context.Context, args []string) error
}

// Shell is the line-oriented operator console every node runs on stdin.
// help and exit are always available.
type Shell struct {
	name     string
	in       io.Reader
	out      io.Writer
	commands map[string]Command
}

func New(name string, in io.Reader, out io.Writer) *Shell {
	s := &Shell{name: name, in: in, out: out, commands: make(map[string]Command)}
	s.Add(Command{Name: "help", Help: "List the available commands", Run: s.help})
	s.Add(Command{Name: "exit", Help: "Leave the system and stop this node", Run: func(context.Context, []string) error {
		return ErrExit
	}})
	return s
}

func (s *Shell) Add(cmd Command) {
	s.commands[cmd.Name] = cmd
}

func (s *Shell) Out() io.Writer { return s.out }

// Run reads commands until exit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	logx.Logf("%s ready, type 'help' for commands", logx.FGBLUE, logx.BGWHITE, s.name)
	for {
		fmt.Fprintf(s.out, "%s> ", s.name)
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, ok := s.commands[fields[0]]
		if !ok {
			fmt.Fprintf(s.out, "Unknown command %q, type 'help' for commands\n", fields[0])
			continue
		}
		if err := cmd.Run(ctx, fields[1:]); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			fmt.Fprintf(s.out, "%s failed: %v\n", cmd.Name, err)
		}
	}
}

func (s *Shell) help(context.Context, []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		cmd := s.commands[name]
		usage := cmd.Name
		if cmd.Usage != "" {
			usage += " " + cmd.Usage
		}
		rows = append(rows, []string{usage, cmd.Help})
	}
	Table(s.out, []string{"Command", "Description"}, rows)
	return nil
}

// Table renders rows under header as an ASCII table.
func Table(out io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}
