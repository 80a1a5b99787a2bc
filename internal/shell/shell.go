package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
)

// Prompt is printed before each line in interactive mode.
const Prompt = "msh />"

// Command is one console command. Run gets the words after the command
// name and the same text unsplit, and returns a status code.
type Command struct {
	Name string
	Help string
	Run  func(ctx context.Context, s *Shell, args []string, rest string) int
}

// Shell dispatches console lines to commands.
type Shell struct {
	mgr      *dlmodule.Manager
	out      io.Writer
	logger   *zap.Logger
	commands map[string]Command
}

// New creates a shell with the module commands registered.
func New(mgr *dlmodule.Manager, out io.Writer) *Shell {
	s := &Shell{
		mgr:      mgr,
		out:      out,
		logger:   zap.NewNop(),
		commands: make(map[string]Command),
	}
	for _, c := range builtins() {
		s.Register(c)
	}
	return s
}

func (s *Shell) WithLogger(logger *zap.Logger) *Shell {
	s.logger = logger
	return s
}

// Register adds or replaces a command.
func (s *Shell) Register(c Command) {
	s.commands[c.Name] = c
}

// Commands lists registered commands by name.
func (s *Shell) Commands() []Command {
	out := make([]Command, 0, len(s.commands))
	for _, c := range s.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Shell) Manager() *dlmodule.Manager { return s.mgr }

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// JSON writes v as one line of JSON.
func (s *Shell) JSON(v any) int {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		s.printf("json: %v\n", err)
		return 1
	}
	s.out.Write(append(data, '\n'))
	return 0
}

// Exec runs one command line. Blank lines do nothing.
func (s *Shell) Exec(ctx context.Context, line string) int {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	c, ok := s.commands[name]
	if !ok {
		s.printf("%s: command not found.\n", name)
		return 1
	}
	code := c.Run(ctx, s, strings.Fields(rest), rest)
	s.logger.Debug("Shell command", zap.String("command", name), zap.Int("status", code))
	return code
}

// Serve reads commands from in until it ends or ctx is cancelled.
func (s *Shell) Serve(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		s.printf("%s ", Prompt)
		if !sc.Scan() {
			s.printf("\n")
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Exec(ctx, sc.Text())
	}
}
