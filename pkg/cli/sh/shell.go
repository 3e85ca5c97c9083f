// Package sh is the bench shell: an ishell prompt over a simulated chip
// where the bridge can be armed and the bus driven by hand, one edge at a
// time. The chip timeline does not run on its own here, every command
// settles the chip before returning.
package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/abiosoft/ishell"
	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/bridge"
	"github.com/robotalks/piobridge/pkg/chip"
)

// ErrNotArmed indicates a command needing an armed bridge.
var ErrNotArmed = errors.New("bridge not armed, run setup first")

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoSetup   bool

	Shell   *ishell.Shell
	Chip    *chip.Chip
	Options *bridge.Options
	Bridge  *bridge.Bridge
}

const (
	shellKey       = "$shell"
	unarmedPrompt  = "[unarmed] > "
	settleMaxTicks = 1 << 16
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	autoSetup  bool
	levelWait  bool

	// commands
	commands = []*ishell.Cmd{
		&SetupCmd,
		&StatsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.BoolVar(&autoSetup, "setup", autoSetup, "Arm the bridge before the first command.")
	flag.BoolVar(&levelWait, "level-wait", levelWait, "WAIT retires on level instead of consuming edges.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell over c.
func New(c *chip.Chip, opts *bridge.Options) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		AutoSetup:   autoSetup,

		Shell:   ishell.New(),
		Chip:    c,
		Options: opts,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unarmedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeArmed wraps command func requiring an armed bridge.
func MustBeArmed(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Bridge == nil {
			c.Err(ErrNotArmed)
			return
		}
		fn(c)
	}
}

// Settle lets the chip run until every state machine stalls.
func (s *Shell) Settle() int {
	return s.Chip.Settle(settleMaxTicks)
}

// Setup arms the bridge.
func (s *Shell) Setup() error {
	if s.Bridge != nil {
		return errors.New("bridge already armed")
	}
	b, err := bridge.Setup(s.Chip, *s.Options)
	if err != nil {
		return err
	}
	s.Bridge = b
	if s.Shell != nil {
		s.Shell.SetPrompt(fmt.Sprintf("[pio%d sm%d] > ", s.Options.PIO, s.Options.StateMachine))
	}
	return nil
}

// Print prints v as JSON when OutputJSON is set, otherwise text.
func Print(c *ishell.Context, v interface{}, text string) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoSetup {
		if err := s.Setup(); err != nil {
			log.Fatalf("setup failed: %v", err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// SetupCmd arms the bridge.
	SetupCmd = ishell.Cmd{
		Name:    "setup",
		Aliases: []string{"arm"},
		Help:    "arm the bridge with the command line options",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if err := s.Setup(); err != nil {
				c.Err(err)
				return
			}
			Print(c, s.Options, fmt.Sprintf("armed at offset %d: %s", s.Bridge.Offset(), s.Options.Pins))
		},
	}

	// StatsCmd prints the pipeline counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "pipeline counters",
		Func: MustBeArmed(func(c *ishell.Context) {
			st := ShellFrom(c).Bridge.Stats()
			Print(c, st, fmt.Sprintf(
				"ticks %d pc %d | sm cycles %d executed %d stalls %d pushes %d pulls %d underruns %d | dma transfers %d | tx %d rx %d | in %#02x out %#02x",
				st.Ticks, st.PC, st.SM.Cycles, st.SM.Executed, st.SM.Stalls, st.SM.Pushes, st.SM.Pulls, st.SM.Underruns,
				st.DMA.Transfers, st.TxLevel, st.RxLevel, st.Sampled, st.Emitted))
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	cfg := chip.DefaultConfig()
	cfg.LevelWait = levelWait
	New(chip.New(cfg), bridge.NewOptions()).Run(flag.Args()...)
}
