// Package bench provides the shell commands that drive the bus by hand.
package bench

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/bridge"
	"github.com/robotalks/piobridge/pkg/chip"
	"github.com/robotalks/piobridge/pkg/cli/sh"
	"github.com/robotalks/piobridge/pkg/gpio"
	"github.com/robotalks/piobridge/pkg/pio"
)

// PinRow describes one pin of the plan.
type PinRow struct {
	Pin      uint8  `json:"pin"`
	Role     string `json:"role"`
	Function string `json:"function"`
	Dir      string `json:"dir"`
	Level    bool   `json:"level"`
	Driven   bool   `json:"driven"`
}

// Pins lists the pins of the plan with their current state. A pin shared by
// input and output is listed once per role.
func Pins(s *sh.Shell) []PinRow {
	entries := s.Options.Pins.Entries()
	rows := make([]PinRow, 0, len(entries))
	s.Chip.Inspect(func(c *chip.Chip) {
		bank := c.GPIO()
		for _, e := range entries {
			_, driven := bank.Output(e.Pin)
			rows = append(rows, PinRow{
				Pin:      e.Pin,
				Role:     e.Role.String(),
				Function: bank.Function(e.Pin).String(),
				Dir:      bank.Dir(e.Pin).String(),
				Level:    bank.Level(e.Pin),
				Driven:   driven,
			})
		}
	})
	return rows
}

// Drive sets what the outside world drives onto pin and settles the chip.
func Drive(s *sh.Shell, pin uint8, state gpio.State) error {
	if err := s.Chip.DriveExternal(pin, state); err != nil {
		return err
	}
	s.Settle()
	return nil
}

// Edge pulses the clock n times: high, settle, low, settle. Every falling
// edge releases the WAIT of the bridge.
func Edge(s *sh.Shell, n int) error {
	clock := s.Options.Pins.Clock
	for i := 0; i < n; i++ {
		if err := Drive(s, clock, gpio.High); err != nil {
			return err
		}
		if err := Drive(s, clock, gpio.Low); err != nil {
			return err
		}
	}
	return nil
}

// WordResult is what one bus cycle presented and emitted.
type WordResult struct {
	Presented uint8 `json:"presented"`
	Emitted   uint8 `json:"emitted"`
}

// Word presents v on the input pins and clocks one edge. The emitted word
// is the one presented on the edge before.
func Word(s *sh.Shell, v uint8) (WordResult, error) {
	plan := s.Options.Pins
	if err := s.Chip.DriveByte(plan.DataIn, bridge.WordBits, uint32(v)); err != nil {
		return WordResult{}, err
	}
	if err := Edge(s, 1); err != nil {
		return WordResult{}, err
	}
	return WordResult{
		Presented: v,
		Emitted:   uint8(s.Chip.Outputs(plan.DataOut, bridge.WordBits)),
	}, nil
}

// Step advances the chip n ticks and returns how many of them progressed.
func Step(s *sh.Shell, n int) int {
	progressed := 0
	for i := 0; i < n; i++ {
		if s.Chip.Step() {
			progressed++
		}
	}
	return progressed
}

// Disassemble lists the loaded program as "addr: instruction".
func Disassemble(b *bridge.Bridge) []string {
	offset := b.Offset()
	code := b.Program().Relocate(offset)
	lines := make([]string, len(code))
	for n, raw := range code {
		lines[n] = fmt.Sprintf("%2d: %s", int(offset)+n, pio.Decode(raw))
	}
	return lines
}

// StateInfo is where the state machine is.
type StateInfo struct {
	PC      uint8  `json:"pc"`
	Instr   string `json:"instr"`
	TxLevel int    `json:"tx_level"`
	RxLevel int    `json:"rx_level"`
	Sampled uint8  `json:"sampled"`
	Emitted uint8  `json:"emitted"`
}

// State reports the state machine position and FIFO levels.
func State(b *bridge.Bridge) StateInfo {
	st := b.Stats()
	info := StateInfo{
		PC:      st.PC,
		TxLevel: st.TxLevel,
		RxLevel: st.RxLevel,
		Sampled: st.Sampled,
		Emitted: st.Emitted,
	}
	code := b.Program().Relocate(b.Offset())
	if idx := int(st.PC) - int(b.Offset()); idx >= 0 && idx < len(code) {
		info.Instr = pio.Decode(code[idx]).String()
	}
	return info
}

func parseUint(arg string, bits int, name string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 0, bits)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", name, arg)
	}
	return v, nil
}

func optCount(c *ishell.Context) (int, error) {
	if len(c.Args) == 0 {
		return 1, nil
	}
	n, err := parseUint(c.Args[0], 31, "N")
	return int(n), err
}

func onOff(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

var (
	// PinsCmd lists the pins of the plan.
	PinsCmd = ishell.Cmd{
		Name: "pins",
		Help: "pin functions, directions and levels",
		Func: func(c *ishell.Context) {
			rows := Pins(sh.ShellFrom(c))
			var out strings.Builder
			for _, r := range rows {
				driven := ""
				if r.Driven {
					driven = " driven"
				}
				fmt.Fprintf(&out, "gpio%-2d %-6s %-5s %-3s %s%s\n", r.Pin, r.Role, r.Function, r.Dir, onOff(r.Level), driven)
			}
			sh.Print(c, rows, strings.TrimSuffix(out.String(), "\n"))
		},
	}

	// DriveCmd drives one pin from outside.
	DriveCmd = ishell.Cmd{
		Name:    "drive",
		Aliases: []string{"d"},
		Help:    "PIN LEVEL(0|1|z)",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("PIN and LEVEL required"))
				return
			}
			pin, err := parseUint(c.Args[0], 8, "PIN")
			if err != nil {
				c.Err(err)
				return
			}
			state, err := gpio.ParseState(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			if err := Drive(sh.ShellFrom(c), uint8(pin), state); err != nil {
				c.Err(err)
			}
		},
	}

	// EdgeCmd pulses the clock.
	EdgeCmd = ishell.Cmd{
		Name:    "edge",
		Aliases: []string{"e"},
		Help:    "[N] falling clock edges",
		Func: func(c *ishell.Context) {
			n, err := optCount(c)
			if err != nil {
				c.Err(err)
				return
			}
			if err := Edge(sh.ShellFrom(c), n); err != nil {
				c.Err(err)
			}
		},
	}

	// WordCmd runs one bus cycle.
	WordCmd = ishell.Cmd{
		Name:    "word",
		Aliases: []string{"w"},
		Help:    "BYTE present on data in and clock one edge",
		Func: sh.MustBeArmed(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("BYTE required"))
				return
			}
			v, err := parseUint(c.Args[0], 8, "BYTE")
			if err != nil {
				c.Err(err)
				return
			}
			res, err := Word(sh.ShellFrom(c), uint8(v))
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, res, fmt.Sprintf("in %#02x out %#02x", res.Presented, res.Emitted))
		}),
	}

	// StepCmd advances system clock ticks.
	StepCmd = ishell.Cmd{
		Name: "step",
		Help: "[N] system clock ticks",
		Func: func(c *ishell.Context) {
			n, err := optCount(c)
			if err != nil {
				c.Err(err)
				return
			}
			s := sh.ShellFrom(c)
			progressed := Step(s, n)
			sh.Print(c, progressed, fmt.Sprintf("%d/%d ticks progressed, at tick %d", progressed, n, s.Chip.Ticks()))
		},
	}

	// StateCmd shows where the state machine is.
	StateCmd = ishell.Cmd{
		Name: "state",
		Help: "state machine position and fifo levels",
		Func: sh.MustBeArmed(func(c *ishell.Context) {
			info := State(sh.ShellFrom(c).Bridge)
			sh.Print(c, info, fmt.Sprintf("pc %d: %s | tx %d rx %d | in %#02x out %#02x",
				info.PC, info.Instr, info.TxLevel, info.RxLevel, info.Sampled, info.Emitted))
		}),
	}

	// ProgramCmd disassembles the loaded program.
	ProgramCmd = ishell.Cmd{
		Name:    "program",
		Aliases: []string{"dis"},
		Help:    "disassemble the loaded program",
		Func: sh.MustBeArmed(func(c *ishell.Context) {
			lines := Disassemble(sh.ShellFrom(c).Bridge)
			sh.Print(c, lines, strings.Join(lines, "\n"))
		}),
	}

	// TopologyCmd prints the data path in DOT.
	TopologyCmd = ishell.Cmd{
		Name: "topology",
		Help: "data path as a graphviz digraph",
		Func: sh.MustBeArmed(func(c *ishell.Context) {
			var buf bytes.Buffer
			if err := sh.ShellFrom(c).Bridge.WriteDOT(&buf); err != nil {
				c.Err(err)
				return
			}
			c.Print(buf.String())
		}),
	}
)

func init() {
	sh.AddCmds(
		&PinsCmd,
		&DriveCmd,
		&EdgeCmd,
		&WordCmd,
		&StepCmd,
		&StateCmd,
		&ProgramCmd,
		&TopologyCmd,
	)
}
