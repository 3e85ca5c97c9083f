// Package stimulus plays the bus master: it clocks the bus, presents words
// on the data pins ahead of every falling edge and samples what the bridge
// sends back.
package stimulus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrBadPattern indicates a pattern definition that cannot be parsed.
var ErrBadPattern = errors.New("bad pattern")

// Pattern yields the word presented before falling edge n, counting from
// zero. ok false ends the stimulus.
type Pattern interface {
	Word(n int) (w uint8, ok bool)
}

// Counter presents Start, Start+Step, ... wrapping at 8 bits.
type Counter struct {
	Start uint8
	Step  uint8
}

// Word implements Pattern.
func (c Counter) Word(n int) (uint8, bool) {
	return c.Start + uint8(n)*c.Step, true
}

// String implements fmt.Stringer.
func (c Counter) String() string {
	return fmt.Sprintf("counter:%d:%d", c.Start, c.Step)
}

// Fixed presents the same word forever.
type Fixed uint8

// Word implements Pattern.
func (f Fixed) Word(int) (uint8, bool) {
	return uint8(f), true
}

// String implements fmt.Stringer.
func (f Fixed) String() string {
	return fmt.Sprintf("fixed:%#02x", uint8(f))
}

// Script presents its words once, in order.
type Script []uint8

// Word implements Pattern.
func (s Script) Word(n int) (uint8, bool) {
	if n < 0 || n >= len(s) {
		return 0, false
	}
	return s[n], true
}

// String implements fmt.Stringer.
func (s Script) String() string {
	words := make([]string, len(s))
	for n, w := range s {
		words[n] = fmt.Sprintf("%#02x", w)
	}
	return "script:" + strings.Join(words, ",")
}

func parseWord(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0b") {
		v, err := strconv.ParseUint(s[2:], 2, 8)
		return uint8(v), err
	}
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

// ParsePattern parses the String form of a pattern:
//
//	counter[:START[:STEP]]
//	fixed:WORD
//	script:WORD,WORD,...
//
// Words are decimal, 0x hex or 0b binary.
func ParsePattern(def string) (Pattern, error) {
	kind, args := def, ""
	if pos := strings.IndexByte(def, ':'); pos >= 0 {
		kind, args = def[:pos], def[pos+1:]
	}
	switch kind {
	case "counter":
		c := Counter{Step: 1}
		if args == "" {
			return c, nil
		}
		parts := strings.Split(args, ":")
		if len(parts) > 2 {
			break
		}
		var err error
		if c.Start, err = parseWord(parts[0]); err != nil {
			return nil, errors.Wrapf(ErrBadPattern, "%q: %v", def, err)
		}
		if len(parts) == 2 {
			if c.Step, err = parseWord(parts[1]); err != nil {
				return nil, errors.Wrapf(ErrBadPattern, "%q: %v", def, err)
			}
		}
		return c, nil
	case "fixed":
		w, err := parseWord(args)
		if err != nil {
			return nil, errors.Wrapf(ErrBadPattern, "%q: %v", def, err)
		}
		return Fixed(w), nil
	case "script":
		if args == "" {
			break
		}
		var s Script
		for _, field := range strings.Split(args, ",") {
			w, err := parseWord(field)
			if err != nil {
				return nil, errors.Wrapf(ErrBadPattern, "%q: %v", def, err)
			}
			s = append(s, w)
		}
		return s, nil
	}
	return nil, errors.Wrapf(ErrBadPattern, "%q", def)
}
