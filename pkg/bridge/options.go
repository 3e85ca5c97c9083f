package bridge

import (
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options selects the resources and pins of the bridge.
type Options struct {
	// PIO is the block number, 0 or 1.
	PIO uint8 `yaml:"pio"`
	// StateMachine is the state machine number in the block.
	StateMachine uint8 `yaml:"sm"`
	// DMAChannel is the loopback channel.
	DMAChannel uint8 `yaml:"dma_channel"`
	// FIFOJoin is none, tx or rx.
	FIFOJoin string `yaml:"fifo_join"`

	Pins PinPlan `yaml:"pins"`
}

var defaultOptions = Options{
	PIO:          1,
	StateMachine: 0,
	DMAChannel:   0,
	FIFOJoin:     "none",
	Pins: PinPlan{
		DataIn:          0,
		DataOut:         0,
		Clock:           8,
		AllowSharedData: true,
	},
}

func envUint8(name string, v *uint8) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	n, err := strconv.ParseUint(val, 0, 8)
	if err != nil {
		glog.Warningf("ignore %s=%q: %v", name, val, err)
		return
	}
	*v = uint8(n)
}

func envBool(name string, v *bool) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		glog.Warningf("ignore %s=%q: %v", name, val, err)
		return
	}
	*v = b
}

func init() {
	envUint8("PIOBRIDGE_PIO", &defaultOptions.PIO)
	envUint8("PIOBRIDGE_SM", &defaultOptions.StateMachine)
	envUint8("PIOBRIDGE_DMA_CHANNEL", &defaultOptions.DMAChannel)
	envUint8("PIOBRIDGE_DATA_IN", &defaultOptions.Pins.DataIn)
	envUint8("PIOBRIDGE_DATA_OUT", &defaultOptions.Pins.DataOut)
	envUint8("PIOBRIDGE_CLOCK", &defaultOptions.Pins.Clock)
	if val := os.Getenv("PIOBRIDGE_FIFO_JOIN"); val != "" {
		defaultOptions.FIFOJoin = val
	}
	envBool("PIOBRIDGE_SHARED_DATA", &defaultOptions.Pins.AllowSharedData)
}

type uint8Flag struct {
	v *uint8
}

func (f uint8Flag) String() string {
	if f.v == nil {
		return "0"
	}
	return strconv.Itoa(int(*f.v))
}

func (f uint8Flag) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return err
	}
	*f.v = uint8(n)
	return nil
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.Var(uint8Flag{&defaultOptions.PIO}, "pio", "PIO block of the bridge.")
	flag.Var(uint8Flag{&defaultOptions.StateMachine}, "sm", "State machine of the bridge.")
	flag.Var(uint8Flag{&defaultOptions.DMAChannel}, "dma-channel", "DMA channel of the loopback.")
	flag.Var(uint8Flag{&defaultOptions.Pins.DataIn}, "data-in", "First sampled data pin.")
	flag.Var(uint8Flag{&defaultOptions.Pins.DataOut}, "data-out", "First driven data pin.")
	flag.Var(uint8Flag{&defaultOptions.Pins.Clock}, "clock", "Bus clock pin.")
	flag.StringVar(&defaultOptions.FIFOJoin, "fifo-join", defaultOptions.FIFOJoin, "FIFO join mode: none, tx or rx.")
	flag.BoolVar(&defaultOptions.Pins.AllowSharedData, "shared-data", defaultOptions.Pins.AllowSharedData, "Allow data in and out on the same pins.")
}

// DefaultOptions gets the default options.
func DefaultOptions() *Options {
	return &defaultOptions
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	opts := defaultOptions
	return &opts
}

// LoadFile overrides options with a YAML file. Keys absent from the file
// keep their values.
func (o *Options) LoadFile(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return errors.Wrapf(err, "read %s", fn)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return errors.Wrapf(err, "parse %s", fn)
	}
	return nil
}

// MustLoadFile is LoadFile failing the process on error.
func (o *Options) MustLoadFile(fn string) *Options {
	if err := o.LoadFile(fn); err != nil {
		log.Fatalln(err)
	}
	return o
}
