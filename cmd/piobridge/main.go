package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	"github.com/robotalks/piobridge/pkg/bridge"
	"github.com/robotalks/piobridge/pkg/chip"
	fx "github.com/robotalks/piobridge/pkg/framework"
	"github.com/robotalks/piobridge/pkg/stimulus"
	"github.com/robotalks/piobridge/pkg/telemetry"
	"github.com/robotalks/piobridge/pkg/telemetry/mqtt"
	"github.com/robotalks/piobridge/pkg/telemetry/stream"
	"github.com/robotalks/piobridge/pkg/telemetry/websocket"
)

var (
	configFile  string
	stimulusPat string
	levelWait   bool
)

func init() {
	bridge.SetupFlags()
	stimulus.SetupFlags()
	telemetry.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "YAML file with bridge options.")
	flag.StringVar(&stimulusPat, "stimulus", stimulusPat, "Drive the bus with a pattern: counter[:START[:STEP]], fixed:W or script:W,W,...")
	flag.BoolVar(&levelWait, "level-wait", levelWait, "WAIT retires on level instead of consuming edges.")
}

func sinks(conf *telemetry.Config) ([]telemetry.PacketWriter, *mqtt.Publisher) {
	var out []telemetry.PacketWriter
	var mq *mqtt.Publisher
	if conf.MQTTBrokerURL != "" {
		p, err := mqtt.NewPublisher(conf.MQTTBrokerURL, conf.SourceID())
		if err != nil {
			log.Fatalln(err)
		}
		mq = p
		out = append(out, p)
	}
	if conf.StreamAddr != "" {
		out = append(out, stream.NewServer(conf.StreamAddr))
	}
	if conf.WebsocketAddr != "" {
		out = append(out, websocket.NewServer(conf.WebsocketAddr))
	}
	return out, mq
}

func main() {
	flag.Parse()

	opts := bridge.NewOptions()
	if configFile != "" {
		opts.MustLoadFile(configFile)
	}
	cfg := chip.DefaultConfig()
	cfg.LevelWait = levelWait
	c := chip.New(cfg)
	b := bridge.MustSetup(c, *opts)

	conf := telemetry.NewConfig()
	out, mq := sinks(conf)
	pub := conf.NewPublisher(b, out...)
	loop := fx.NewLoop().Add(pub, &telemetry.Reporter{Interval: conf.Interval, Bridge: b})
	if mq != nil {
		mq.OnPoll = func() {
			pub.Force()
			loop.TriggerNext()
		}
	}

	runner := fx.NewRunner().HandleSignals()
	runner.Go(fx.NamedRun("chip", fx.RunFunc(c.Run)), fx.NamedRun("loop", loop))

	if stimulusPat != "" {
		pattern, err := stimulus.ParsePattern(stimulusPat)
		if err != nil {
			log.Fatalln(err)
		}
		sconf := stimulus.NewConfig()
		sconf.DataIn, sconf.DataOut, sconf.Clock = opts.Pins.DataIn, opts.Pins.DataOut, opts.Pins.Clock
		driver := sconf.NewDriver(c, pattern)
		runner.Go(fx.NamedRun(driver.Name(), fx.RunFunc(func(ctx context.Context) error {
			if err := driver.Run(ctx); err != nil {
				return err
			}
			// a finished stimulus ends the run
			runner.Cancel()
			return nil
		})))
	}

	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
