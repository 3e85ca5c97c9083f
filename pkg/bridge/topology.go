package bridge

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1"
)

// Topology vertices.
const (
	NodeDataIn  = "data in"
	NodeClock   = "clock"
	NodeSM      = "sm"
	NodeRxFIFO  = "rx fifo"
	NodeDMA     = "dma"
	NodeTxFIFO  = "tx fifo"
	NodeDataOut = "data out"
)

func fillColor(r, g, b uint8) (string, error) {
	c, err := colors.RGB(r, g, b)
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}
	return c.ToHEX().String(), nil
}

// Topology returns the data path of the bridge as a directed graph: pins
// into the state machine, through the RX FIFO, the DMA channel and the TX
// FIFO back into the state machine and out to the pins.
func (b *Bridge) Topology() (graph.Graph[string, string], error) {
	plan := b.opts.Pins
	g := graph.New(graph.StringHash, graph.Directed())

	vertices := []struct {
		name    string
		label   string
		r, g, b uint8
	}{
		{NodeDataIn, fmt.Sprintf("gpio %d..%d", plan.DataIn, plan.DataIn+WordBits-1), 0x9e, 0xc5, 0xfe},
		{NodeClock, fmt.Sprintf("gpio %d", plan.Clock), 0xff, 0xe0, 0x82},
		{NodeSM, fmt.Sprintf("pio%d sm%d @%d", b.opts.PIO, b.opts.StateMachine, b.offset), 0xb7, 0xe4, 0xc7},
		{NodeRxFIFO, fmt.Sprintf("rxf%d", b.opts.StateMachine), 0xe0, 0xe0, 0xe0},
		{NodeDMA, fmt.Sprintf("dma %d", b.opts.DMAChannel), 0xf4, 0xa2, 0x61},
		{NodeTxFIFO, fmt.Sprintf("txf%d", b.opts.StateMachine), 0xe0, 0xe0, 0xe0},
		{NodeDataOut, fmt.Sprintf("gpio %d..%d", plan.DataOut, plan.DataOut+WordBits-1), 0x9e, 0xc5, 0xfe},
	}
	for _, v := range vertices {
		color, err := fillColor(v.r, v.g, v.b)
		if err != nil {
			return nil, err
		}
		err = g.AddVertex(v.name,
			graph.VertexAttribute("xlabel", v.label),
			graph.VertexAttribute("style", "filled"),
			graph.VertexAttribute("fillcolor", color))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add vertex %s", v.name)
		}
	}

	edges := []struct {
		from, to, label string
	}{
		{NodeClock, NodeSM, "wait 0"},
		{NodeDataIn, NodeSM, "in pins, 8"},
		{NodeSM, NodeRxFIFO, "autopush"},
		{NodeRxFIFO, NodeDMA, fmt.Sprintf("dreq %d", b.block.DreqRx(b.opts.StateMachine))},
		{NodeDMA, NodeTxFIFO, "32 bit, unbounded"},
		{NodeTxFIFO, NodeSM, "autopull"},
		{NodeSM, NodeDataOut, "out pins, 8"},
	}
	for _, e := range edges {
		if err := g.AddEdge(e.from, e.to, graph.EdgeAttribute("label", e.label)); err != nil {
			return nil, errors.Wrapf(err, "unable to add edge %s -> %s", e.from, e.to)
		}
	}
	return g, nil
}

// WriteDOT renders the topology in Graphviz DOT.
func (b *Bridge) WriteDOT(w io.Writer) error {
	g, err := b.Topology()
	if err != nil {
		return err
	}
	return draw.DOT(g, w)
}
