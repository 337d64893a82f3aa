// Package layout positions concept graph nodes with a force-directed simulation.
//
// Engine is a plain state machine advanced one step at a time by Tick; it has no
// goroutines or timers of its own. Runner drives an Engine on an interval and
// stops ticking once the simulation settles.
package layout

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ppiankov/decipher/internal/model"
)

// Params are the simulation constants
type Params struct {
	Width           float64
	Height          float64
	LinkDistance    float64
	ChargeStrength  float64 // negative repels
	CenterStrength  float64
	CollidePadding  float64
	AlphaMin        float64
	AlphaDecay      float64
	DragAlphaTarget float64
	VelocityDecay   float64
	EnergyThreshold float64
}

// ParamsFromConfig maps the layout config section onto Params
func ParamsFromConfig(cfg model.LayoutConfig) Params {
	return Params{
		Width:           cfg.Width,
		Height:          cfg.Height,
		LinkDistance:    cfg.LinkDistance,
		ChargeStrength:  cfg.ChargeStrength,
		CenterStrength:  cfg.CenterStrength,
		CollidePadding:  cfg.CollidePadding,
		AlphaMin:        cfg.AlphaMin,
		AlphaDecay:      cfg.AlphaDecay,
		DragAlphaTarget: cfg.DragAlphaTarget,
		VelocityDecay:   cfg.VelocityDecay,
		EnergyThreshold: cfg.EnergyThreshold,
	}
}

// DefaultParams returns the parameters of the default config
func DefaultParams() Params {
	return ParamsFromConfig(model.DefaultConfig().Layout)
}

// NodePosition is the rendered state of one node
type NodePosition struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Radius float64 `json:"radius"`
	Pinned bool    `json:"pinned"`
}

type body struct {
	id     string
	x, y   float64
	vx, vy float64
	radius float64
	pinned bool
	fx, fy float64
}

type link struct {
	source, target int
	strength       float64
	bias           float64 // share of the correction applied to the target
}

// Engine holds positions, velocities and pins for the current snapshot.
// It is not safe for concurrent use; Runner serializes access.
type Engine struct {
	params Params

	bodies []*body
	index  map[string]int
	links  []link

	alpha       float64
	alphaTarget float64
	sinceHeat   int
	ticks       int
	pins        int

	rng *rand.Rand
}

// NewEngine creates an engine with no nodes
func NewEngine(params Params) *Engine {
	if params.AlphaMin <= 0 {
		params.AlphaMin = 0.001
	}
	if params.AlphaDecay <= 0 {
		params.AlphaDecay = 1 - math.Pow(params.AlphaMin, 1.0/300)
	}
	if params.VelocityDecay <= 0 {
		params.VelocityDecay = 0.4
	}
	if params.LinkDistance <= 0 {
		params.LinkDistance = 100
	}
	return &Engine{
		params: params,
		index:  make(map[string]int),
		alpha:  1,
		rng:    rand.New(rand.NewPCG(1, 2)),
	}
}

// SetSnapshot replaces the graph. Nodes already known keep their position,
// velocity and pin; new nodes are placed on a spiral around the center.
// Relations whose endpoints are unknown, and self loops, are ignored.
// The simulation is reheated when the node set or relation count changed.
func (e *Engine) SetSnapshot(snap model.GraphSnapshot) {
	changed := false

	bodies := make([]*body, 0, len(snap.Nodes))
	index := make(map[string]int, len(snap.Nodes))
	pins := 0
	for _, n := range snap.Nodes {
		if _, dup := index[n.ID]; dup {
			continue
		}
		b := e.body(n.ID)
		if b == nil {
			b = &body{id: n.ID}
			e.place(b, len(bodies))
			changed = true
		}
		b.radius = math.Max(n.Weight, 0) + e.params.CollidePadding
		if b.pinned {
			pins++
		}
		index[n.ID] = len(bodies)
		bodies = append(bodies, b)
	}

	// duplicate ids are skipped above, so compare the deduplicated set
	if len(bodies) != len(e.bodies) {
		changed = true
	}
	links := buildLinks(snap.Relations, index)
	if len(links) != len(e.links) {
		changed = true
	}

	e.bodies = bodies
	e.index = index
	e.links = links
	e.pins = pins

	if changed {
		e.reheat()
	}
}

func (e *Engine) body(id string) *body {
	if i, ok := e.index[id]; ok && i < len(e.bodies) {
		return e.bodies[i]
	}
	return nil
}

// place puts the i-th node on a phyllotaxis spiral around the center
func (e *Engine) place(b *body, i int) {
	const initialRadius = 10
	initialAngle := math.Pi * (3 - math.Sqrt(5))

	r := initialRadius * math.Sqrt(0.5+float64(i))
	a := float64(i) * initialAngle
	b.x = e.params.Width/2 + r*math.Cos(a)
	b.y = e.params.Height/2 + r*math.Sin(a)
}

func buildLinks(relations []model.ConceptRelation, index map[string]int) []link {
	count := make([]int, len(index))
	maxStrength := 0.0
	links := make([]link, 0, len(relations))
	for _, r := range relations {
		s, okS := index[r.Source]
		t, okT := index[r.Target]
		if !okS || !okT || s == t {
			continue
		}
		strength := r.Strength
		if strength <= 0 {
			strength = 1
		}
		maxStrength = math.Max(maxStrength, strength)
		count[s]++
		count[t]++
		links = append(links, link{source: s, target: t, strength: strength})
	}

	for i := range links {
		l := &links[i]
		cs, ct := count[l.source], count[l.target]
		l.bias = float64(cs) / float64(cs+ct)
		l.strength = l.strength / maxStrength / float64(min(cs, ct))
	}
	return links
}

func (e *Engine) reheat() {
	e.alpha = 1
	e.sinceHeat = 0
}

// Tick advances the simulation by one step
func (e *Engine) Tick() {
	e.alpha += (e.alphaTarget - e.alpha) * e.params.AlphaDecay

	e.applyLinks()
	e.applyCharge()
	e.applyCollide()
	e.applyCenter()

	decay := 1 - e.params.VelocityDecay
	for _, b := range e.bodies {
		if b.pinned {
			b.x, b.y = b.fx, b.fy
			b.vx, b.vy = 0, 0
			continue
		}
		b.vx *= decay
		b.vy *= decay
		b.x += b.vx
		b.y += b.vy
	}

	e.ticks++
	e.sinceHeat++
}

// Pin holds a node at (x, y) until Release. Pinning keeps the simulation warm.
func (e *Engine) Pin(id string, x, y float64) error {
	b := e.body(id)
	if b == nil {
		return fmt.Errorf("pin %s: unknown node", id)
	}
	if !b.pinned {
		e.pins++
	}
	b.pinned = true
	b.fx, b.fy = x, y
	b.x, b.y = x, y
	b.vx, b.vy = 0, 0

	e.alphaTarget = e.params.DragAlphaTarget
	e.sinceHeat = 0
	return nil
}

// Release clears a pin. The node resumes from its pinned position with zero velocity.
func (e *Engine) Release(id string) error {
	b := e.body(id)
	if b == nil {
		return fmt.Errorf("release %s: unknown node", id)
	}
	if b.pinned {
		e.pins--
	}
	b.pinned = false
	b.vx, b.vy = 0, 0
	if e.pins == 0 {
		e.alphaTarget = 0
	}
	e.sinceHeat = 0
	return nil
}

// Energy is the kinetic energy of the free nodes
func (e *Engine) Energy() float64 {
	sum := 0.0
	for _, b := range e.bodies {
		if !b.pinned {
			sum += b.vx*b.vx + b.vy*b.vy
		}
	}
	return sum
}

// Settled reports quiescence: no pins, and either the temperature has decayed
// below AlphaMin or a tick has left kinetic energy under the threshold
func (e *Engine) Settled() bool {
	if e.pins > 0 {
		return false
	}
	if e.alpha < e.params.AlphaMin {
		return true
	}
	return e.sinceHeat > 0 && e.Energy() < e.params.EnergyThreshold
}

// Alpha returns the current temperature
func (e *Engine) Alpha() float64 { return e.alpha }

// Ticks returns the number of ticks run
func (e *Engine) Ticks() int { return e.ticks }

// Len returns the number of nodes
func (e *Engine) Len() int { return len(e.bodies) }

// Positions returns a copy of every node's state in snapshot order
func (e *Engine) Positions() []NodePosition {
	out := make([]NodePosition, len(e.bodies))
	for i, b := range e.bodies {
		out[i] = b.position()
	}
	return out
}

// Position returns one node's state
func (e *Engine) Position(id string) (NodePosition, bool) {
	b := e.body(id)
	if b == nil {
		return NodePosition{}, false
	}
	return b.position(), true
}

// Settle ticks until the simulation settles or maxTicks is reached and
// returns the number of ticks run
func (e *Engine) Settle(maxTicks int) int {
	n := 0
	for n < maxTicks && !e.Settled() {
		e.Tick()
		n++
	}
	return n
}

func (b *body) position() NodePosition {
	return NodePosition{ID: b.id, X: b.x, Y: b.y, VX: b.vx, VY: b.vy, Radius: b.radius, Pinned: b.pinned}
}

// jiggle is a tiny deterministic displacement for coincident nodes
func (e *Engine) jiggle() float64 {
	return (e.rng.Float64() - 0.5) * 1e-6
}
