package layout

import "math"

// distanceMin2 bounds the many-body force between nearly coincident nodes
const distanceMin2 = 1.0

// applyLinks pulls each relation's endpoints toward LinkDistance
func (e *Engine) applyLinks() {
	for _, l := range e.links {
		s, t := e.bodies[l.source], e.bodies[l.target]

		x := t.x + t.vx - s.x - s.vx
		if x == 0 {
			x = e.jiggle()
		}
		y := t.y + t.vy - s.y - s.vy
		if y == 0 {
			y = e.jiggle()
		}

		d := math.Sqrt(x*x + y*y)
		k := (d - e.params.LinkDistance) / d * e.alpha * l.strength
		x *= k
		y *= k

		t.vx -= x * l.bias
		t.vy -= y * l.bias
		s.vx += x * (1 - l.bias)
		s.vy += y * (1 - l.bias)
	}
}

// applyCharge applies pairwise many-body repulsion, inversely proportional to distance squared
func (e *Engine) applyCharge() {
	if e.params.ChargeStrength == 0 {
		return
	}
	for i, a := range e.bodies {
		for j, b := range e.bodies {
			if i == j {
				continue
			}
			x := b.x - a.x
			y := b.y - a.y
			if x == 0 {
				x = e.jiggle()
			}
			if y == 0 {
				y = e.jiggle()
			}
			l := x*x + y*y
			if l < distanceMin2 {
				l = math.Sqrt(distanceMin2 * l)
			}
			w := e.params.ChargeStrength * e.alpha / l
			a.vx += x * w
			a.vy += y * w
		}
	}
}

// applyCollide separates overlapping nodes, lighter radius moving further
func (e *Engine) applyCollide() {
	for i := 0; i < len(e.bodies); i++ {
		a := e.bodies[i]
		ax, ay := a.x+a.vx, a.y+a.vy
		ra2 := a.radius * a.radius

		for j := i + 1; j < len(e.bodies); j++ {
			b := e.bodies[j]
			r := a.radius + b.radius
			x := ax - (b.x + b.vx)
			y := ay - (b.y + b.vy)
			l := x*x + y*y
			if l >= r*r {
				continue
			}
			if x == 0 {
				x = e.jiggle()
				l += x * x
			}
			if y == 0 {
				y = e.jiggle()
				l += y * y
			}
			l = math.Sqrt(l)
			k := (r - l) / l
			x *= k
			y *= k

			rb2 := b.radius * b.radius
			share := 0.5
			if ra2+rb2 > 0 {
				share = rb2 / (ra2 + rb2)
			}
			a.vx += x * share
			a.vy += y * share
			b.vx -= x * (1 - share)
			b.vy -= y * (1 - share)
		}
	}
}

// applyCenter shifts the whole layout so its mean sits on the viewport center
func (e *Engine) applyCenter() {
	n := len(e.bodies)
	if n == 0 || e.params.CenterStrength == 0 {
		return
	}
	sx, sy := 0.0, 0.0
	for _, b := range e.bodies {
		sx += b.x
		sy += b.y
	}
	sx = (sx/float64(n) - e.params.Width/2) * e.params.CenterStrength
	sy = (sy/float64(n) - e.params.Height/2) * e.params.CenterStrength
	for _, b := range e.bodies {
		b.x -= sx
		b.y -= sy
	}
}
