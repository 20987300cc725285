package selector

import (
	"fmt"
	"math"
	"strconv"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

type segKind int

const (
	segLine segKind = iota
	segQuad
	segCubic
	segArc
)

// segment is one drawn piece of a path. Lines use p0, p3; quadratic curves
// p0, p1, p3; cubic curves all four points.
type segment struct {
	kind           segKind
	p0, p1, p2, p3 geometry.Point
	arc            arcParams
}

type arcParams struct {
	center         geometry.Point
	rx, ry         float64
	cosPhi, sinPhi float64
	theta, delta   float64
}

func (s segment) curved() bool { return s.kind != segLine }

func (s segment) start() geometry.Point { return s.p0 }
func (s segment) end() geometry.Point   { return s.p3 }

// at returns the point at parameter t in [0, 1].
func (s segment) at(t float64) geometry.Point {
	u := 1 - t
	switch s.kind {
	case segQuad:
		return geometry.Pt(
			u*u*s.p0.X+2*u*t*s.p1.X+t*t*s.p3.X,
			u*u*s.p0.Y+2*u*t*s.p1.Y+t*t*s.p3.Y,
		)
	case segCubic:
		a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
		return geometry.Pt(
			a*s.p0.X+b*s.p1.X+c*s.p2.X+d*s.p3.X,
			a*s.p0.Y+b*s.p1.Y+c*s.p2.Y+d*s.p3.Y,
		)
	case segArc:
		if t == 1 {
			return s.p3
		}
		a := s.arc
		th := a.theta + t*a.delta
		ct, st := math.Cos(th), math.Sin(th)
		return geometry.Pt(
			a.center.X+a.rx*a.cosPhi*ct-a.ry*a.sinPhi*st,
			a.center.Y+a.rx*a.sinPhi*ct+a.ry*a.cosPhi*st,
		)
	default:
		return geometry.Pt(s.p0.X+t*(s.p3.X-s.p0.X), s.p0.Y+t*(s.p3.Y-s.p0.Y))
	}
}

// newArc converts SVG endpoint arc parameters to center form. Degenerate
// radii turn the arc into a line.
func newArc(p0 geometry.Point, rx, ry, phiDeg float64, large, sweep bool, p1 geometry.Point) segment {
	if p0 == p1 {
		return segment{kind: segLine, p0: p0, p3: p1}
	}
	rx, ry = math.Abs(rx), math.Abs(ry)
	if rx == 0 || ry == 0 {
		return segment{kind: segLine, p0: p0, p3: p1}
	}
	phi := phiDeg * math.Pi / 180
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)

	dx, dy := (p0.X-p1.X)/2, (p0.Y-p1.Y)/2
	x1 := cosPhi*dx + sinPhi*dy
	y1 := -sinPhi*dx + cosPhi*dy

	// Scale up radii that cannot span the endpoints.
	if l := x1*x1/(rx*rx) + y1*y1/(ry*ry); l > 1 {
		s := math.Sqrt(l)
		rx *= s
		ry *= s
	}

	num := rx*rx*ry*ry - rx*rx*y1*y1 - ry*ry*x1*x1
	den := rx*rx*y1*y1 + ry*ry*x1*x1
	coef := math.Sqrt(math.Max(0, num/den))
	if large == sweep {
		coef = -coef
	}
	cx1 := coef * rx * y1 / ry
	cy1 := -coef * ry * x1 / rx

	center := geometry.Pt(
		cosPhi*cx1-sinPhi*cy1+(p0.X+p1.X)/2,
		sinPhi*cx1+cosPhi*cy1+(p0.Y+p1.Y)/2,
	)

	angle := func(ux, uy, vx, vy float64) float64 {
		return math.Atan2(ux*vy-uy*vx, ux*vx+uy*vy)
	}
	ux, uy := (x1-cx1)/rx, (y1-cy1)/ry
	vx, vy := (-x1-cx1)/rx, (-y1-cy1)/ry
	theta := angle(1, 0, ux, uy)
	delta := angle(ux, uy, vx, vy)
	if !sweep && delta > 0 {
		delta -= 2 * math.Pi
	} else if sweep && delta < 0 {
		delta += 2 * math.Pi
	}

	return segment{
		kind: segArc,
		p0:   p0,
		p3:   p1,
		arc: arcParams{
			center: center, rx: rx, ry: ry,
			cosPhi: cosPhi, sinPhi: sinPhi,
			theta: theta, delta: delta,
		},
	}
}

// pathScanner tokenizes SVG path data.
type pathScanner struct {
	s   string
	pos int
}

func isSep(c byte) bool {
	return c == ' ' || c == ',' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func (sc *pathScanner) skip() {
	for sc.pos < len(sc.s) && isSep(sc.s[sc.pos]) {
		sc.pos++
	}
}

func (sc *pathScanner) done() bool {
	sc.skip()
	return sc.pos >= len(sc.s)
}

func (sc *pathScanner) number() (float64, error) {
	sc.skip()
	start := sc.pos
	i := sc.pos
	if i < len(sc.s) && (sc.s[i] == '+' || sc.s[i] == '-') {
		i++
	}
	digits, dot := 0, false
	for i < len(sc.s) {
		c := sc.s[i]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' && !dot {
			dot = true
		} else {
			break
		}
		i++
	}
	if digits == 0 {
		return 0, fmt.Errorf("expected number at offset %d", start)
	}
	if i < len(sc.s) && (sc.s[i] == 'e' || sc.s[i] == 'E') {
		j := i + 1
		if j < len(sc.s) && (sc.s[j] == '+' || sc.s[j] == '-') {
			j++
		}
		k := j
		for k < len(sc.s) && sc.s[k] >= '0' && sc.s[k] <= '9' {
			k++
		}
		if k > j {
			i = k
		}
	}
	v, err := strconv.ParseFloat(sc.s[start:i], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", sc.s[start:i], err)
	}
	sc.pos = i
	return v, nil
}

// flag reads an arc flag, which may be packed without separators.
func (sc *pathScanner) flag() (bool, error) {
	sc.skip()
	if sc.pos < len(sc.s) {
		switch sc.s[sc.pos] {
		case '0':
			sc.pos++
			return false, nil
		case '1':
			sc.pos++
			return true, nil
		}
	}
	return false, fmt.Errorf("expected arc flag at offset %d", sc.pos)
}

func (sc *pathScanner) numbers(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := sc.number()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parsePathData turns SVG path data into drawn segments. Move commands only
// reposition the pen; closepath adds a straight segment back to the subpath
// start.
func parsePathData(d string) ([]segment, error) {
	sc := &pathScanner{s: d}
	var (
		segs      []segment
		cur, sub  geometry.Point
		lastCtrl  geometry.Point
		lastCmd   byte
		cmd       byte
		haveStart bool
	)

	for !sc.done() {
		c := sc.s[sc.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			cmd = c
			sc.pos++
		} else if cmd == 0 {
			return nil, fmt.Errorf("path data must start with a command, got %q", c)
		} else if cmd == 'Z' || cmd == 'z' {
			return nil, fmt.Errorf("unexpected number after closepath at offset %d", sc.pos)
		}
		// A repeated M/m continues as implicit L/l.
		if !haveStart && cmd != 'M' && cmd != 'm' {
			return nil, fmt.Errorf("path data must start with moveto, got %q", cmd)
		}

		rel := cmd >= 'a'
		off := geometry.Point{}
		if rel {
			off = cur
		}

		switch cmd {
		case 'M', 'm':
			v, err := sc.numbers(2)
			if err != nil {
				return nil, err
			}
			cur = geometry.Pt(v[0], v[1]).Add(off)
			sub = cur
			haveStart = true
			if cmd == 'M' {
				cmd = 'L'
			} else {
				cmd = 'l'
			}
			lastCmd = 'M'
			continue

		case 'L', 'l':
			v, err := sc.numbers(2)
			if err != nil {
				return nil, err
			}
			p := geometry.Pt(v[0], v[1]).Add(off)
			segs = append(segs, segment{kind: segLine, p0: cur, p3: p})
			cur = p

		case 'H', 'h':
			v, err := sc.number()
			if err != nil {
				return nil, err
			}
			p := geometry.Pt(v+off.X, cur.Y)
			segs = append(segs, segment{kind: segLine, p0: cur, p3: p})
			cur = p

		case 'V', 'v':
			v, err := sc.number()
			if err != nil {
				return nil, err
			}
			p := geometry.Pt(cur.X, v+off.Y)
			segs = append(segs, segment{kind: segLine, p0: cur, p3: p})
			cur = p

		case 'C', 'c':
			v, err := sc.numbers(6)
			if err != nil {
				return nil, err
			}
			c1 := geometry.Pt(v[0], v[1]).Add(off)
			c2 := geometry.Pt(v[2], v[3]).Add(off)
			p := geometry.Pt(v[4], v[5]).Add(off)
			segs = append(segs, segment{kind: segCubic, p0: cur, p1: c1, p2: c2, p3: p})
			cur, lastCtrl = p, c2

		case 'S', 's':
			v, err := sc.numbers(4)
			if err != nil {
				return nil, err
			}
			c1 := cur
			if lastCmd == 'C' || lastCmd == 'S' {
				c1 = cur.Add(cur.Sub(lastCtrl))
			}
			c2 := geometry.Pt(v[0], v[1]).Add(off)
			p := geometry.Pt(v[2], v[3]).Add(off)
			segs = append(segs, segment{kind: segCubic, p0: cur, p1: c1, p2: c2, p3: p})
			cur, lastCtrl = p, c2

		case 'Q', 'q':
			v, err := sc.numbers(4)
			if err != nil {
				return nil, err
			}
			c1 := geometry.Pt(v[0], v[1]).Add(off)
			p := geometry.Pt(v[2], v[3]).Add(off)
			segs = append(segs, segment{kind: segQuad, p0: cur, p1: c1, p3: p})
			cur, lastCtrl = p, c1

		case 'T', 't':
			v, err := sc.numbers(2)
			if err != nil {
				return nil, err
			}
			c1 := cur
			if lastCmd == 'Q' || lastCmd == 'T' {
				c1 = cur.Add(cur.Sub(lastCtrl))
			}
			p := geometry.Pt(v[0], v[1]).Add(off)
			segs = append(segs, segment{kind: segQuad, p0: cur, p1: c1, p3: p})
			cur, lastCtrl = p, c1

		case 'A', 'a':
			r, err := sc.numbers(3)
			if err != nil {
				return nil, err
			}
			large, err := sc.flag()
			if err != nil {
				return nil, err
			}
			sweep, err := sc.flag()
			if err != nil {
				return nil, err
			}
			v, err := sc.numbers(2)
			if err != nil {
				return nil, err
			}
			p := geometry.Pt(v[0], v[1]).Add(off)
			segs = append(segs, newArc(cur, r[0], r[1], r[2], large, sweep, p))
			cur = p

		case 'Z', 'z':
			if cur != sub {
				segs = append(segs, segment{kind: segLine, p0: cur, p3: sub})
			}
			cur = sub

		default:
			return nil, fmt.Errorf("unknown path command %q", cmd)
		}

		lastCmd = upper(cmd)
	}

	if !haveStart {
		return nil, fmt.Errorf("empty path data")
	}
	return segs, nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// flattenSteps is the resolution used to measure curved segments before
// resampling them by arc length.
const flattenSteps = 64

// samplePath walks segs and returns the polygon approximation: every
// arc-length sample of curved segments, only the start vertex of straight
// segments, and the final end point.
func samplePath(segs []segment, step float64) []geometry.Point {
	if len(segs) == 0 {
		return nil
	}
	if step <= 0 {
		step = 1
	}
	var out []geometry.Point
	for _, s := range segs {
		if !s.curved() {
			out = append(out, s.start())
			continue
		}
		out = append(out, sampleCurve(s, step)...)
	}
	out = append(out, segs[len(segs)-1].end())
	return geometry.DedupeConsecutive(out)
}

// sampleCurve returns points spaced step apart along s, starting at its start
// point and excluding its end point.
func sampleCurve(s segment, step float64) []geometry.Point {
	// Measure on a fine polyline.
	n := flattenSteps
	pts := make([]geometry.Point, n+1)
	cum := make([]float64, n+1)
	for i := range pts {
		pts[i] = s.at(float64(i) / float64(n))
		if i > 0 {
			cum[i] = cum[i-1] + pts[i].Dist(pts[i-1])
		}
	}
	total := cum[n]
	if total == 0 {
		return []geometry.Point{s.start()}
	}

	// Refine long curves so a sample never lands on a coarse chord.
	if want := int(math.Ceil(total/step)) * 4; want > n {
		n = want
		pts = make([]geometry.Point, n+1)
		cum = make([]float64, n+1)
		for i := range pts {
			pts[i] = s.at(float64(i) / float64(n))
			if i > 0 {
				cum[i] = cum[i-1] + pts[i].Dist(pts[i-1])
			}
		}
		total = cum[n]
	}

	out := []geometry.Point{s.start()}
	j := 1
	for d := step; d < total; d += step {
		for j < n && cum[j] < d {
			j++
		}
		seg := cum[j] - cum[j-1]
		f := 0.0
		if seg > 0 {
			f = (d - cum[j-1]) / seg
		}
		a, b := pts[j-1], pts[j]
		out = append(out, geometry.Pt(a.X+f*(b.X-a.X), a.Y+f*(b.Y-a.Y)))
	}
	return out
}
