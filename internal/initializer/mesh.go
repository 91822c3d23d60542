package initializer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMesh is wrapped by every mesh construction or parse failure.
var ErrMesh = errors.New("initializer: invalid mesh")

// Mesh is a closed triangle mesh.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		b.Min = r3.Vec{X: math.Min(b.Min.X, v.X), Y: math.Min(b.Min.Y, v.Y), Z: math.Min(b.Min.Z, v.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, v.X), Y: math.Max(b.Max.Y, v.Y), Z: math.Max(b.Max.Z, v.Z)}
	}
	return b
}

// Volume is the enclosed volume, summed over signed tetrahedra against the
// origin. Winding is ignored.
func (m *Mesh) Volume() float64 {
	var v float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		v += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	return math.Abs(v)
}

// Contains reports whether p is inside the closed mesh by ray parity.
func (m *Mesh) Contains(p r3.Vec) bool {
	o := vec32(p)
	hits := 0
	for _, f := range m.Faces {
		if rayHits(o, rayDir, vec32(m.Vertices[f[0]]), vec32(m.Vertices[f[1]]), vec32(m.Vertices[f[2]])) {
			hits++
		}
	}
	return hits%2 == 1
}

func vec32(v r3.Vec) mgl32.Vec3 {
	return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

// Translate moves every vertex by d.
func (m *Mesh) Translate(d r3.Vec) {
	for i, v := range m.Vertices {
		m.Vertices[i] = r3.Add(v, d)
	}
}

func (m *Mesh) validate() error {
	if len(m.Faces) == 0 {
		return fmt.Errorf("%w: no faces", ErrMesh)
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("%w: face %d references vertex %d of %d", ErrMesh, i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

// Box returns an axis-aligned box mesh.
func Box(center, size r3.Vec) *Mesh {
	h := r3.Scale(0.5, size)
	m := &Mesh{}
	for i := 0; i < 8; i++ {
		sx, sy, sz := float64(i&1)*2-1, float64(i>>1&1)*2-1, float64(i>>2&1)*2-1
		m.Vertices = append(m.Vertices, r3.Add(center, r3.Vec{X: sx * h.X, Y: sy * h.Y, Z: sz * h.Z}))
	}
	// Two triangles per face, outward winding.
	m.Faces = [][3]int{
		{0, 2, 1}, {1, 2, 3}, // -z
		{4, 5, 6}, {5, 7, 6}, // +z
		{0, 1, 4}, {1, 5, 4}, // -y
		{2, 6, 3}, {3, 6, 7}, // +y
		{0, 4, 2}, {2, 4, 6}, // -x
		{1, 3, 5}, {3, 7, 5}, // +x
	}
	return m
}

// Sphere returns a UV ellipsoid inscribed in the box of the given size.
func Sphere(center, size r3.Vec, rings, segments int) *Mesh {
	rings = max(rings, 3)
	segments = max(segments, 3)
	r := r3.Scale(0.5, size)
	m := &Mesh{}
	m.Vertices = append(m.Vertices, r3.Add(center, r3.Vec{Y: r.Y}))
	for i := 1; i < rings; i++ {
		phi := math.Pi * float64(i) / float64(rings)
		for j := 0; j < segments; j++ {
			theta := 2 * math.Pi * float64(j) / float64(segments)
			m.Vertices = append(m.Vertices, r3.Add(center, r3.Vec{
				X: r.X * math.Sin(phi) * math.Cos(theta),
				Y: r.Y * math.Cos(phi),
				Z: r.Z * math.Sin(phi) * math.Sin(theta),
			}))
		}
	}
	bottom := len(m.Vertices)
	m.Vertices = append(m.Vertices, r3.Add(center, r3.Vec{Y: -r.Y}))

	ring := func(i, j int) int { return 1 + (i-1)*segments + j%segments }
	for j := 0; j < segments; j++ {
		m.Faces = append(m.Faces, [3]int{0, ring(1, j+1), ring(1, j)})
		m.Faces = append(m.Faces, [3]int{bottom, ring(rings-1, j), ring(rings-1, j+1)})
	}
	for i := 1; i < rings-1; i++ {
		for j := 0; j < segments; j++ {
			a, b := ring(i, j), ring(i, j+1)
			c, d := ring(i+1, j), ring(i+1, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, c}, [3]int{b, d, c})
		}
	}
	return m
}

// ParseOBJ reads the vertex and face subset of a Wavefront OBJ file.
// Polygons are fan-triangulated; normals and texture indices are ignored.
func ParseOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: line %d: vertex needs 3 coordinates", ErrMesh, line)
			}
			var c [3]float64
			for i := range c {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMesh, line, err)
				}
				c[i] = f
			}
			m.Vertices = append(m.Vertices, r3.Vec{X: c[0], Y: c[1], Z: c[2]})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: line %d: face needs 3 vertices", ErrMesh, line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				n, err := strconv.Atoi(strings.SplitN(tok, "/", 2)[0])
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMesh, line, err)
				}
				switch {
				case n > 0:
					n--
				case n < 0:
					n += len(m.Vertices)
				default:
					return nil, fmt.Errorf("%w: line %d: zero vertex index", ErrMesh, line)
				}
				idx = append(idx, n)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMesh resolves a mesh name: "box" and "sphere" are built to fit size
// around center; anything else is read as an OBJ file and translated so its
// bounding box is centred on center.
func LoadMesh(name string, center, size r3.Vec) (*Mesh, error) {
	switch name {
	case "box":
		return Box(center, size), nil
	case "sphere":
		return Sphere(center, size, 16, 24), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMesh, err)
	}
	defer f.Close()
	m, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m.Translate(r3.Sub(center, m.Bounds().Center()))
	return m, nil
}
