package particles

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
)

// Particle is the host view of one record.
type Particle struct {
	Position mgl32.Vec3
	Mass     float32
	Velocity mgl32.Vec3
	Material Material
	C        mgl32.Mat3
	F        mgl32.Mat3
	// Jp is the plastic volume ratio for snow and the volume ratio J for fluid.
	Jp     float32
	Volume float32
}

// Rest returns a particle at p with identity deformation.
func Rest(p mgl32.Vec3, mass, volume float32, v mgl32.Vec3, m Material) Particle {
	return Particle{
		Position: p,
		Mass:     mass,
		Velocity: v,
		Material: m,
		F:        mgl32.Ident3(),
		Jp:       1,
		Volume:   volume,
	}
}

// Load reads record i from a device buffer. Each kernel invocation owns
// its record, so plain word access is enough.
func Load(buf *compute.Buffer, i uint32) Particle {
	base := i * StrideWords
	var p Particle
	for k := uint32(0); k < 3; k++ {
		p.Position[k] = buf.F32(base + WordPosition + k)
		p.Velocity[k] = buf.F32(base + WordVelocity + k)
	}
	p.Mass = buf.F32(base + WordMass)
	p.Material = Material(buf.Word(base + WordMaterial))
	for col := uint32(0); col < 3; col++ {
		for row := uint32(0); row < 3; row++ {
			p.C[col*3+row] = buf.F32(base + WordC + col*4 + row)
			p.F[col*3+row] = buf.F32(base + WordF + col*4 + row)
		}
	}
	p.Jp = buf.F32(base + WordJp)
	p.Volume = buf.F32(base + WordVolume)
	return p
}

// Store writes p as record i of a device buffer.
func (p Particle) Store(buf *compute.Buffer, i uint32) {
	base := i * StrideWords
	for k := uint32(0); k < 3; k++ {
		buf.SetF32(base+WordPosition+k, p.Position[k])
		buf.SetF32(base+WordVelocity+k, p.Velocity[k])
	}
	buf.SetF32(base+WordMass, p.Mass)
	buf.SetWord(base+WordMaterial, uint32(p.Material))
	for col := uint32(0); col < 3; col++ {
		for row := uint32(0); row < 3; row++ {
			buf.SetF32(base+WordC+col*4+row, p.C[col*3+row])
			buf.SetF32(base+WordF+col*4+row, p.F[col*3+row])
		}
		buf.SetWord(base+WordC+col*4+3, 0)
		buf.SetWord(base+WordF+col*4+3, 0)
	}
	buf.SetF32(base+WordJp, p.Jp)
	buf.SetF32(base+WordVolume, p.Volume)
	buf.SetWord(base+WordVolume+1, 0)
	buf.SetWord(base+WordVolume+2, 0)
}

func f32At(data []byte, word int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[word*4:]))
}

func putF32(data []byte, word int, v float32) {
	binary.LittleEndian.PutUint32(data[word*4:], math.Float32bits(v))
}

// Decode parses one record from host bytes.
func Decode(rec []byte) Particle {
	var p Particle
	for k := 0; k < 3; k++ {
		p.Position[k] = f32At(rec, WordPosition+k)
		p.Velocity[k] = f32At(rec, WordVelocity+k)
	}
	p.Mass = f32At(rec, WordMass)
	p.Material = Material(binary.LittleEndian.Uint32(rec[WordMaterial*4:]))
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			p.C[col*3+row] = f32At(rec, WordC+col*4+row)
			p.F[col*3+row] = f32At(rec, WordF+col*4+row)
		}
	}
	p.Jp = f32At(rec, WordJp)
	p.Volume = f32At(rec, WordVolume)
	return p
}

// Encode writes p into a Stride-byte record.
func (p Particle) Encode(rec []byte) {
	clear(rec[:Stride])
	for k := 0; k < 3; k++ {
		putF32(rec, WordPosition+k, p.Position[k])
		putF32(rec, WordVelocity+k, p.Velocity[k])
	}
	putF32(rec, WordMass, p.Mass)
	binary.LittleEndian.PutUint32(rec[WordMaterial*4:], uint32(p.Material))
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			putF32(rec, WordC+col*4+row, p.C[col*3+row])
			putF32(rec, WordF+col*4+row, p.F[col*3+row])
		}
	}
	putF32(rec, WordJp, p.Jp)
	putF32(rec, WordVolume, p.Volume)
}

// DecodeAll parses every record in a readback.
func DecodeAll(data []byte) []Particle {
	n := len(data) / Stride
	out := make([]Particle, n)
	for i := range out {
		out[i] = Decode(data[i*Stride : (i+1)*Stride])
	}
	return out
}
