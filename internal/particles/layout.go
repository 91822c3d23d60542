package particles

// Particle record layout. One record is Stride bytes; word offsets below
// are relative to the start of the record.
const (
	Stride      = 144
	StrideWords = Stride / 4

	WordPosition = 0
	WordMass     = 3
	WordVelocity = 4
	WordMaterial = 7
	// C and F are stored as three vec4 columns each; the fourth word of a
	// column is padding.
	WordC      = 8
	WordF      = 20
	WordJp     = 32
	WordVolume = 33
)

// Material tags the constitutive variant a particle was scattered with.
type Material uint32

const (
	MaterialSnow Material = iota
	MaterialFluid
)
