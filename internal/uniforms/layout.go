package uniforms

// Byte offsets of the uniform record. Every field sits at a fixed offset
// that kernels read by word index (offset/4); fields never move.
const (
	OffsetView              = 0
	OffsetProjection        = 64
	OffsetInvViewProjection = 128
	OffsetColliderTransform = 192
	OffsetColliderVelocity  = 256
	OffsetTimestep          = 268
	OffsetGridMin           = 272
	OffsetFixedPointScale   = 284
	OffsetGridMax           = 288
	OffsetCellSize          = 300
	OffsetGridResolution    = 304
	OffsetParticleCount     = 316
	OffsetHashMapSize       = 320
	OffsetMaxBlocks         = 324
	OffsetMethod            = 328
	OffsetFrameIndex        = 332
	OffsetGravity           = 336
	OffsetSimTime           = 348
	OffsetColliderBoxMin    = 352
	OffsetColliderEnabled   = 364
	OffsetColliderBoxMax    = 368
	OffsetScreenSize        = 384

	// Size is the record size in bytes, a multiple of 16.
	Size = 400
)

// Method selects the constitutive variant; stored at OffsetMethod.
type Method uint32

const (
	MethodSnow Method = iota
	MethodFluid
)

func (m Method) String() string {
	switch m {
	case MethodSnow:
		return "snow"
	case MethodFluid:
		return "fluid"
	default:
		return "unknown"
	}
}

// ParseMethod maps a configuration name to a Method.
func ParseMethod(name string) (Method, bool) {
	switch name {
	case "snow":
		return MethodSnow, true
	case "fluid":
		return MethodFluid, true
	}
	return 0, false
}
