package uniforms

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera orbits a target point. Yaw and Pitch are in radians, FOV in degrees.
type Camera struct {
	Target   mgl32.Vec3
	Distance float32
	Yaw      float32
	Pitch    float32
	FOV      float32
	Near     float32
	Far      float32
}

func NewCamera(target mgl32.Vec3, distance float32) Camera {
	return Camera{
		Target:   target,
		Distance: distance,
		Yaw:      0.6,
		Pitch:    0.35,
		FOV:      45,
		Near:     0.01,
		Far:      distance * 10,
	}
}

// Eye returns the camera position in world space.
func (c Camera) Eye() mgl32.Vec3 {
	cy, sy := math.Cos(float64(c.Yaw)), math.Sin(float64(c.Yaw))
	cp, sp := math.Cos(float64(c.Pitch)), math.Sin(float64(c.Pitch))
	offset := mgl32.Vec3{float32(cp * sy), float32(sp), float32(cp * cy)}
	return c.Target.Add(offset.Mul(c.Distance))
}

func (c Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Eye(), c.Target, mgl32.Vec3{0, 1, 0})
}

func (c Camera) Projection(width, height float32) mgl32.Mat4 {
	aspect := float32(1)
	if height > 0 {
		aspect = width / height
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// Orbit rotates the camera; pitch stays short of the poles.
func (c Camera) Orbit(dYaw, dPitch float32) Camera {
	c.Yaw += dYaw
	c.Pitch = mgl32.Clamp(c.Pitch+dPitch, -1.5, 1.5)
	return c
}

// Zoom scales the orbit distance by factor.
func (c Camera) Zoom(factor float32) Camera {
	if factor > 0 {
		c.Distance *= factor
	}
	return c
}
