// Package render holds the render-method strategies the frame loop drives.
//
// A Method records its passes into the frame's command encoder after the
// simulation steps, reading the particle buffer and the uniform record
// through non-owning handles. Results come back asynchronously: Present
// requests a readback of the last drawn image, and Image returns the most
// recent one that completed.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/logging"
)

// ErrUnknownKind is returned for an unrecognised render method name.
var ErrUnknownKind = errors.New("render: unknown method")

// Kind selects a render method.
type Kind int

const (
	KindPoints Kind = iota
	KindDensity
)

var kindNames = map[Kind]string{
	KindPoints:  "points",
	KindDensity: "density",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a name to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Size is an output size in terminal cells.
type Size struct {
	Width  int
	Height int
}

// Frame is what the loop hands a render method each tick.
type Frame struct {
	Particles *compute.Buffer
	Count     uint32
	Uniforms  *compute.Buffer
}

// Method is one rendering strategy. Methods are not safe for concurrent
// use; the owner serializes calls.
type Method interface {
	Kind() Kind
	// Resize sets the output size in terminal cells. It takes effect on
	// the next frame.
	Resize(width, height int)
	AddPrerenderPasses(enc *compute.CommandEncoder, f Frame, tw *compute.PassTimestampWrites)
	AddDraw(enc *compute.CommandEncoder, f Frame, tw *compute.PassTimestampWrites)
	// Present requests the readback of the frame just submitted.
	Present() error
	// Image returns the latest completed image.
	Image() string
	Destroy()
}

// New builds the method of the given kind.
func New(dev compute.Device, kind Kind, width, height int) (Method, error) {
	switch kind {
	case KindPoints:
		return NewPoints(dev, width, height), nil
	case KindDensity:
		return NewDensity(dev, width, height), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}

func slogger() *slog.Logger { return logging.For("render") }
