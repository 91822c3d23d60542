// Package viz provides the terminal front end for a running simulation.
//
// The package implements an interactive TUI using the Bubble Tea framework:
//
//   - [App]: preset picker that launches a session
//   - [Model]: live view of the rendered image with perf graphs
//   - [Feed]: observer holding the latest frame for the view
//
// # Key Bindings
//
//	Space   - Pause/Resume the frame loop
//	←→↑↓    - Orbit the camera (hjkl also work)
//	+/-     - Zoom
//	V       - Toggle render method (points, density)
//	M       - Toggle simulation method (snow, fluid)
//	R       - Scatter the particles again
//	C       - Toggle collider sweep
//	T       - Cycle color themes
//	?       - Show help overlay
package viz
