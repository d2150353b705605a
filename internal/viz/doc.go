// Package viz is the terminal live view of a local multi-rank run, built
// on Bubble Tea:
//
//   - [App]: preset picker and config screen
//   - [Model]: steps the run on a timer and draws it
//   - [Canvas]: braille dot canvas the bodies and tree cells are drawn on
//
// # Key Bindings
//
//	Space - Pause/Resume
//	C     - Toggle quad-tree cell outlines
//	T     - Cycle color themes
//	+ - 0 - Zoom in, out, reset
//	Q     - Quit
package viz
