package gpu

import _ "embed"

// Embedded WGSL shader sources.

//go:embed shaders/particles_step.wgsl
var stepShaderSource string

//go:embed shaders/particles_draw.wgsl
var drawShaderSource string

// StepShaderSource returns the WGSL source of the simulation compute shader.
func StepShaderSource() string { return stepShaderSource }

// DrawShaderSource returns the WGSL source of the point draw shader.
func DrawShaderSource() string { return drawShaderSource }
