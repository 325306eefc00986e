package gpu

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/physics"
)

// copyRowAlignment is the required BytesPerRow alignment for texture copies.
const copyRowAlignment = 256

// PresenterConfig configures a Presenter.
type PresenterConfig struct {
	Label        string
	FenceTimeout time.Duration
	// Clear is the background color of every frame.
	Clear gputypes.Color
}

// Presenter draws particles as points into an offscreen RGBA8 target,
// reading them straight from the particle buffer as vertex input.
type Presenter struct {
	sub   submitter
	label string
	clear gputypes.Color

	pipelineLayout hal.PipelineLayout
	pipeline       hal.RenderPipeline

	target hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
}

// NewPresenter creates the point pipeline.
func NewPresenter(device hal.Device, queue hal.Queue, shaders *ShaderCache, cfg PresenterConfig) (*Presenter, error) {
	label := cfg.Label
	if label == "" {
		label = "particles"
	}
	p := &Presenter{
		sub:   submitter{device: device, queue: queue, timeout: cfg.FenceTimeout},
		label: label + " draw",
		clear: cfg.Clear,
	}
	if err := p.init(shaders); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *Presenter) init(shaders *ShaderCache) error {
	device := p.sub.device
	module, err := shaders.Module(p.label, drawShaderSource)
	if err != nil {
		return err
	}

	p.pipelineLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: p.label})
	if err != nil {
		return fmt.Errorf("%w: pipeline layout: %w", ErrPipelineFailed, err)
	}

	p.pipeline, err = device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  p.label,
		Layout: p.pipelineLayout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: ParticleSize,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes: []gputypes.VertexAttribute{
					{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
				},
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyPointList,
		},
		Multisample: gputypes.DefaultMultisampleState(),
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatRGBA8Unorm,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: render pipeline: %w", ErrPipelineFailed, err)
	}
	return nil
}

// Size returns the current target size.
func (p *Presenter) Size() (width, height uint32) { return p.width, p.height }

// EnsureTarget (re)creates the color target when its size changes.
func (p *Presenter) EnsureTarget(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("gpu: invalid target size %dx%d", width, height)
	}
	if p.target != nil && p.width == width && p.height == height {
		return nil
	}
	p.releaseTarget()

	device := p.sub.device
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         p.label + " target",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("%w: target texture %dx%d: %w", ErrAllocation, width, height, err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         p.label + " target view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return fmt.Errorf("%w: target view: %w", ErrAllocation, err)
	}
	p.target, p.view = tex, view
	p.width, p.height = width, height
	slogger().Debug("presenter: target created", "width", width, "height", height)
	return nil
}

// Draw clears the target and draws one point per populated record of
// buffer, waiting for the pass to complete.
func (p *Presenter) Draw(ctx context.Context, buffer *ParticleBuffer) error {
	if p.view == nil {
		return fmt.Errorf("gpu: presenter has no target")
	}
	count := buffer.Len()
	vertices := buffer.Buffer()
	return buffer.submit(ctx, "draw", func(enc hal.CommandEncoder) {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: p.label,
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       p.view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: p.clear,
			}},
		})
		if count > 0 {
			pass.SetPipeline(p.pipeline)
			pass.SetVertexBuffer(0, vertices, 0)
			pass.Draw(count, 1, 0, 0)
		}
		pass.End()
	})
}

// ReadPixels copies the target back to host memory.
func (p *Presenter) ReadPixels(ctx context.Context) (*image.RGBA, error) {
	if p.target == nil {
		return nil, fmt.Errorf("gpu: presenter has no target")
	}
	device := p.sub.device
	w, h := p.width, p.height
	rowBytes := w * 4
	stride := (rowBytes + copyRowAlignment - 1) / copyRowAlignment * copyRowAlignment
	size := uint64(stride) * uint64(h)

	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: p.label + " readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: readback buffer: %w", ErrAllocation, err)
	}
	target := p.target
	err = p.sub.run(ctx, p.label+" readback", func(enc hal.CommandEncoder) {
		enc.CopyTextureToBuffer(target, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{BytesPerRow: stride, RowsPerImage: h},
			TextureBase:  hal.ImageCopyTexture{Texture: target, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		if !isWaitFailure(err) {
			device.DestroyBuffer(staging)
		}
		return nil, err
	}
	defer device.DestroyBuffer(staging)

	mapping, err := device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: map readback buffer: %w", ErrAllocation, err)
	}
	src := unsafe.Slice((*byte)(mapping.Ptr), size)
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for y := range int(h) {
		copy(img.Pix[y*img.Stride:y*img.Stride+int(rowBytes)], src[y*int(stride):])
	}
	if err := device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("%w: unmap readback buffer: %w", ErrAllocation, err)
	}
	return img, nil
}

// Destroy releases the pipeline and target.
func (p *Presenter) Destroy() {
	device := p.sub.device
	p.releaseTarget()
	if p.pipeline != nil {
		device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipelineLayout != nil {
		device.DestroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = nil
	}
}

func (p *Presenter) releaseTarget() {
	device := p.sub.device
	if p.view != nil {
		device.DestroyTextureView(p.view)
		p.view = nil
	}
	if p.target != nil {
		device.DestroyTexture(p.target)
		p.target = nil
	}
	p.width, p.height = 0, 0
}

// ColorOf returns the RGBA color the draw shader assigns to p.
func ColorOf(p Particle) [4]float32 {
	speed := math.Hypot(float64(p.Vel[0]), float64(p.Vel[1]))
	t := float32(math.Sqrt(speed / physics.MaxSpeed))
	vx, vy := float32(math.Abs(float64(p.Vel[0]))), float32(math.Abs(float64(p.Vel[1])))
	from := [4]float32{0.2 * p.Pos[0], 0.2 * p.Pos[1], 0.2 * (vx + vy), 0.2}
	to := [4]float32{1, 0.5, 0.8, 1}
	var c [4]float32
	for i := range c {
		c[i] = from[i]*(1-t) + to[i]*t
	}
	return c
}
