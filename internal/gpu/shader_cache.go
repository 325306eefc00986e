package gpu

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultShaderCacheSize is the number of shader modules kept per device.
const DefaultShaderCacheSize = 8

type shaderKey struct {
	label  string
	source string
}

// ShaderCache compiles WGSL to SPIR-V and keeps the resulting shader modules
// for reuse. Modules evicted from the cache are destroyed on the device.
type ShaderCache struct {
	device hal.Device
	cache  *lru.Cache[shaderKey, hal.ShaderModule]
}

// NewShaderCache creates a cache holding up to size modules for device.
// A non-positive size selects DefaultShaderCacheSize.
func NewShaderCache(device hal.Device, size int) (*ShaderCache, error) {
	if size <= 0 {
		size = DefaultShaderCacheSize
	}
	c := &ShaderCache{device: device}
	cache, err := lru.NewWithEvict[shaderKey, hal.ShaderModule](size, c.releaseOnEviction)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

func (c *ShaderCache) releaseOnEviction(key shaderKey, module hal.ShaderModule) {
	slogger().Debug("shader cache: releasing module", "label", key.label)
	c.device.DestroyShaderModule(module)
}

// Module returns the shader module for source, compiling it on first use.
func (c *ShaderCache) Module(label, source string) (hal.ShaderModule, error) {
	key := shaderKey{label: label, source: source}
	if m, ok := c.cache.Get(key); ok {
		return m, nil
	}

	spirv, err := CompileWGSL(source)
	if err != nil {
		return nil, fmt.Errorf("%w: shader %q: %w", ErrPipelineFailed, label, err)
	}
	m, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: shader module %q: %w", ErrPipelineFailed, label, err)
	}
	c.cache.Add(key, m)
	slogger().Debug("shader cache: compiled", "label", label, "words", len(spirv))
	return m, nil
}

// Len returns the number of cached modules.
func (c *ShaderCache) Len() int { return c.cache.Len() }

// Destroy releases every cached module.
func (c *ShaderCache) Destroy() { c.cache.Purge() }

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V length %d is not word aligned", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
