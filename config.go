package mvm

// Config collects the host-tunable constants of the abstract host port.
// The zero value is not usable; start from DefaultConfig and
// override fields, or apply Options through NewConfig.
type Config struct {
	// StackSize is the byte size of the value stack block, allocated
	// lazily on the first external call and freed when the call chain
	// drains.
	StackSize int

	// AllocationBucketSize is the minimum byte capacity of each
	// host-allocated heap bucket.
	AllocationBucketSize uint16

	// MaxHeapSize bounds the total heap across all buckets; an allocation
	// that would exceed it triggers a collection first, and fails with
	// OUT_OF_MEMORY if the heap is still too large afterwards. Zero means
	// unbounded.
	MaxHeapSize uint32

	// FloatSupport enables the float64 fallback paths. When false, any
	// operation that would leave the integer domain fails with
	// OPERATION_REQUIRES_FLOAT_SUPPORT, and images whose feature flags
	// require floats are rejected at load.
	FloatSupport bool

	// SafetyChecks enables the internal consistency assertions that guard
	// against corrupt images and VM bugs at some dispatch cost.
	SafetyChecks bool

	// InstructionCountLimit terminates a run after this many instructions
	// with INSTRUCTION_COUNT_REACHED. Zero means unlimited.
	InstructionCountLimit uint32
}

// DefaultConfig is the small-embedded-host profile.
func DefaultConfig() Config {
	return Config{
		StackSize:            256,
		AllocationBucketSize: 256,
		MaxHeapSize:          1 << 16,
		FloatSupport:         true,
		SafetyChecks:         true,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// NewConfig returns DefaultConfig with the given options applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithStackSize overrides the value-stack byte size.
func WithStackSize(n int) Option {
	return func(c *Config) { c.StackSize = n }
}

// WithAllocationBucketSize overrides the minimum heap bucket capacity.
func WithAllocationBucketSize(n uint16) Option {
	return func(c *Config) { c.AllocationBucketSize = n }
}

// WithMaxHeapSize overrides the total heap bound.
func WithMaxHeapSize(n uint32) Option {
	return func(c *Config) { c.MaxHeapSize = n }
}

// WithoutFloatSupport disables the float64 fallback paths, matching a
// build for hosts without float hardware.
func WithoutFloatSupport() Option {
	return func(c *Config) { c.FloatSupport = false }
}

// WithInstructionCountLimit bounds each run to n instructions.
func WithInstructionCountLimit(n uint32) Option {
	return func(c *Config) { c.InstructionCountLimit = n }
}
