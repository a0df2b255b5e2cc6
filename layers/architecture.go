package layers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samuelsimko/scaling-mlps/config"
)

// DefaultExpansion is the bottleneck width multiplier when the
// architecture string omits E_.
const DefaultExpansion = 4

// Architecture is the parsed form of strings such as "B_6-Wi_1024-E_4".
type Architecture struct {
	Blocks    int
	Width     int
	Expansion int
}

func (a Architecture) String() string {
	return fmt.Sprintf("B_%d-Wi_%d-E_%d", a.Blocks, a.Width, a.Expansion)
}

// ParseArchitecture reads B_<blocks>-Wi_<width>[-E_<expansion>].
func ParseArchitecture(s string) (Architecture, error) {
	arch := Architecture{Expansion: DefaultExpansion}
	seen := map[string]bool{}

	for _, part := range strings.Split(s, "-") {
		key, value, ok := strings.Cut(part, "_")
		if !ok {
			return arch, fmt.Errorf("architecture %q: malformed component %q", s, part)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return arch, fmt.Errorf("architecture %q: %s must be a positive integer, got %q", s, key, value)
		}
		if seen[key] {
			return arch, fmt.Errorf("architecture %q: duplicate component %s", s, key)
		}
		seen[key] = true

		switch key {
		case "B":
			arch.Blocks = n
		case "Wi":
			arch.Width = n
		case "E":
			arch.Expansion = n
		default:
			return arch, fmt.Errorf("architecture %q: unknown component %s", s, key)
		}
	}

	if arch.Blocks == 0 || arch.Width == 0 {
		return arch, fmt.Errorf("architecture %q: B_ and Wi_ are required", s)
	}
	return arch, nil
}

// Options describe the model to build.
type Options struct {
	Model        string
	Architecture string
	Resolution   int
	NumChannels  int
	NumClasses   int
	Seed         int64
}

// InputFeatures is resolution² × channels.
func (o Options) InputFeatures() int {
	return o.Resolution * o.Resolution * o.NumChannels
}

// SpecFactory lays out a model family on a builder.
type SpecFactory func(b *ModelBuilder, arch Architecture, numClasses int)

var registry = map[string]SpecFactory{
	"mlp":            mlpSpec,
	"bottleneck_mlp": bottleneckSpec,
}

// Aliases accepted for registered model names, keyed without separators.
var aliases = map[string]string{
	"mlp":           "mlp",
	"standardmlp":   "mlp",
	"bottleneckmlp": "bottleneck_mlp",
}

// Names lists the registered model identifiers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonical resolves a model identifier, ignoring case and separators.
func Canonical(model string) (string, bool) {
	key := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(model))
	name, ok := aliases[key]
	return name, ok
}

// Compile produces the ModelSpec for opts without allocating parameters.
func Compile(opts Options) (*ModelSpec, error) {
	name, ok := Canonical(opts.Model)
	if !ok {
		return nil, config.Unknown("model", opts.Model, Names())
	}
	arch, err := ParseArchitecture(opts.Architecture)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "architecture", Value: opts.Architecture, Err: err}
	}
	if opts.InputFeatures() <= 0 {
		return nil, &config.ConfigurationError{
			Field: "resolution",
			Value: strconv.Itoa(opts.Resolution),
			Err:   fmt.Errorf("input size %dx%dx%d is empty", opts.Resolution, opts.Resolution, opts.NumChannels),
		}
	}
	if opts.NumClasses <= 0 {
		return nil, &config.ConfigurationError{Field: "num_classes", Value: strconv.Itoa(opts.NumClasses), Err: fmt.Errorf("must be positive")}
	}

	b := NewModelBuilder([]int{1, opts.InputFeatures()})
	registry[name](b, arch, opts.NumClasses)
	return b.Compile()
}

// Build compiles and instantiates the model described by opts.
func Build(opts Options) (*Network, error) {
	spec, err := Compile(opts)
	if err != nil {
		return nil, err
	}
	return NewNetwork(spec, opts.Resolution, opts.Seed)
}

// mlpSpec: Linear(in, w) → GELU, then blocks-1 × [Linear(w, w) → GELU],
// then Linear(w, classes).
func mlpSpec(b *ModelBuilder, arch Architecture, numClasses int) {
	b.AddDense(arch.Width, true, "input").AddGELU("input_act")
	for i := 1; i < arch.Blocks; i++ {
		b.AddDense(arch.Width, true, fmt.Sprintf("hidden%d", i)).
			AddGELU(fmt.Sprintf("hidden%d_act", i))
	}
	b.AddDense(numClasses, true, "output")
}

// bottleneckSpec: Linear(in, w), blocks × residual
// [LayerNorm → Linear(w, e·w) → GELU → Linear(e·w, w)], LayerNorm,
// Linear(w, classes).
func bottleneckSpec(b *ModelBuilder, arch Architecture, numClasses int) {
	b.AddDense(arch.Width, true, "input")
	for i := 0; i < arch.Blocks; i++ {
		b.AddResidual(fmt.Sprintf("block%d", i), func(inner *ModelBuilder) {
			inner.AddLayerNorm(1e-5, "norm").
				AddDense(arch.Width*arch.Expansion, true, "up").
				AddGELU("act").
				AddDense(arch.Width, true, "down")
		})
	}
	b.AddLayerNorm(1e-5, "norm").AddDense(numClasses, true, "output")
}
