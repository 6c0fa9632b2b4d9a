/*package config reads and validates ddgrav's configuration files. Files are
INI-style and are parsed with gcfg. Any variable not set in a file keeps the
value from Default().
*/
package config

import (
	"strings"

	"gopkg.in/gcfg.v1"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

const (
	// MaxTreeDepth is the deepest level a tree path can encode.
	MaxTreeDepth = 21
	// MaxKeyLevels is the finest Hilbert histogram resolution.
	MaxKeyLevels = 7

	ExampleConfigFile = `[Gravity]

# Barnes-Hut opening angle. Nodes whose width divided by their distance to a
# particle is smaller than this are treated as a single multipole. Must be > 0.
OpeningAngle = 0.5

# Plummer softening length.
Softening = 0

# Gravitational constant in whatever units positions and masses are given in.
G = 1

# Include the traceless quadrupole term in accepted node contributions.
Quadrupole = true

[Tree]

# Leaves are split once they hold more particles than this.
MaxParticlesPerLeaf = 8
# MaxDepth = 21

[Decomposition]

# Partitioning scheme: "hilbert" (contiguous Hilbert key ranges) or "slab"
# (slabs along the longest axis).
Scheme = hilbert

# Number of steps between re-decompositions. Particles migrate every step.
RebalanceInterval = 10

# Fraction of the global extent's width added to each side.
# Padding = 0.01

# Histogram resolution for "hilbert", in levels of 8^KeyLevels cells.
# KeyLevels = 5

# Weight particles by the work they cost during the previous force pass.
# WorkWeighted = true

[Run]

# Number of ranks and the backend used to connect them: "local" (one
# goroutine per rank in a single process), "tcp" or "mpi".
Ranks = 4
Backend = local

# One Address per rank, in rank order. Only used by the "tcp" backend.
# Address = 127.0.0.1:7070
# Address = 127.0.0.1:7071

# Threads per rank. -1 uses every core.
Threads = -1

LogLevel = info

# Generated initial conditions for "run" mode: a uniform cube of
# side BoxSize holding Particles unit-mass particles.
# If Snapshot is set, particles are read from that Gadget-2 file instead and
# Particles, BoxSize and Seed are ignored.
# Snapshot = ics.gadget2
Particles = 1000
BoxSize = 10
Seed = 1
Steps = 1

# Seconds a rank waits on a peer before giving up. 0 waits forever.
TimeoutSeconds = 0

# zstd-compress large tcp frames.
Compress = true`
)

type GravityConfig struct {
	OpeningAngle float64
	Softening    float64
	G            float64
	Quadrupole   bool
}

type TreeConfig struct {
	MaxParticlesPerLeaf int
	MaxDepth            int
}

type DecompositionConfig struct {
	Scheme            string
	RebalanceInterval int
	Padding           float64
	KeyLevels         int
	WorkWeighted      bool
}

type RunConfig struct {
	Ranks          int
	Backend        string
	Address        []string
	Threads        int
	LogLevel       string
	Snapshot       string
	Particles      int
	BoxSize        float64
	Seed           int64
	Steps          int
	TimeoutSeconds float64
	Compress       bool
}

// Config is the full contents of a configuration file.
type Config struct {
	Gravity       GravityConfig
	Tree          TreeConfig
	Decomposition DecompositionConfig
	Run           RunConfig
}

// Default returns the configuration used for every variable a file leaves
// unset.
func Default() *Config {
	return &Config{
		Gravity: GravityConfig{
			OpeningAngle: 0.5, Softening: 0, G: 1, Quadrupole: true,
		},
		Tree: TreeConfig{MaxParticlesPerLeaf: 8, MaxDepth: MaxTreeDepth},
		Decomposition: DecompositionConfig{
			Scheme: "hilbert", RebalanceInterval: 10, Padding: 0.01,
			KeyLevels: 5, WorkWeighted: true,
		},
		Run: RunConfig{
			Ranks: 1, Backend: "local", Threads: -1, LogLevel: "info",
			Particles: 1000, BoxSize: 10, Seed: 1, Steps: 1, Compress: true,
		},
	}
}

// ReadFile reads and validates a configuration file.
func ReadFile(fname string) (*Config, error) {
	c := Default()
	if err := gcfg.ReadFileInto(c, fname); err != nil {
		return nil, ddgerr.Wrapf(ddgerr.Configuration, err,
			"reading config file '%s'", fname)
	}
	return c, c.Validate()
}

// ReadString reads and validates a configuration given as a string.
func ReadString(s string) (*Config, error) {
	c := Default()
	if err := gcfg.ReadStringInto(c, s); err != nil {
		return nil, ddgerr.Wrap(ddgerr.Configuration, err, "reading config")
	}
	return c, c.Validate()
}

// Validate returns a Configuration error describing the first invalid
// variable in c.
func (c *Config) Validate() error {
	g, t, d, r := &c.Gravity, &c.Tree, &c.Decomposition, &c.Run

	switch {
	case !(g.OpeningAngle > 0):
		return ddgerr.ConfigErrorf(
			"Gravity.OpeningAngle must be > 0, but is %g.", g.OpeningAngle)
	case g.Softening < 0:
		return ddgerr.ConfigErrorf(
			"Gravity.Softening must be >= 0, but is %g.", g.Softening)
	case !(g.G > 0):
		return ddgerr.ConfigErrorf("Gravity.G must be > 0, but is %g.", g.G)
	case t.MaxParticlesPerLeaf < 1:
		return ddgerr.ConfigErrorf(
			"Tree.MaxParticlesPerLeaf must be >= 1, but is %d.",
			t.MaxParticlesPerLeaf)
	case t.MaxDepth < 1 || t.MaxDepth > MaxTreeDepth:
		return ddgerr.ConfigErrorf(
			"Tree.MaxDepth must be in [1, %d], but is %d.",
			MaxTreeDepth, t.MaxDepth)
	case d.RebalanceInterval < 1:
		return ddgerr.ConfigErrorf(
			"Decomposition.RebalanceInterval must be >= 1, but is %d.",
			d.RebalanceInterval)
	case d.Padding < 0:
		return ddgerr.ConfigErrorf(
			"Decomposition.Padding must be >= 0, but is %g.", d.Padding)
	case d.KeyLevels < 1 || d.KeyLevels > MaxKeyLevels:
		return ddgerr.ConfigErrorf(
			"Decomposition.KeyLevels must be in [1, %d], but is %d.",
			MaxKeyLevels, d.KeyLevels)
	case r.Ranks < 1:
		return ddgerr.ConfigErrorf("Run.Ranks must be >= 1, but is %d.", r.Ranks)
	case r.Threads == 0 || r.Threads < -1:
		return ddgerr.ConfigErrorf(
			"Run.Threads must be -1 or positive, but is %d.", r.Threads)
	case r.Particles < 0:
		return ddgerr.ConfigErrorf(
			"Run.Particles must be >= 0, but is %d.", r.Particles)
	case !(r.BoxSize > 0):
		return ddgerr.ConfigErrorf("Run.BoxSize must be > 0, but is %g.", r.BoxSize)
	case r.Steps < 0:
		return ddgerr.ConfigErrorf("Run.Steps must be >= 0, but is %d.", r.Steps)
	case r.TimeoutSeconds < 0:
		return ddgerr.ConfigErrorf(
			"Run.TimeoutSeconds must be >= 0, but is %g.", r.TimeoutSeconds)
	}

	d.Scheme = strings.ToLower(d.Scheme)
	switch d.Scheme {
	case "hilbert", "slab":
	default:
		return ddgerr.ConfigErrorf(
			"Decomposition.Scheme must be 'hilbert' or 'slab', but is '%s'.",
			d.Scheme)
	}

	r.Backend = strings.ToLower(r.Backend)
	switch r.Backend {
	case "local", "mpi":
	case "tcp":
		if len(r.Address) != r.Ranks {
			return ddgerr.ConfigErrorf(
				"The tcp backend needs one Run.Address per rank, but %d "+
					"addresses were given for %d ranks.", len(r.Address), r.Ranks)
		}
	default:
		return ddgerr.ConfigErrorf(
			"Run.Backend must be 'local', 'tcp', or 'mpi', but is '%s'.",
			r.Backend)
	}

	return nil
}
