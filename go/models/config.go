package models

import (
	"io"
	"os"
)

type Config struct {
	Verbose bool
	Color   bool

	// NoFile disables the on-disk fallback when resolving names.
	NoFile bool
	// DisBytes disassembles this many bytes at every resolved symbol.
	DisBytes int
	// Arch selects the slice of a fat binary ("any" takes the first known).
	Arch string
	// Base is where a binary loaded from disk is placed in simulated memory.
	Base uint64
	// SnapshotDir is where dump writes when no output path is given.
	SnapshotDir string

	Output io.WriteCloser
}

func (c *Config) Init() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Arch == "" {
		c.Arch = "any"
	}
	return c
}
