package lib

import (
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Mode is the task ddgrav has been asked to do.
type Mode int

const (
	HelpMode Mode = iota
	// CheckMode validates a config file without running anything.
	CheckMode
	// ExampleMode prints an example config file.
	ExampleMode
	// RunMode starts every rank from one process.
	RunMode
	// WorkerMode runs a single rank of a tcp or mpi run.
	WorkerMode
)

var modeNames = []string{"help", "check", "example", "run", "worker"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode converts the name of a mode into a Mode.
func ParseMode(s string) (Mode, error) {
	for i := range modeNames {
		if modeNames[i] == s {
			return Mode(i), nil
		}
	}
	return HelpMode, ddgerr.ConfigErrorf("You attempted to run ddgrav in "+
		"the mode '%s', but the only valid modes are 'help', 'check', "+
		"'example', 'run', and 'worker'.", s)
}
