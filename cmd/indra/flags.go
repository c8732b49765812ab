package main

import "flag"

// flagSet wraps flag.FlagSet the same way the teacher's CLI does; every
// subcommand (start, the control-socket commands, and send) parses its
// flags through one.
type flagSet struct {
	*flag.FlagSet
}

func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}
