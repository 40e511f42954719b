package incident

// ArgCursor consumes an argument sequence front to back without modifying
// it. A cursor belongs to exactly one entry decode.
type ArgCursor struct {
	args []Arg
	pos  int
}

// NewArgCursor returns a cursor positioned before the first argument.
func NewArgCursor(args []Arg) *ArgCursor {
	return &ArgCursor{args: args}
}

// Next returns the next unconsumed argument. ok is false once the sequence
// is exhausted.
func (c *ArgCursor) Next() (arg Arg, ok bool) {
	if c.pos >= len(c.args) {
		return Arg{}, false
	}
	arg = c.args[c.pos]
	c.pos++
	return arg, true
}

// Consumed returns how many arguments have been taken.
func (c *ArgCursor) Consumed() int {
	return c.pos
}

// Remaining returns how many arguments are left.
func (c *ArgCursor) Remaining() int {
	return len(c.args) - c.pos
}
