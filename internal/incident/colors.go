package incident

// Palette holds the colors used for incident labels and text.
type Palette struct {
	Clear     string
	Event     string
	Warning   string
	Alarm     string
	BlackText string
}

// DefaultPalette returns the controller's standard severity colors.
func DefaultPalette() Palette {
	return Palette{
		Clear:     "#77797d",
		Event:     "#05e81b",
		Warning:   "#e88605",
		Alarm:     "#e80505",
		BlackText: "#000000",
	}
}

// Colors returns (label, text) colors for an incident.
//
// A cleared incident gets the clear label with its severity color as text;
// any other state gets the severity label with black text. Unknown types
// are shown as alarms.
func (p Palette) Colors(t Type, s State) (label, text string) {
	severity := p.severity(t)
	if s == StateClear {
		return p.Clear, severity
	}
	return severity, p.BlackText
}

func (p Palette) severity(t Type) string {
	switch t {
	case TypeEvent:
		return p.Event
	case TypeWarning:
		return p.Warning
	default:
		return p.Alarm
	}
}
