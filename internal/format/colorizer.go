package format

// ScalarType is the type of a JSON scalar.
type ScalarType uint8

const (
	Null ScalarType = iota
	Boolean
	Number
	String
)

// A Colorizer surrounds scalars with terminal color codes.  A nil *Colorizer
// prints them unchanged.
type Colorizer struct {
	KeyColorCode     []byte
	ScalarColorCodes [4][]byte
	ResetCode        []byte
}

func (c *Colorizer) colorCode(tp ScalarType, isKey bool) []byte {
	if isKey {
		return c.KeyColorCode
	}
	return c.ScalarColorCodes[tp]
}

// PrintScalar prints the bytes b of a scalar of type tp (or an object key).
func (c *Colorizer) PrintScalar(p Printer, tp ScalarType, isKey bool, b []byte) {
	if c != nil {
		p.PrintBytes(c.colorCode(tp, isKey))
	}
	p.PrintBytes(b)
	if c != nil {
		p.PrintBytes(c.ResetCode)
	}
}

// Some ANSI color codes
var (
	Reset = []byte("\033[0m")

	Green  = []byte("\033[32m")
	Yellow = []byte("\033[33m")
	White  = []byte("\033[37m")

	DimWhite = []byte("\033[37;2m")

	BrightBlue = []byte("\033[34;1m")
)

// DefaultColorizer is the colorizer used when printing to a terminal.
var DefaultColorizer = Colorizer{
	ScalarColorCodes: [4][]byte{DimWhite, Yellow, White, Green},
	KeyColorCode:     BrightBlue,
	ResetCode:        Reset,
}
