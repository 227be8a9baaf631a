package domain

// Mode is the per-turn directive controlling whether the response
// oracle answers correctly or plausibly-incorrectly.
type Mode string

const (
	ModeTruth Mode = "truth"
	ModeLie   Mode = "lie"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeTruth || m == ModeLie
}
