package commitfit

// Term identifies one likelihood component of the model.
type Term uint8

// CommitmentTerm and UsageTerm are the two likelihood components.
const (
	CommitmentTerm Term = iota
	UsageTerm
)

// Terms lists every likelihood component in evaluation order.
var Terms = []Term{CommitmentTerm, UsageTerm}

func (t Term) String() string {
	switch t {
	case CommitmentTerm:
		return "commitment"
	case UsageTerm:
		return "usage"
	default:
		return "unknown"
	}
}

// LogDensity evaluates the component at p and s against m's data.
func (t Term) LogDensity(m *Model, p *Params, s States) float64 {
	switch t {
	case CommitmentTerm:
		return CommitmentLogP(p.Q, p.PI, m.Mask, s)
	case UsageTerm:
		return UsageLogP(p.A, p.Th0, p.G, s, m.Usage)
	default:
		panic("commitfit: unknown likelihood term")
	}
}
