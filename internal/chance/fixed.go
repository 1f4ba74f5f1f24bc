package chance

// Fixed always draws v (reduced into range).
type Fixed int

func (f Fixed) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	v := int(f) % n
	if v < 0 {
		v += n
	}
	return v
}

// Seq replays a fixed list of draws, each reduced into range, and repeats
// the last value once the list is exhausted. An empty Seq always draws 0.
type Seq struct {
	vals []int
	i    int
}

// NewSeq returns a Seq over vals.
func NewSeq(vals ...int) *Seq {
	return &Seq{vals: vals}
}

func (s *Seq) Intn(n int) int {
	if len(s.vals) == 0 {
		return 0
	}
	idx := s.i
	if idx >= len(s.vals) {
		idx = len(s.vals) - 1
	} else {
		s.i++
	}
	return Fixed(s.vals[idx]).Intn(n)
}

// Draws reports how many values have been consumed.
func (s *Seq) Draws() int {
	return s.i
}
