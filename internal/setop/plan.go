package setop

// Plan describes the operator and join-key selection for a Node before it
// is validated and built. Validate is split out from construction so a
// query layer can check a set-operator clause for well-formedness (e.g.
// while validating a whole parsed query) without committing to building an
// executable Node for a particular value type T.
type Plan struct {
	Operator Operator
	On       []string
	Ignoring []string
}

// Validate reports ErrInvalidJoin if On and Ignoring are both non-empty, or
// if On contains the reserved label "__name__".
func (p Plan) Validate() error {
	if len(p.On) > 0 && len(p.Ignoring) > 0 {
		return ErrInvalidJoin
	}
	for _, l := range p.On {
		if l == reservedNameLabel {
			return ErrInvalidJoin
		}
	}
	return nil
}

// Build validates p and constructs a Node[T] from it.
func Build[T any](p Plan) (*Node[T], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return New[T](Config{Operator: p.Operator, On: p.On, Ignoring: p.Ignoring})
}
