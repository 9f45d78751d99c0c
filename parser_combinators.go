package hana

// Backtrackable is the minimal surface the generic PEG combinators
// below need from a parser: a cursor that can be read and rewound.
// Adapted from the teacher's `parser.go`, trimmed of the label/action
// machinery hana's grammar has no use for.
type Backtrackable interface {
	Cursor() int
	Backtrack(cursor int)
	WithinPredicate() bool
	EnterPredicate()
	LeavePredicate()
}

// ParserFn is the signature of a parser function. It can't be a
// method because of Go's generics limitations on methods, but a
// closure fits in just as well and lets every combinator below stay
// generic over the return type T.
type ParserFn[T any] func(p Backtrackable) (T, error)

// ZeroOrMore calls fn until it errors out, collecting every
// successful result. It backtracks the cursor to just before the
// failing attempt so that failed attempt never consumes input.
func ZeroOrMore[T any](p Backtrackable, fn ParserFn[T]) ([]T, error) {
	var output []T
	for {
		state := p.Cursor()
		item, err := fn(p)
		if err != nil {
			p.Backtrack(state)
			if isThrown(err) && !p.WithinPredicate() {
				return nil, err
			}
			break
		}
		output = append(output, item)
	}
	return output, nil
}

// OneOrMore matches fn once and then hands off to ZeroOrMore.
func OneOrMore[T any](p Backtrackable, fn ParserFn[T]) ([]T, error) {
	head, err := fn(p)
	if err != nil {
		return nil, err
	}
	output := []T{head}
	tail, err := ZeroOrMore(p, fn)
	if err != nil {
		return nil, err
	}
	return append(output, tail...), nil
}

// Choice walks fns in order and returns the first to succeed,
// backtracking the cursor before every attempt.
func Choice[T any](p Backtrackable, fns []ParserFn[T]) (T, error) {
	var zero T
	start := p.Cursor()
	var lastErr error
	for _, fn := range fns {
		item, err := fn(p)
		if err == nil {
			return item, nil
		}
		p.Backtrack(start)
		if isThrown(err) && !p.WithinPredicate() {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// Optional is sugar for an ordered choice whose second option always
// succeeds with the zero value.
func Optional[T any](p Backtrackable, fn ParserFn[T]) (T, error) {
	return Choice(p, []ParserFn[T]{
		fn,
		func(p Backtrackable) (T, error) {
			var zero T
			return zero, nil
		},
	})
}

// And succeeds without consuming input if fn would succeed, and fails
// otherwise (a positive lookahead predicate).
func And[T any](p Backtrackable, fn ParserFn[T]) (bool, error) {
	p.EnterPredicate()
	start := p.Cursor()
	_, err := fn(p)
	p.Backtrack(start)
	p.LeavePredicate()
	return err == nil, nil
}

// Not succeeds without consuming input if fn would fail, and fails
// otherwise (a negative lookahead predicate).
func Not[T any](p Backtrackable, fn ParserFn[T]) (bool, error) {
	p.EnterPredicate()
	start := p.Cursor()
	_, err := fn(p)
	p.Backtrack(start)
	p.LeavePredicate()
	return err != nil, nil
}
