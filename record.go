package hana

// Record is the insertion-ordered string-keyed map described in
// §3.4. Prototype is denormalized from the "prototype" key so member
// lookup and `of` don't need a map probe on every chain step.
type Record struct {
	keys      []string
	vals      map[string]Value
	Prototype *Record

	// NativeSlot is an opaque boxed host value used by standard-
	// library prototypes (File, Dir, Child, ...); core never
	// interprets its contents, only carries and finalizes it.
	NativeSlot    interface{}
	NativeFinal   func(interface{})
}

func NewRecord() *Record {
	return &Record{vals: map[string]Value{}}
}

const protoKey = "prototype"

// Get walks the prototype chain, per §3.4/§4.1.
func (r *Record) Get(key string) (Value, bool) {
	for cur := r; cur != nil; cur = cur.Prototype {
		if v, ok := cur.vals[key]; ok {
			return v, true
		}
	}
	return Nil, false
}

// GetOwn looks up key only on this record, not its prototype chain.
func (r *Record) GetOwn(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Set inserts or updates key, maintaining insertion order and the
// denormalized Prototype pointer when key is "prototype".
func (r *Record) Set(key string, v Value) {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
	if key == protoKey && v.Kind() == KRecord {
		r.Prototype = v.AsRecord()
	}
}

func (r *Record) Keys() []string { return r.keys }
func (r *Record) Len() int       { return len(r.keys) }

// Of implements §4.3's `of` rule: true against the built-in generic
// Record prototype regardless of this record's own chain, or true if
// proto appears anywhere walking this record's prototype chain.
func (r *Record) Of(proto *Record, genericRecordProto *Record) bool {
	if proto == genericRecordProto {
		return true
	}
	for cur := r.Prototype; cur != nil; cur = cur.Prototype {
		if cur == proto {
			return true
		}
	}
	return false
}

func (r *Record) String() string {
	s := "{"
	for i, k := range r.keys {
		if i > 0 {
			s += ", "
		}
		s += k + ": " + r.vals[k].String()
	}
	return s + "}"
}

func (r *Record) trace(push func(*gcNode)) {
	for _, k := range r.keys {
		push(r.vals[k].node())
	}
}

func (r *Record) finalize() {
	if r.NativeFinal != nil && r.NativeSlot != nil {
		r.NativeFinal(r.NativeSlot)
	}
}
