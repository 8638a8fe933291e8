package vm

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// Object is a reference-counted heap value.
type Object interface {
	TypeName() string
	header() *refHeader
	free()
}

type refHeader struct {
	count int32
}

func (h *refHeader) header() *refHeader { return h }

func releaseAll(vs []Value) {
	for _, v := range vs {
		v.Release()
	}
}

// Dropper is implemented by host payloads that want to know when the
// last script reference goes away.
type Dropper interface {
	Drop()
}

// String is an immutable string.
type String struct {
	refHeader
	s string
}

// NewString returns an owned string value.
func NewString(s string) Value {
	return FromObject(&String{refHeader{1}, s})
}

func (*String) TypeName() string { return "String" }
func (*String) free()            {}

// Vec is a growable vector with reference semantics.
type Vec struct {
	refHeader
	Items []Value
}

// NewVec returns an owned vector taking ownership of items.
func NewVec(items []Value) Value {
	return FromObject(&Vec{refHeader{1}, items})
}

func (*Vec) TypeName() string { return "Vec" }
func (v *Vec) free() {
	releaseAll(v.Items)
	v.Items = nil
}

// Tuple is a fixed-length sequence.
type Tuple struct {
	refHeader
	Items []Value
}

// NewTuple returns an owned tuple taking ownership of items. The empty
// tuple is the unit value.
func NewTuple(items []Value) Value {
	if len(items) == 0 {
		return UnitValue
	}
	return FromObject(&Tuple{refHeader{1}, items})
}

func (*Tuple) TypeName() string { return "Tuple" }
func (t *Tuple) free() {
	releaseAll(t.Items)
	t.Items = nil
}

// Map is an insertion-ordered string-keyed object.
type Map struct {
	refHeader
	keys  []string
	index map[string]int
	vals  []Value
}

// NewMap returns an owned empty object.
func NewMap() (*Map, Value) {
	m := &Map{refHeader: refHeader{1}, index: make(map[string]int)}
	return m, FromObject(m)
}

func (*Map) TypeName() string { return "Object" }
func (m *Map) free() {
	releaseAll(m.vals)
	m.vals = nil
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string { return m.keys }

// Get returns a borrowed value for key.
func (m *Map) Get(key string) (Value, bool) {
	i, ok := m.index[key]
	if !ok {
		return UnitValue, false
	}
	return m.vals[i], true
}

// Set stores an owned value, releasing any previous one.
func (m *Map) Set(key string, v Value) {
	if i, ok := m.index[key]; ok {
		m.vals[i].Release()
		m.vals[i] = v
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
}

// Delete removes key and returns its owned value.
func (m *Map) Delete(key string) (Value, bool) {
	i, ok := m.index[key]
	if !ok {
		return UnitValue, false
	}
	v := m.vals[i]
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, key)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
	return v, true
}

// Struct is an instance of a struct, tuple struct or enum variant
// (including the built-in Option and Result variants).
type Struct struct {
	refHeader
	Type   *RuntimeType
	Fields []Value
}

// NewStruct returns an owned struct value taking ownership of fields.
func NewStruct(t *RuntimeType, fields []Value) Value {
	return FromObject(&Struct{refHeader{1}, t, fields})
}

func (s *Struct) TypeName() string {
	if s.Type.Def.Kind.IsVariant() {
		return s.Type.Def.Enum
	}
	return s.Type.Def.Name
}

func (s *Struct) free() {
	releaseAll(s.Fields)
	s.Fields = nil
}

// Field returns a borrowed field by name.
func (s *Struct) Field(name string) (Value, bool) {
	for i, f := range s.Type.Def.Fields {
		if f == name {
			return s.Fields[i], true
		}
	}
	return UnitValue, false
}

// Range is an integer range.
type Range struct {
	refHeader
	Start, End int64
	Inclusive  bool
}

// NewRange returns an owned range value.
func NewRange(start, end int64, inclusive bool) Value {
	return FromObject(&Range{refHeader{1}, start, end, inclusive})
}

func (*Range) TypeName() string { return "Range" }
func (*Range) free()            {}

// Contains reports whether i lies in the range.
func (r *Range) Contains(i int64) bool {
	if r.Inclusive {
		return i >= r.Start && i <= r.End
	}
	return i >= r.Start && i < r.End
}

// FunctionRef is a first-class reference to a function of a loaded module.
type FunctionRef struct {
	refHeader
	Module *Module
	Index  int
}

func (*FunctionRef) TypeName() string { return "Function" }
func (*FunctionRef) free()            {}

// Function returns the compiled function.
func (f *FunctionRef) Function() *Function { return f.Module.unit.Functions[f.Index] }

// Closure is a function together with its captured upvalues.
type Closure struct {
	refHeader
	Module   *Module
	Index    int
	Upvalues []Value
}

func (*Closure) TypeName() string { return "Function" }
func (c *Closure) free() {
	releaseAll(c.Upvalues)
	c.Upvalues = nil
}

// NativeRef is a first-class reference to a host function.
type NativeRef struct {
	refHeader
	Native *Native
}

func (*NativeRef) TypeName() string { return "Function" }
func (*NativeRef) free()            {}

// futureState tracks a future's lifecycle.
type futureState uint8

const (
	futurePending futureState = iota
	futureDone
)

// Future is the deferred invocation of an async function.
type Future struct {
	refHeader
	Module *Module
	Index  int
	Args   []Value
	state  futureState
}

func (*Future) TypeName() string { return "Future" }
func (f *Future) free() {
	releaseAll(f.Args)
	f.Args = nil
}

// Cell boxes a captured local that is reassigned.
type Cell struct {
	refHeader
	V Value
}

// NewCell returns an owned cell taking ownership of v.
func NewCell(v Value) Value {
	return FromObject(&Cell{refHeader{1}, v})
}

func (*Cell) TypeName() string { return "Cell" }
func (c *Cell) free() {
	c.V.Release()
	c.V = UnitValue
}

// Iterator walks a range, vector, tuple, string or object.
type Iterator struct {
	refHeader
	src   Value
	pos   int
	cur   int64
	runes []rune
}

func (*Iterator) TypeName() string { return "Iterator" }
func (it *Iterator) free() {
	it.src.Release()
	it.src = UnitValue
}

// External wraps a host value.
type External struct {
	refHeader
	name string
	v    any
}

// NewExternal returns an owned host value with the given script type name.
func NewExternal(typeName string, v any) Value {
	return FromObject(&External{refHeader{1}, typeName, v})
}

func (e *External) TypeName() string { return e.name }
func (e *External) free() {
	if d, ok := e.v.(Dropper); ok {
		d.Drop()
	}
	e.v = nil
}
