package compiler

// ---------------------------------------------------------------------------
// Scopes and slot allocation
// ---------------------------------------------------------------------------

// binding is a named local or hidden temporary living in a frame slot.
type binding struct {
	name     string
	span     Span
	slot     int
	captured bool // referenced by a closure
	assigned bool // assigned after its initialiser
}

// boxed reports whether the binding must live in a cell so closures
// observe assignments.
func (b *binding) boxed() bool { return b.captured && b.assigned }

// blockScope is one lexical scope inside a function.
type blockScope struct {
	owner    Node
	base     int
	names    map[string]*binding
	bindings []*binding
}

// funcScope tracks the frame of one function or closure during
// resolution. Slots are allocated stack-wise: closing a scope returns its
// slots, so sibling scopes reuse them.
type funcScope struct {
	info     *FuncInfo
	parent   *funcScope
	scopes   []*blockScope
	next     int
	max      int
	loops    []Node
	captures map[*binding]int
}

func newFuncScope(info *FuncInfo, parent *funcScope) *funcScope {
	return &funcScope{info: info, parent: parent, captures: make(map[*binding]int)}
}

func (fs *funcScope) push(owner Node) {
	fs.scopes = append(fs.scopes, &blockScope{owner: owner, base: fs.next, names: make(map[string]*binding)})
}

// pop closes the innermost scope and returns the slots it declared.
func (fs *funcScope) pop() (Node, []int) {
	s := fs.scopes[len(fs.scopes)-1]
	fs.scopes = fs.scopes[:len(fs.scopes)-1]
	fs.next = s.base
	slots := make([]int, len(s.bindings))
	for i, b := range s.bindings {
		slots[i] = b.slot
	}
	return s.owner, slots
}

// declare allocates a slot in the innermost scope. An empty name
// declares a hidden temporary.
func (fs *funcScope) declare(name string, span Span) *binding {
	b := &binding{name: name, span: span, slot: fs.next}
	fs.next++
	fs.max = max(fs.max, fs.next)
	s := fs.scopes[len(fs.scopes)-1]
	s.bindings = append(s.bindings, b)
	if name != "" && name != "_" {
		s.names[name] = b
	}
	return b
}

// lookup finds a binding visible in this function.
func (fs *funcScope) lookup(name string) *binding {
	for i := len(fs.scopes) - 1; i >= 0; i-- {
		if b, ok := fs.scopes[i].names[name]; ok {
			return b
		}
	}
	return nil
}

func (fs *funcScope) inLoop() Node {
	if len(fs.loops) == 0 {
		return nil
	}
	return fs.loops[len(fs.loops)-1]
}
