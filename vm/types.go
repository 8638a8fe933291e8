package vm

// RuntimeType is a type declared by a loaded unit, or one of the
// built-in Option and Result variants shared by every module.
type RuntimeType struct {
	Def     TypeDef
	Module  *Module // nil for built-ins
	methods map[string]int
}

// QualifiedName returns the type name prefixed with its module.
func (t *RuntimeType) QualifiedName() string {
	if t.Module == nil {
		return t.Def.Name
	}
	return t.Module.Name() + "::" + t.Def.Name
}

// Built-in variant names.
const (
	NameSome = "Option::Some"
	NameNone = "Option::None"
	NameOk   = "Result::Ok"
	NameErr  = "Result::Err"
)

// BuiltinTypeDefs are the variants every unit may reference.
var BuiltinTypeDefs = []TypeDef{
	{Name: NameSome, Kind: TypeTupleVariant, Arity: 1, Enum: "Option", Builtin: true},
	{Name: NameNone, Kind: TypeUnitVariant, Enum: "Option", Builtin: true},
	{Name: NameOk, Kind: TypeTupleVariant, Arity: 1, Enum: "Result", Builtin: true},
	{Name: NameErr, Kind: TypeTupleVariant, Arity: 1, Enum: "Result", Builtin: true},
}

var builtinTypes = func() map[string]*RuntimeType {
	m := make(map[string]*RuntimeType, len(BuiltinTypeDefs))
	for _, def := range BuiltinTypeDefs {
		m[def.Name] = &RuntimeType{Def: def}
	}
	return m
}()

// BuiltinType returns the shared runtime type for a built-in variant.
func BuiltinType(name string) (*RuntimeType, bool) {
	t, ok := builtinTypes[name]
	return t, ok
}

// Some returns Option::Some(v), taking ownership of v.
func Some(v Value) Value { return NewStruct(builtinTypes[NameSome], []Value{v}) }

// None returns Option::None.
func None() Value { return NewStruct(builtinTypes[NameNone], nil) }

// Ok returns Result::Ok(v), taking ownership of v.
func Ok(v Value) Value { return NewStruct(builtinTypes[NameOk], []Value{v}) }

// Err returns Result::Err(v), taking ownership of v.
func Err(v Value) Value { return NewStruct(builtinTypes[NameErr], []Value{v}) }

// variantName returns the qualified variant name of a built-in value, or "".
func variantName(v Value) string {
	s, ok := v.AsStruct()
	if !ok || s.Type.Module != nil {
		return ""
	}
	return s.Type.Def.Name
}
