package vm

import (
	"strconv"
	"strings"
)

// Display renders a value the way print and template strings show it:
// strings and characters appear without quotes.
func Display(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, false)
	return sb.String()
}

// Debug renders a value with quoted strings, as dbg shows it.
func Debug(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, true)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, quote bool) {
	switch v.tag {
	case TagUnit:
		sb.WriteString("()")
	case TagBool:
		sb.WriteString(strconv.FormatBool(v.AsBool()))
	case TagInt:
		sb.WriteString(strconv.FormatInt(v.AsInt(), 10))
	case TagFloat:
		f := v.AsFloat()
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnI") {
			s += ".0"
		}
		sb.WriteString(s)
	case TagChar:
		if quote {
			sb.WriteString(strconv.QuoteRune(v.AsChar()))
		} else {
			sb.WriteRune(v.AsChar())
		}
	case TagRef:
		writeObject(sb, v.obj, quote)
	}
}

func writeSeq(sb *strings.Builder, open, close string, items []Value) {
	sb.WriteString(open)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeValue(sb, item, true)
	}
	sb.WriteString(close)
}

func writeObject(sb *strings.Builder, o Object, quote bool) {
	switch o := o.(type) {
	case *String:
		if quote {
			sb.WriteString(strconv.Quote(o.s))
		} else {
			sb.WriteString(o.s)
		}
	case *Vec:
		writeSeq(sb, "[", "]", o.Items)
	case *Tuple:
		if len(o.Items) == 1 {
			writeSeq(sb, "(", ",)", o.Items)
		} else {
			writeSeq(sb, "(", ")", o.Items)
		}
	case *Map:
		sb.WriteString("#{")
		for i, k := range o.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			writeValue(sb, o.vals[i], true)
		}
		sb.WriteString("}")
	case *Struct:
		name := o.Type.Def.Name
		if o.Type.Module == nil {
			// Built-in variants print without their enum prefix.
			name = name[strings.LastIndex(name, "::")+2:]
		}
		sb.WriteString(name)
		switch {
		case o.Type.Def.Kind.HasNamedFields():
			sb.WriteString(" { ")
			for i, f := range o.Type.Def.Fields {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(f)
				sb.WriteString(": ")
				writeValue(sb, o.Fields[i], true)
			}
			sb.WriteString(" }")
		case len(o.Fields) > 0:
			writeSeq(sb, "(", ")", o.Fields)
		}
	case *Range:
		sb.WriteString(strconv.FormatInt(o.Start, 10))
		if o.Inclusive {
			sb.WriteString("..=")
		} else {
			sb.WriteString("..")
		}
		sb.WriteString(strconv.FormatInt(o.End, 10))
	case *FunctionRef:
		sb.WriteString("fn ")
		sb.WriteString(o.Function().Name)
	case *Closure:
		sb.WriteString("closure ")
		sb.WriteString(o.Module.unit.Functions[o.Index].Name)
	case *NativeRef:
		sb.WriteString("native fn ")
		sb.WriteString(o.Native.Name)
	case *Future:
		sb.WriteString("future ")
		sb.WriteString(o.Module.unit.Functions[o.Index].Name)
	case *Cell:
		writeValue(sb, o.V, quote)
	default:
		sb.WriteString("<")
		sb.WriteString(o.TypeName())
		sb.WriteString(">")
	}
}
