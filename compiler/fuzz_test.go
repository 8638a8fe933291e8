package compiler

import (
	"testing"

	"github.com/chazu/rill/vm"
)

var fuzzSeeds = []string{
	// Tokens
	`( ) [ ] { } #{ } :: => -> .. ..= ? . , ; :`,
	`42 0xff 0o17 0b1010 1_000 3.25 1e3 2.5E-1`,
	`"hello" "a\nb" "\u{1F600}" 'a' '\n'`,
	"`a {x + 1} b`",
	"`{ #{k: 1}.k }`",
	`// line
	/* block /* nested */ */`,
	// Items
	`fn add(a, b) { a + b }`,
	`async fn f(x) { x.await }`,
	`struct P { x, y } impl P { fn sum(self) { self.x + self.y } }`,
	`enum E { A(a), B { b }, C } fn f(e) { match e { E::A(a) => a, E::B { b } => b, E::C => 0 } }`,
	`const K = 1 + 2 * 3;`,
	`use std::io; use a::b as c;`,
	// Bodies
	`fn main() { let n = 0; let inc = || { n += 1; n }; inc() }`,
	`fn main() { for i in 0..10 { if i % 2 == 0 { continue; } } }`,
	`fn main() { let v = [1, 2, 3]; v[0] += 1; v }`,
	`fn main() { loop { break 1; } }`,
	`fn main() { while let Some(x) = f() { x; } }`,
	`fn main() { let (a, [b, _]) = (1, [2, 3]); a + b }`,
	`fn main() { if let Some(x) = y { x } else { 0 } }`,
	`fn main() { f()?.g().await }`,
	// Broken input
	`"abc`, "`abc", `'a`, `/* open`, `12abc`, `0x`,
	`fn main() { let x = ; }`,
	`fn main() { a < b < c }`,
	`fn main() { (1, 2 }`,
	`fn (`, `}`, `fn main() { break; }`,
	``, `   `, "\t\n\r",
	`こんにちは`, `@#$%^&`,
}

// ---------------------------------------------------------------------------
// FuzzLexer: the lexer terminates and produces ordered, in-bounds spans.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("lexer panicked on input %q: %v", data, r)
			}
		}()

		l := NewLexer(data)
		prev := 0
		for i := 0; ; i++ {
			if i > 2*len(data)+4 {
				t.Fatalf("lexer did not reach EOF on %q", data)
			}
			tok := l.Next()
			if tok.Span.Start < prev || tok.Span.End < tok.Span.Start || tok.Span.End > len(data) {
				t.Fatalf("bad span %s for %v on %q", tok.Span, tok.Kind, data)
			}
			prev = tok.Span.Start
			if tok.Kind == TokenEOF {
				break
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParser: parsing never panics and diagnostics stay in bounds.
// ---------------------------------------------------------------------------

func FuzzParser(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("parser panicked on input %q: %v", data, r)
			}
		}()

		file, diags := Parse(data)
		if file == nil {
			t.Fatalf("Parse returned no file for %q", data)
		}
		for _, d := range diags {
			if d.Primary.Start < 0 || d.Primary.End > len(data) || d.Primary.End < d.Primary.Start {
				t.Fatalf("diagnostic %v has span outside %q", d, data)
			}
		}
		_ = Check(data, "fuzz", nil)
	})
}

// ---------------------------------------------------------------------------
// FuzzCompile: every unit produced validates, serializes stably and
// compiles identically twice.
// ---------------------------------------------------------------------------

func FuzzCompile(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		for _, l := range lowerings {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("%s lowering panicked on input %q: %v", l.Name(), data, r)
					}
				}()

				unit, diags := Compile(data, "fuzz", WithLowering(l))
				if unit == nil {
					if !diags.HasErrors() {
						t.Fatalf("no unit and no errors for %q", data)
					}
					return
				}
				if err := unit.Validate(); err != nil {
					t.Fatalf("%s lowering produced an invalid unit for %q: %v", l.Name(), data, err)
				}
				again, _ := Compile(data, "fuzz", WithLowering(l))
				if !unit.Equal(again) {
					t.Fatalf("%s lowering is not deterministic for %q", l.Name(), data)
				}
				encoded, err := vm.Serialize(unit)
				if err != nil {
					t.Fatalf("serialize %q: %v", data, err)
				}
				back, err := vm.Deserialize(encoded)
				if err != nil {
					t.Fatalf("deserialize %q: %v", data, err)
				}
				if !unit.Equal(back) {
					t.Fatalf("round trip changed the unit for %q", data)
				}
			}()
		}
	})
}
