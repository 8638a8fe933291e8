package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspSource = `struct P { x, y }
impl P { fn sum(self) { self.x + self.y } }
enum Shape { Circle(r), Empty }
const K = 2;
async fn fetch(url) { url }
fn main() { fetch(1) }
`

const lspURI = protocol.DocumentUri("file:///work/app.rill")

func openDocument(s *LspServer, uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "let x = pri", protocol.Position{Line: 0, Character: 11}, "pri"},
		{"whole line", "pri", protocol.Position{Line: 0, Character: 3}, "pri"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "fn main() {\n  x\n  time::sl", protocol.Position{Line: 2, Character: 10}, "time::sl"},
		{"path", "Shape::", protocol.Position{Line: 0, Character: 7}, "Shape::"},
		{"after call paren", "print(va", protocol.Position{Line: 0, Character: 8}, "va"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
		{"non-ascii", "let é = ab", protocol.Position{Line: 0, Character: 10}, "ab"},
	}
	for _, tc := range tests {
		if got := extractPrefix(tc.text, tc.pos); got != tc.want {
			t.Errorf("%s: extractPrefix = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"inside word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"end of word", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first\nfetch(1)", protocol.Position{Line: 1, Character: 2}, "fetch"},
		{"path", "x = time::sleep(1)", protocol.Position{Line: 0, Character: 10}, "time::sleep"},
		{"trailing colons", "Shape::", protocol.Position{Line: 0, Character: 2}, "Shape"},
		{"between parens", "f( )", protocol.Position{Line: 0, Character: 3}, ""},
		{"line beyond document", "x", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tc := range tests {
		if got := extractWord(tc.text, tc.pos); got != tc.want {
			t.Errorf("%s: extractWord = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

func TestDocumentSymbols(t *testing.T) {
	syms := documentSymbols(lspSource)

	want := []struct {
		name   string
		kind   protocol.CompletionItemKind
		detail string
	}{
		{"K", protocol.CompletionItemKindConstant, "const K"},
		{"P", protocol.CompletionItemKindStruct, "struct P"},
		{"P::sum", protocol.CompletionItemKindFunction, "fn P::sum(self)"},
		{"Shape", protocol.CompletionItemKindEnum, "enum Shape"},
		{"Shape::Circle", protocol.CompletionItemKindEnumMember, "variant Shape::Circle"},
		{"Shape::Empty", protocol.CompletionItemKindEnumMember, "variant Shape::Empty"},
		{"fetch", protocol.CompletionItemKindFunction, "async fn fetch(url)"},
		{"main", protocol.CompletionItemKindFunction, "fn main()"},
	}
	if len(syms) != len(want) {
		t.Fatalf("got %d symbols, want %d: %v", len(syms), len(want), syms)
	}
	for i, w := range want {
		s := syms[i]
		if s.name != w.name || s.kind != w.kind || s.detail != w.detail {
			t.Errorf("symbol %d = {%s %v %q}, want {%s %v %q}", i, s.name, s.kind, s.detail, w.name, w.kind, w.detail)
		}
	}
}

func TestDocumentSymbolsTolerateErrors(t *testing.T) {
	syms := documentSymbols("fn good() { 1 }\nfn bad( { \nfn also_good() { 2 }")
	names := make(map[string]bool)
	for _, s := range syms {
		names[s.name] = true
	}
	if !names["good"] {
		t.Errorf("symbols = %v, want good listed despite the parse error", syms)
	}
}

// ---------------------------------------------------------------------------
// Completion and hover
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func TestLSPComplete(t *testing.T) {
	s := NewLSP()

	tests := []struct {
		prefix  string
		want    []string
		notWant []string
	}{
		{"pri", []string{"print", "println"}, []string{"panic"}},
		{"Shape::", []string{"Shape::Circle", "Shape::Empty"}, []string{"Shape"}},
		{"time::", []string{"time::now", "time::sleep"}, nil},
		{"fe", []string{"fetch"}, nil},
		{"ma", []string{"main", "match"}, nil},
		{"client::", []string{"client::ask"}, nil},
	}
	for _, tc := range tests {
		got := labels(s.complete(lspSource, tc.prefix))
		for _, w := range tc.want {
			if !contains(got, w) {
				t.Errorf("complete(%q) = %v, missing %q", tc.prefix, got, w)
			}
		}
		for _, w := range tc.notWant {
			if contains(got, w) {
				t.Errorf("complete(%q) = %v, should not contain %q", tc.prefix, got, w)
			}
		}
	}
}

func TestCompletionHandler(t *testing.T) {
	s := NewLSP()
	openDocument(s, lspURI, "fn main() { pri }")

	res, err := s.textDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: lspURI},
			Position:     protocol.Position{Line: 0, Character: 15},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	items, ok := res.([]protocol.CompletionItem)
	if !ok || !contains(labels(items), "println") {
		t.Errorf("completion = %v, want println", res)
	}

	res, _ = s.textDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///unknown.rill"},
		},
	})
	if res != nil {
		t.Errorf("completion for an unknown document = %v, want nil", res)
	}
}

func TestHover(t *testing.T) {
	s := NewLSP()

	tests := []struct {
		word string
		want string
	}{
		{"fetch", "```rill\nasync fn fetch(url)\n```"},
		{"P::sum", "```rill\nfn P::sum(self)\n```"},
		{"println", "host function `println`"},
		{"nothing", ""},
	}
	for _, tc := range tests {
		h := s.hover(lspSource, tc.word)
		if tc.want == "" {
			if h != nil {
				t.Errorf("hover(%q) = %v, want nil", tc.word, h)
			}
			continue
		}
		if h == nil {
			t.Errorf("hover(%q) = nil, want %q", tc.word, tc.want)
			continue
		}
		if got := h.Contents.(protocol.MarkupContent).Value; got != tc.want {
			t.Errorf("hover(%q) = %q, want %q", tc.word, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

func TestDefinition(t *testing.T) {
	loc := definition(lspURI, lspSource, "main")
	if loc == nil {
		t.Fatal("definition(main) = nil")
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 5, Character: 3},
		End:   protocol.Position{Line: 5, Character: 7},
	}
	if loc.URI != lspURI || loc.Range != want {
		t.Errorf("definition(main) = %v, want %v", *loc, want)
	}
	if loc := definition(lspURI, lspSource, "missing"); loc != nil {
		t.Errorf("definition(missing) = %v, want nil", *loc)
	}
}

func TestReferences(t *testing.T) {
	locs := references(lspURI, lspSource, "fetch")
	want := []protocol.Position{
		{Line: 4, Character: 9},
		{Line: 5, Character: 12},
	}
	if len(locs) != len(want) {
		t.Fatalf("references(fetch) = %v, want %d", locs, len(want))
	}
	for i, w := range want {
		if locs[i].Range.Start != w {
			t.Errorf("reference %d at %v, want %v", i, locs[i].Range.Start, w)
		}
	}

	if got := references(lspURI, lspSource, "Shape::Circle"); len(got) != 1 {
		t.Errorf("references(Shape::Circle) = %v, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnosticsUnterminatedString(t *testing.T) {
	s := NewLSP()
	diags := s.diagnostics(lspURI, `"abc`)
	if len(diags) == 0 {
		t.Fatal("no diagnostics for an unterminated string")
	}
	d := diags[0]
	if d.Range.Start != (protocol.Position{Line: 0, Character: 0}) {
		t.Errorf("start = %v, want 0:0", d.Range.Start)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", d.Severity)
	}
	if d.Code == nil || d.Code.Value != "UnterminatedString" {
		t.Errorf("code = %v, want UnterminatedString", d.Code)
	}
	if d.Source == nil || *d.Source != lspName {
		t.Errorf("source = %v, want %s", d.Source, lspName)
	}
}

func TestDiagnosticsUTF16Columns(t *testing.T) {
	s := NewLSP()
	diags := s.diagnostics(lspURI, "fn main() {\n  \"😀\"; nope\n}")

	var found bool
	for _, d := range diags {
		if d.Code == nil || d.Code.Value != "UndefinedName" {
			continue
		}
		found = true
		// The emoji takes two UTF-16 units.
		want := protocol.Position{Line: 1, Character: 8}
		if d.Range.Start != want {
			t.Errorf("start = %v, want %v", d.Range.Start, want)
		}
		if !strings.Contains(d.Message, "nope") {
			t.Errorf("message = %q, want it to name nope", d.Message)
		}
	}
	if !found {
		t.Errorf("diagnostics = %v, want an UndefinedName", diags)
	}
}

func TestDiagnosticsKnowHostFunctions(t *testing.T) {
	s := NewLSP()
	src := "fn main() { println(time::now()); client::ask(1) }"
	if diags := s.diagnostics(lspURI, src); len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
}

func TestModuleForURI(t *testing.T) {
	tests := []struct {
		uri  protocol.DocumentUri
		want string
	}{
		{"file:///work/app.rill", "app"},
		{"file:///work/my-lib.rill", "my_lib"},
		{"file:///work/2d.rill", "_2d"},
		{"file:///work/space%20name.rill", "space_name"},
		{"file:///", "main"},
	}
	for _, tc := range tests {
		if got := moduleForURI(tc.uri); got != tc.want {
			t.Errorf("moduleForURI(%q) = %q, want %q", tc.uri, got, tc.want)
		}
	}
}
