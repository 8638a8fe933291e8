package server

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/manifest"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "rill-lsp"

// keywords offered by completion.
var keywords = []string{
	"as", "async", "await", "break", "const", "continue", "else", "enum",
	"false", "fn", "for", "if", "impl", "in", "let", "loop", "match",
	"pub", "return", "self", "struct", "true", "use", "while",
}

// LspServer bridges LSP editor features to the Rill compiler. Documents
// are checked on every change; nothing is executed.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	env     *compiler.Names
	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		env:     Environment(),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Rill LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", ":"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	loc := definition(uri, text, word)
	if loc == nil {
		return nil, nil
	}
	return *loc, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word), nil
}

// --- Compiler-backed logic ---

// symbol is an item declared in a document.
type symbol struct {
	name   string
	kind   protocol.CompletionItemKind
	detail string
	span   compiler.Span
}

// documentSymbols lists the items a document declares, sorted by name.
// Parse errors are tolerated; recovered items are still listed.
func documentSymbols(text string) []symbol {
	file, _ := compiler.Parse(text)
	var syms []symbol
	addFn := func(fn *compiler.FnItem) {
		params := make([]string, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = p.Name
		}
		detail := fmt.Sprintf("fn %s(%s)", fn.QualifiedName(), strings.Join(params, ", "))
		if fn.Async {
			detail = "async " + detail
		}
		syms = append(syms, symbol{fn.QualifiedName(), protocol.CompletionItemKindFunction, detail, fn.Name.Span})
	}
	for _, item := range file.Items {
		switch it := item.(type) {
		case *compiler.FnItem:
			addFn(it)
		case *compiler.StructItem:
			syms = append(syms, symbol{it.Name.Name, protocol.CompletionItemKindStruct, "struct " + it.Name.Name, it.Name.Span})
		case *compiler.EnumItem:
			syms = append(syms, symbol{it.Name.Name, protocol.CompletionItemKindEnum, "enum " + it.Name.Name, it.Name.Span})
			for _, v := range it.Variants {
				name := it.Name.Name + "::" + v.Name.Name
				syms = append(syms, symbol{name, protocol.CompletionItemKindEnumMember, "variant " + name, v.Name.Span})
			}
		case *compiler.ImplItem:
			for _, fn := range it.Fns {
				addFn(fn)
			}
		case *compiler.ConstItem:
			syms = append(syms, symbol{it.Name.Name, protocol.CompletionItemKindConstant, "const " + it.Name.Name, it.Name.Span})
		}
	}
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].name < syms[j].name })
	return syms
}

func (s *LspServer) complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, sym := range documentSymbols(text) {
		if strings.HasPrefix(sym.name, prefix) {
			add(sym.name, sym.kind, sym.detail)
		}
	}
	for _, name := range s.env.All() {
		if strings.HasPrefix(name, prefix) {
			add(name, protocol.CompletionItemKindFunction, "host function")
		}
	}
	for _, kw := range keywords {
		if strings.HasPrefix(kw, prefix) {
			add(kw, protocol.CompletionItemKindKeyword, "keyword")
		}
	}

	if len(items) > maxCompletions {
		items = items[:maxCompletions]
	}
	return items
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	var value string
	for _, sym := range documentSymbols(text) {
		if sym.name == word {
			value = "```rill\n" + sym.detail + "\n```"
			break
		}
	}
	if value == "" && s.env.Contains(word) {
		value = fmt.Sprintf("host function `%s`", word)
	}
	if value == "" {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

func definition(uri protocol.DocumentUri, text, word string) *protocol.Location {
	li := compiler.NewLineIndex(text)
	for _, sym := range documentSymbols(text) {
		if sym.name == word {
			return &protocol.Location{URI: uri, Range: toRange(li, sym.span)}
		}
	}
	return nil
}

// references finds identifier tokens matching the last segment of word.
func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	name := word
	if i := strings.LastIndex(word, "::"); i >= 0 {
		name = word[i+2:]
	}
	li := compiler.NewLineIndex(text)
	var locs []protocol.Location
	for _, tok := range compiler.Tokenize(text) {
		if tok.Kind == compiler.TokenIdent && tok.Text == name {
			locs = append(locs, protocol.Location{URI: uri, Range: toRange(li, tok.Span)})
		}
	}
	return locs
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnostics(uri, text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnostics checks a document and converts the compiler's diagnostics.
func (s *LspServer) diagnostics(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	diags := compiler.Check(text, moduleForURI(uri), s.env)
	li := compiler.NewLineIndex(text)
	source := lspName

	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		switch d.Severity {
		case compiler.SeverityWarning:
			severity = protocol.DiagnosticSeverityWarning
		case compiler.SeverityNote:
			severity = protocol.DiagnosticSeverityInformation
		}
		diag := protocol.Diagnostic{
			Range:    toRange(li, d.Primary),
			Severity: &severity,
			Code:     &protocol.IntegerOrString{Value: string(d.Code)},
			Source:   &source,
			Message:  d.Message,
		}
		for _, l := range d.Secondary {
			diag.RelatedInformation = append(diag.RelatedInformation, protocol.DiagnosticRelatedInformation{
				Location: protocol.Location{URI: uri, Range: toRange(li, l.Span)},
				Message:  l.Message,
			})
		}
		out = append(out, diag)
	}
	return out
}

// moduleForURI derives a module name from the document's file name.
func moduleForURI(uri protocol.DocumentUri) string {
	p := string(uri)
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	name := manifest.ModuleName(strings.TrimSuffix(path.Base(p), manifest.Extension))
	if name == "" {
		return "main"
	}
	return name
}

// toRange converts a byte span into an LSP range. LSP characters are
// UTF-16 code units.
func toRange(li *compiler.LineIndex, span compiler.Span) protocol.Range {
	return protocol.Range{Start: toPosition(li, span.Start), End: toPosition(li, span.End)}
}

func toPosition(li *compiler.LineIndex, offset int) protocol.Position {
	pos := li.Position(offset)
	lineStart := li.Offset(compiler.Position{Line: pos.Line, Column: 1})
	lineEnd := li.Offset(pos)
	units := len(utf16.Encode([]rune(li.Text()[lineStart:lineEnd])))
	return protocol.Position{Line: protocol.UInteger(pos.Line - 1), Character: protocol.UInteger(units)}
}

// --- Text extraction helpers ---

// lineRunes returns the runes of the cursor's line and the cursor column
// clamped to it.
func lineRunes(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

func isWordRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == ':'
}

// extractPrefix returns the path fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineRunes(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the path
	start := col
	for start > 0 && isWordRune(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full path under the cursor, without leading or
// trailing colons.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineRunes(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isWordRune(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordRune(line[end]) {
		end++
	}
	return strings.Trim(string(line[start:end]), ":")
}

func boolPtr(b bool) *bool {
	return &b
}
