package server

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tin/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "tin-lsp"

// maxCompletions bounds one completion response.
const maxCompletions = 100

// LspServer bridges LSP editor features to the tin compiler. Every open
// document is analysed together, as one program, on the Worker goroutine.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates a new LSP server that builds documents with opts.
func NewLSP(opts compiler.Options) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace(opts)),
		docs:    make(map[string]string),
		version: "0.1.0",
		log:     commonlog.GetLogger("tin.server"),
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
	defer s.worker.Stop()
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("tin LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
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
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.setDocument(string(params.TextDocument.URI), params.TextDocument.Text)
	s.publish(ctx, s.analyze())
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	whole, ok := last.(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return nil
	}
	s.setDocument(string(params.TextDocument.URI), whole.Text)
	s.publish(ctx, s.analyze())
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.closeDocument(string(uri))

	diags := s.analyze()
	diags[uri] = []protocol.Diagnostic{}
	s.publish(ctx, diags)
	return nil
}

func (s *LspServer) setDocument(uri, text string) {
	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()
}

func (s *LspServer) closeDocument(uri string) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

// snapshot copies the open documents.
func (s *LspServer) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make(map[string]string, len(s.docs))
	for uri, text := range s.docs {
		docs[uri] = text
	}
	return docs
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

	result, err := s.worker.Do(func(ws *Workspace) any {
		return s.complete(ws, prefix)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
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

	result, err := s.worker.Do(func(ws *Workspace) any {
		return s.hover(ws, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}

	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(ws *Workspace) any {
		return s.definition(ws, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}

	return result, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(ws *Workspace) any {
		return s.references(ws, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}

	return result.([]protocol.Location), nil
}

// --- Workspace-backed logic (called on worker goroutine) ---

func (s *LspServer) complete(ws *Workspace, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	for _, sym := range ws.Complete(prefix, maxCompletions) {
		kind := completionKind(sym.Kind)
		detail := sym.Detail
		name := sym.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}
	return items
}

func completionKind(k SymbolKind) protocol.CompletionItemKind {
	switch k {
	case SymbolKeyword:
		return protocol.CompletionItemKindKeyword
	case SymbolType:
		return protocol.CompletionItemKindClass
	case SymbolStruct:
		return protocol.CompletionItemKindStruct
	case SymbolNative, SymbolFunction:
		return protocol.CompletionItemKindFunction
	case SymbolConst:
		return protocol.CompletionItemKindConstant
	}
	return protocol.CompletionItemKindVariable
}

func (s *LspServer) hover(ws *Workspace, word string) *protocol.Hover {
	doc := ws.Describe(word)
	if doc == "" {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: doc,
		},
	}
}

func (s *LspServer) definition(ws *Workspace, word string) []protocol.Location {
	sym, ok := ws.Lookup(word)
	if !ok || sym.URI == "" {
		return nil
	}
	return []protocol.Location{{
		URI:   protocol.DocumentUri(sym.URI),
		Range: spanRange(sym.Span),
	}}
}

func (s *LspServer) references(ws *Workspace, word string) []protocol.Location {
	var locations []protocol.Location
	for _, ref := range ws.References(word) {
		start := protocol.Position{Line: protocol.UInteger(ref.Line - 1), Character: protocol.UInteger(ref.Column - 1)}
		end := start
		end.Character += protocol.UInteger(ref.Length)
		locations = append(locations, protocol.Location{
			URI:   protocol.DocumentUri(ref.URI),
			Range: protocol.Range{Start: start, End: end},
		})
	}
	return locations
}

// --- Diagnostics ---

// analyze rebuilds every open document and returns the diagnostics to
// publish, one entry per document. It returns nothing when a newer edit
// superseded this analysis.
func (s *LspServer) analyze() map[protocol.DocumentUri][]protocol.Diagnostic {
	var docs map[string]string
	result, ok, err := s.worker.Analyze(context.Background(), func() map[string]string {
		docs = s.snapshot()
		return docs
	})
	out := make(map[protocol.DocumentUri][]protocol.Diagnostic, len(docs))
	if err != nil {
		s.log.Errorf("analysis failed: %v", err)
		return out
	}
	if !ok {
		return out
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	for uri, diags := range result {
		list := []protocol.Diagnostic{}
		for _, d := range diags {
			start := protocol.Position{Line: protocol.UInteger(max(d.Line-1, 0)), Character: protocol.UInteger(max(d.Column-1, 0))}
			end := start
			end.Character += protocol.UInteger(max(len(extractWord(docs[uri], start)), 1))
			list = append(list, protocol.Diagnostic{
				Range:    protocol.Range{Start: start, End: end},
				Severity: &severity,
				Source:   &source,
				Message:  d.Message,
			})
		}
		out[protocol.DocumentUri(uri)] = list
	}
	return out
}

func (s *LspServer) publish(ctx *glsp.Context, diags map[protocol.DocumentUri][]protocol.Diagnostic) {
	for uri, list := range diags {
		go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: list,
		})
	}
}

func spanRange(sp compiler.Span) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(max(sp.Start.Line-1, 0)), Character: protocol.UInteger(max(sp.Start.Column-1, 0))},
		End:   protocol.Position{Line: protocol.UInteger(max(sp.End.Line-1, 0)), Character: protocol.UInteger(max(sp.End.Column-1, 0))},
	}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
