package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"quill/internal/analysis"
	"quill/internal/feature"
	"quill/internal/source"
	"quill/internal/trace"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// CommandApplyTweak is the command behind every tweak code action.
const CommandApplyTweak = "quill.applyTweak"

// hostMethods are served by the server itself and cannot be bound by modules.
var hostMethods = []string{
	"initialize",
	"initialized",
	"shutdown",
	"exit",
	"textDocument/didOpen",
	"textDocument/didChange",
	"textDocument/didSave",
	"textDocument/didClose",
	"textDocument/codeAction",
	"workspace/executeCommand",
	CommandApplyTweak,
}

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Registry *feature.Registry
	Engine   *analysis.Engine
	Debounce time.Duration
	Log      zerolog.Logger
	// Metrics receives the server collectors; nil leaves them unregistered.
	Metrics prometheus.Registerer
	Version string
}

// document is one open editor buffer.
type document struct {
	uri     string
	version int
	file    *source.File
	model   *analysis.Model
	seq     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	// published is set once diagnostics were sent for the buffer.
	published bool
}

// Server handles stdio JSON-RPC for quill.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex
	mu     sync.Mutex
	docs   map[string]*document

	registry *feature.Registry
	engine   *analysis.Engine
	binder   *feature.Binder
	log      zerolog.Logger
	metrics  *serverMetrics
	version  string

	workspaceRoot     string
	initialized       bool
	shutdownRequested bool
	debounce          time.Duration
	analysisSeq       uint64
	requestSeq        int64
	baseCtx           context.Context
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	registry := opts.Registry
	if registry == nil {
		registry = feature.NewRegistry(feature.WithLogger(opts.Log))
	}
	engine := opts.Engine
	if engine == nil {
		engine = analysis.NewEngine(analysis.DefaultOptions(), analysis.NewMemoryCache(), opts.Log)
	}
	return &Server{
		in:       bufio.NewReader(in),
		out:      bufio.NewWriter(out),
		docs:     make(map[string]*document),
		registry: registry,
		engine:   engine,
		binder:   feature.NewBinder(hostMethods...),
		log:      opts.Log.With().Str("component", "lsp").Logger(),
		metrics:  newServerMetrics(opts.Metrics),
		version:  opts.Version,
		debounce: debounce,
		baseCtx:  context.Background(),
	}
}

// Run serves LSP requests until exit or end of input.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	defer s.cancelAll()
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn().Err(err).Msg("failed to parse message")
			continue
		}
		if msg.Method == "" {
			// Responses to our own requests (workspace/applyEdit).
			if msg.Error != nil {
				s.log.Warn().Int("code", msg.Error.Code).Str("message", msg.Error.Message).Msg("client rejected request")
			}
			continue
		}
		if err := s.handleMessage(ctx, &msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg *rpcMessage) error {
	ctx, sp := trace.Start(ctx, trace.ScopeServer, "lsp:"+msg.Method)
	defer sp.End("")
	s.metrics.request(msg.Method)

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		if s.shutdownRequested {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	}
	if !s.initialized {
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeServerNotStarted, "server not initialized")
		}
		return nil
	}

	switch msg.Method {
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/codeAction":
		return s.handleCodeAction(ctx, msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(ctx, msg)
	default:
		return s.dispatchBound(ctx, msg)
	}
}

// dispatchBound routes methods and notifications that modules bound during
// initialize.
func (s *Server) dispatchBound(ctx context.Context, msg *rpcMessage) error {
	if len(msg.ID) == 0 {
		h, ok := s.binder.LookupNotification(msg.Method)
		if !ok {
			return nil
		}
		if _, err := h(ctx, msg.Params); err != nil {
			s.log.Warn().Err(err).Str("method", msg.Method).Str("module", s.binder.Owner(msg.Method)).Msg("notification failed")
		}
		return nil
	}
	h, ok := s.binder.LookupMethod(msg.Method)
	if !ok {
		return s.sendError(msg.ID, codeMethodNotFound, "method not found")
	}
	result, err := h(ctx, msg.Params)
	if err != nil {
		s.log.Warn().Err(err).Str("method", msg.Method).Str("module", s.binder.Owner(msg.Method)).Msg("request failed")
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	if s.initialized {
		return s.sendError(msg.ID, codeInvalidRequest, "already initialized")
	}
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	root := ""
	if params.RootURI != "" {
		root = uriToPath(params.RootURI)
	}
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}

	caps := feature.Capabilities{}
	if err := s.registry.InitializeLSP(s.binder, params.Capabilities, caps); err != nil {
		s.log.Warn().Err(err).Msg("some modules were not bound")
	}
	for _, key := range []string{"textDocumentSync", "codeActionProvider", "executeCommandProvider"} {
		if _, ok := caps[key]; ok {
			s.log.Warn().Str("capability", key).Msg("module capability overridden by host")
		}
	}
	caps["textDocumentSync"] = textDocumentSyncOptions{
		OpenClose: true,
		Change:    2,
		Save:      saveOptions{IncludeText: true},
	}
	caps["codeActionProvider"] = codeActionOptions{
		CodeActionKinds: []string{"quickfix", "refactor"},
	}
	caps["executeCommandProvider"] = executeCommandOptions{
		Commands: slices.Concat([]string{CommandApplyTweak}, s.binder.Commands()),
	}

	s.mu.Lock()
	s.workspaceRoot = root
	s.initialized = true
	s.mu.Unlock()
	s.log.Info().Str("root", root).Str("modules", s.registry.Fingerprint()).Msg("initialized")

	return s.sendResponse(msg.ID, initializeResult{
		Capabilities: caps,
		ServerInfo:   serverInfo{Name: "quill", Version: s.version},
	})
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.cancelAll()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc := s.docs[uri]
	if doc == nil {
		doc = &document{uri: uri}
		s.docs[uri] = doc
	}
	doc.update(params.TextDocument.Version, params.TextDocument.Text)
	s.mu.Unlock()
	s.scheduleDiagnostics(uri)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("uri", uri).Msg("didChange for unopened document")
		return nil
	}
	text := applyChanges(string(doc.file.Content), params.ContentChanges)
	doc.update(params.TextDocument.Version, text)
	s.mu.Unlock()
	s.scheduleDiagnostics(uri)
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if ok && params.Text != nil && *params.Text != string(doc.file.Content) {
		doc.update(doc.version, *params.Text)
	}
	s.mu.Unlock()
	if ok {
		s.scheduleDiagnostics(uri)
	}
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	published := false
	if ok {
		doc.stop()
		published = doc.published
		delete(s.docs, uri)
	}
	s.mu.Unlock()
	if published {
		if err := s.sendPublish(uri, nil, nil); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear diagnostics")
		}
	}
	return nil
}

// update replaces the buffer contents and invalidates the current model.
// Callers hold s.mu.
func (d *document) update(version int, text string) {
	d.version = version
	d.file = source.NewSnapshot(documentPath(d.uri), safeInt32(version), []byte(text))
	d.model = nil
}

// stop cancels pending and running analysis. Callers hold s.mu.
func (d *document) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		doc.stop()
	}
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) sendNotification(method string, params any) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// sendRequest issues a server-to-client request. The response is read by
// Run and only logged.
func (s *Server) sendRequest(method string, params any) error {
	id := atomic.AddInt64(&s.requestSeq, 1)
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
}

func (s *Server) sendPublish(uri string, version *int, list []lspDiagnostic) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	return s.sendNotification("textDocument/publishDiagnostics", publishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: list,
	})
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
