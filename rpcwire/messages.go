// Package rpcwire implements the boundary the core engine accepts input through and
// emits Problems back through (spec.md §6): a Unix domain socket carrying
// length-framed JSON messages, one request/response pair per connection, mirroring
// original_source's proxy/rpc.rs (RpcClient/Request/read_from_stream/write_to_stream)
// with a network-conventional 4-byte big-endian length prefix in place of a native
// little-endian usize.
package rpcwire

// SocketEnvVar names the environment variable that carries the Unix socket path a
// Conn is dialed at (see Dial), per spec.md §6.
const SocketEnvVar = "CAPSENTRY_SOCK"

// MessageType discriminates the payload carried by one Envelope.
type MessageType string

const (
	TypeCrateCompiled  MessageType = "crate_compiled"
	TypeLinkInvoked    MessageType = "link_invoked"
	TypeBuildScriptRun MessageType = "build_script_run"
	TypeProblems       MessageType = "problems"
	TypeCanContinue    MessageType = "can_continue"
)

// CanContinue mirrors original_source's CanContinueResponse: Proceed tells the
// wrapper to carry on (retrying whatever failed, if anything did); Deny tells it to
// stop.
type CanContinue string

const (
	Proceed CanContinue = "proceed"
	Deny    CanContinue = "deny"
)

// CrateCompiled reports that one crate finished compiling, carrying enough for the
// unsafe-usage check (spec.md §4.H "complement to a compiler forbid-unsafe flag").
type CrateCompiled struct {
	CrateName  string   `json:"crate_name"`
	UsesUnsafe bool     `json:"uses_unsafe"`
	SourceDirs []string `json:"source_dirs"`
}

// LinkInvoked reports that the linker produced one output, naming the object inputs
// and dependency manifest capsentry needs to run Components A-H over it.
type LinkInvoked struct {
	OutputPath     string   `json:"output_path"`
	ManifestPath   string   `json:"manifest_path"`
	ObjectPaths    []string `json:"object_paths"`
	ArchivePaths   []string `json:"archive_paths"`
	EntrySymbol    string   `json:"entry_symbol"`
	DynamicSymbols []string `json:"dynamic_symbols"`
	IsProcMacro    bool     `json:"is_proc_macro"`
}

// BuildScriptRun reports one build script's completed execution, matching
// original_source's BuildScriptOutput.
type BuildScriptRun struct {
	PackageName string `json:"package_name"`
	ExitCode    int    `json:"exit_code"`
	Stdout      []byte `json:"stdout"`
	Stderr      []byte `json:"stderr"`
}

// Problems carries a finished analysis pass's Problem list back to the wrapper.
type Problems struct {
	LinkedOutput string        `json:"linked_output"`
	Problems     []ProblemJSON `json:"problems"`
}

// ProblemJSON is the wire shape of problem.Problem: a plain struct with json tags so
// rpcwire has no import-cycle dependency on the problem package's internal sorting
// machinery, matching the teacher's own separation of wire types from domain types
// (internal/worker/store records vs. the osv.Entry domain type they're built from).
type ProblemJSON struct {
	Kind      string      `json:"kind"`
	Severity  string      `json:"severity"`
	Crate     string      `json:"crate,omitempty"`
	API       string      `json:"api,omitempty"`
	File      string      `json:"file,omitempty"`
	Line      int         `json:"line,omitempty"`
	Column    int         `json:"column,omitempty"`
	Backtrace []FrameJSON `json:"backtrace,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// FrameJSON is the wire shape of problem.Frame.
type FrameJSON struct {
	Name    string `json:"name"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Inlined bool   `json:"inlined,omitempty"`
}

// Envelope is the outer message shape: Type discriminates which of the pointer
// fields is populated, matching a tagged union in a language without Rust's enums.
type Envelope struct {
	Type        MessageType      `json:"type"`
	CanContinue CanContinue      `json:"can_continue,omitempty"`
	Crate       *CrateCompiled   `json:"crate,omitempty"`
	Link        *LinkInvoked     `json:"link,omitempty"`
	BuildScript *BuildScriptRun  `json:"build_script,omitempty"`
	Problems    *Problems        `json:"problems,omitempty"`
}
