package protocol

const (
	RPCMethodInitialize               = "initialize"
	RPCMethodNotificationsInitialized = "notifications/initialized"
	RPCMethodToolsList                = "tools/list"
	RPCMethodToolsCall                = "tools/call"
)

const (
	// ProtocolVersion is the MCP revision announced in initialize. The lab
	// tool server speaks the 2024-11-05 streamable transport.
	ProtocolVersion = "2024-11-05"

	ClientName = "labagent"

	MCPSessionHeader = "Mcp-Session-Id"
	SSEDataPrefix    = "data:"
	SSEDoneSentinel  = "[DONE]"
)

// Event stream keys carried to the caller, one JSON object per event.
const (
	EventKeyToken    = "token"
	EventKeyStatus   = "status"
	EventKeyToolCall = "tool_call"
	EventKeyDone     = "done"
	EventKeyError    = "error"
)

// Download lifecycle states reported by the status surface.
const (
	StatusIdle        = "idle"
	StatusDownloading = "downloading"
	StatusReady       = "ready"
	StatusError       = "error"
)

const (
	DefaultListenAddr = "0.0.0.0:8000"
	DefaultMCPURL     = "http://openldr-mcp-server:6060/stream"
)
