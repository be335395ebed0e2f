package config

// DefaultTOML is the template written by "labagent config init".
const DefaultTOML = `# labagent configuration.
# Environment variables (LABAGENT_*) and .env / .env.local override this file.

listen = "0.0.0.0:8000"
verbose = false
cors_origins = ["http://localhost", "http://localhost:3000"]

[app]
name = "labagent"
version = "0.1.0"

[mcp]
# Streamable HTTP endpoint of the lab tool server.
url = "http://openldr-mcp-server:6060/stream"

[models]
# dir = "/app/ai"
hub_url = "https://huggingface.co"
# Loaded at startup when already downloaded.
default = ""

[engine]
# OpenAI compatible server that runs the loaded model (llama.cpp, vLLM, Ollama).
base_url = "http://127.0.0.1:8080/v1"

[generation]
max_new_tokens = 512
temperature = 0.7
max_tool_calls = 3

[rate_limit]
# Generation requests per second per client address; 0 disables the limit.
# Loopback clients are never limited.
rps = 1
burst = 5
`
