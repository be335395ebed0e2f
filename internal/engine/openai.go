package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"labagent/internal/models"
)

// OpenAI generates through an OpenAI compatible chat completions server, such
// as llama.cpp, vLLM or Ollama's /v1 endpoint, running next to this process.
// It is also the models.Loader: loading a model binds passes to its id.
type OpenAI struct {
	client *openai.Client

	// Logger is optional; when nil the standard logger is used.
	Logger  *log.Logger
	Verbose bool
}

func NewOpenAI(baseURL, apiKey string, opts ...option.RequestOption) *OpenAI {
	options := []option.RequestOption{option.WithMaxRetries(0)}
	if strings.TrimSpace(apiKey) != "" {
		options = append(options, option.WithAPIKey(apiKey))
	} else {
		// Local servers ignore the key but the SDK insists on one.
		options = append(options, option.WithAPIKey("local"))
	}
	if strings.TrimSpace(baseURL) != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)

	c := openai.NewClient(options...)
	return &OpenAI{client: &c}
}

// Load returns a handle that streams completions from modelID.
func (o *OpenAI) Load(_ context.Context, modelID, _ string) (models.Handle, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, fmt.Errorf("load: empty model id")
	}
	return &Model{owner: o, id: modelID}, nil
}

// Model is a loaded model bound to an OpenAI compatible server.
type Model struct {
	owner *OpenAI
	id    string
}

func (m *Model) ModelID() string {
	return m.id
}

func (m *Model) Close() error {
	return nil
}

// Start opens a streaming completion. The stream is read to the end on the
// pass goroutine even if the caller stops listening.
func (m *Model) Start(ctx context.Context, turns []Turn, opts Options) (*Pass, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.id),
		Messages: toMessages(turns),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	params.Temperature = openai.Float(opts.Temperature)

	if m.owner.Verbose {
		m.owner.logf("[engine] -> chat/completions model=%s turns=%d", m.id, len(turns))
	}
	stream := m.owner.client.Chat.Completions.NewStreaming(ctx, params)
	return NewPass(func(emit func(string)) error {
		defer func() {
			_ = stream.Close()
		}()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			emit(chunk.Choices[0].Delta.Content)
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("generate with %s: %w", m.id, err)
		}
		return nil
	}), nil
}

func toMessages(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(t.Content))
		default:
			out = append(out, openai.UserMessage(t.Content))
		}
	}
	return out
}

func (o *OpenAI) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Source reports the resident model, if any.
type Source interface {
	Loaded() (models.Handle, bool)
}

// Resident runs passes on whichever model the source currently holds.
type Resident struct {
	src Source
}

func NewResident(src Source) *Resident {
	return &Resident{src: src}
}

type starter interface {
	Start(ctx context.Context, turns []Turn, opts Options) (*Pass, error)
}

func (r *Resident) Start(ctx context.Context, turns []Turn, opts Options) (*Pass, error) {
	h, ok := r.src.Loaded()
	if !ok || h == nil {
		return nil, ErrNoModel
	}
	s, ok := h.(starter)
	if !ok {
		return nil, fmt.Errorf("model %s cannot generate", h.ModelID())
	}
	return s.Start(ctx, turns, opts)
}

// ModelID is the id of the resident model, or "" when none is loaded.
func (r *Resident) ModelID() string {
	h, ok := r.src.Loaded()
	if !ok || h == nil {
		return ""
	}
	return h.ModelID()
}
