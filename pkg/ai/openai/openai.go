package openai

import (
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/common"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultModel = "text-embedding-3-small"
	// MaxInputTokens is the per-input limit of the OpenAI embedding models.
	MaxInputTokens = 8191

	defaultTimeout = 30 * time.Second
	tokenEncoding  = "cl100k_base"
)

// Embedder is the primary, remote embedding provider. It talks to any
// OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	model      string
	dimensions int
	maxTokens  int
	timeout    time.Duration

	encOnce sync.Once
	enc     *tiktoken.Tiktoken

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *openai.Client
}

// NewEmbedderParams configures the primary embedder.
//
// Dimensions asks the model to shorten its vectors; 0 keeps the native size.
// MaxTokens truncates long inputs; 0 means MaxInputTokens, a negative value
// disables truncation.
type NewEmbedderParams struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxTokens  int
	Timeout    time.Duration
}

// NewEmbedder fails with common.ErrConfiguration without an API key, which
// makes the caller fall back to the local provider.
func NewEmbedder(params NewEmbedderParams) (*Embedder, error) {
	if params.APIKey == "" {
		return nil, fmt.Errorf("%w: AI_EMBED_KEY is not set", common.ErrConfiguration)
	}
	model := params.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = MaxInputTokens
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
		option.WithMaxRetries(1),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &Embedder{
		model:      model,
		dimensions: params.Dimensions,
		maxTokens:  maxTokens,
		timeout:    timeout,
		Client:     &client,
	}, nil
}

func (e *Embedder) Name() string { return "openai:" + e.model }

// Metrics returns the usage accumulated so far.
func (e *Embedder) Metrics() ai.ModelMetrics {
	e.metricsLock.Lock()
	defer e.metricsLock.Unlock()
	return e.metrics
}

func (e *Embedder) modifyMetrics(m ai.ModelMetrics) {
	e.metricsLock.Lock()
	defer e.metricsLock.Unlock()
	e.metrics.Add(m)
}
