package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	DefaultModel   = "all-minilm"
	defaultTimeout = 30 * time.Second
)

// Embedder is the local fallback provider backed by an Ollama server.
type Embedder struct {
	model   string
	timeout time.Duration

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewEmbedderParams configures the fallback embedder. An empty BaseURL uses
// OLLAMA_HOST or the Ollama default.
type NewEmbedderParams struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

func NewEmbedder(params NewEmbedderParams) (*Embedder, error) {
	model := params.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var (
		cli *api.Client
		err error
	)
	if params.BaseURL == "" && params.APIKey == "" {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	} else {
		var u *url.URL
		if params.BaseURL != "" {
			u, err = url.Parse(params.BaseURL)
			if err != nil {
				return nil, err
			}
		}
		headers := map[string]string{}
		if params.APIKey != "" {
			headers["Authorization"] = "Bearer " + params.APIKey
		}
		httpClient := &http.Client{
			Transport: &headerTransport{headers: headers, rt: http.DefaultTransport},
		}
		cli = api.NewClient(u, httpClient)
	}

	return &Embedder{
		model:   model,
		timeout: timeout,
		Client:  cli,
	}, nil
}

func (e *Embedder) Name() string { return "ollama:" + e.model }

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
