package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	deckTemperature     = 0.7
	deckMaxOutputTokens = 8192
)

var errEmptyResponse = errors.New("empty response from model")

// deckSchema constrains model output to {title, topic, cards[{front, back}]}.
// Card count is checked by ParseDeckResponse.
var deckSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": {Type: genai.TypeString},
		"topic": {Type: genai.TypeString},
		"cards": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"front": {Type: genai.TypeString},
					"back":  {Type: genai.TypeString},
				},
				Required: []string{"front", "back"},
			},
		},
	},
	Required: []string{"title", "topic", "cards"},
}

type GeminiOptions struct {
	APIKey         string
	Model          string
	FallbackModel  string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	ConcurrentReqs int
}

type modelCaller func(ctx context.Context, model, prompt string) (string, error)

type GeminiService struct {
	client      *genai.Client
	models      map[string]*genai.GenerativeModel
	call        modelCaller
	primary     string
	fallback    string
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	rateChan    chan struct{} // Token bucket
	logger      *zap.Logger
}

func NewGeminiService(opts GeminiOptions, logger *zap.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	s := newGeminiService(opts, logger)
	s.client = client
	s.models = map[string]*genai.GenerativeModel{
		s.primary: newDeckModel(client, s.primary),
	}
	if s.fallback != "" {
		s.models[s.fallback] = newDeckModel(client, s.fallback)
	}
	s.call = s.callGemini
	return s, nil
}

func newGeminiService(opts GeminiOptions, logger *zap.Logger) *GeminiService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ConcurrentReqs < 1 {
		opts.ConcurrentReqs = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}

	rateChan := make(chan struct{}, opts.ConcurrentReqs)
	for i := 0; i < opts.ConcurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		primary:     opts.Model,
		fallback:    opts.FallbackModel,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.RetryBaseDelay,
		timeout:     opts.Timeout,
		rateChan:    rateChan,
		logger:      logger.Named("gemini"),
	}
}

func newDeckModel(client *genai.Client, name string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.SetTemperature(deckTemperature)
	model.SetMaxOutputTokens(deckMaxOutputTokens)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = deckSchema
	return model
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// GenerateDeck returns the raw JSON text produced for prompt. The primary
// model is tried with bounded retries on transient errors, then the fallback
// model once with the same bound.
func (s *GeminiService) GenerateDeck(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquireRate(ctx); err != nil {
		return "", fmt.Errorf("%w: waiting for model slot: %v", ErrGenerationFailed, err)
	}
	defer s.releaseRate()

	text, err := s.generateWithRetry(ctx, s.primary, prompt)
	if err == nil {
		return text, nil
	}
	if s.fallback == "" || ctx.Err() != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGenerationFailed, s.primary, err)
	}

	s.logger.Warn("primary model failed, using fallback",
		zap.String("model", s.primary),
		zap.String("fallback", s.fallback),
		zap.Error(err),
	)

	text, fallbackErr := s.generateWithRetry(ctx, s.fallback, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("%w: %s: %v; %s: %v", ErrGenerationFailed, s.primary, err, s.fallback, fallbackErr)
	}
	return text, nil
}

func (s *GeminiService) generateWithRetry(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.baseDelay * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := s.call(ctx, model, prompt)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return "", errEmptyResponse
			}
			return text, nil
		}

		lastErr = err
		if !isTransient(err) {
			return "", err
		}
		s.logger.Info("transient model error",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return "", lastErr
}

func (s *GeminiService) callGemini(ctx context.Context, name, prompt string) (string, error) {
	model, ok := s.models[name]
	if !ok {
		return "", fmt.Errorf("model %q is not configured", name)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			s.logger.Warn("model stopped early",
				zap.String("model", name),
				zap.Int("candidate", i),
				zap.String("finish_reason", cand.FinishReason.String()),
			)
		}
	}

	return extractText(resp), nil
}

// isTransient reports whether err is worth retrying on the same model.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	code := 0
	var gerr *googleapi.Error
	var aerr *apierror.APIError
	switch {
	case errors.As(err, &gerr):
		code = gerr.Code
	case errors.As(err, &aerr):
		code = aerr.HTTPCode()
	}
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case 0:
	default:
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
