package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/decipher/internal/extract"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/model"
)

// Service names used for throttling and metrics
const (
	ServiceMetadata = "metadata"
	ServiceConcepts = "concepts"
	ServiceExplain  = "explain"
)

// defaultConceptWeight applies when the service proposes no importance
const defaultConceptWeight = 10

// Throttle paces calls per service
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Observer receives per-call durations
type Observer interface {
	ObserveExtraction(service string, d time.Duration, err error)
}

// ServiceOptions tunes the extraction and explanation services
type ServiceOptions struct {
	Language         string
	MetadataMaxChars int
	ConceptMaxChars  int
	ContextMaxChars  int
	MaxWords         int
	MaxTokens        int
	Throttle         Throttle
	Observer         Observer
	Logger           *logger.Logger
}

// Service implements the metadata, concept and term explanation services on top of a Provider
type Service struct {
	provider Provider
	opts     ServiceOptions
	validate *validator.Validate
	log      *logger.Logger
}

// NewService creates the services. A nil provider yields ErrDisabled on every call.
func NewService(provider Provider, opts ServiceOptions) *Service {
	if opts.Language == "" {
		opts.Language = "English"
	}
	if opts.MetadataMaxChars <= 0 {
		opts.MetadataMaxChars = 25000
	}
	if opts.ConceptMaxChars <= 0 {
		opts.ConceptMaxChars = 15000
	}
	if opts.ContextMaxChars <= 0 {
		opts.ContextMaxChars = 300
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 60
	}
	return &Service{
		provider: provider,
		opts:     opts,
		validate: validator.New(),
		log:      opts.Logger,
	}
}

// IsEnabled reports whether a provider is configured
func (s *Service) IsEnabled() bool {
	return s.provider != nil
}

// ProviderName returns the configured provider's name, or ""
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

type metadataWire struct {
	Title          string   `json:"title" validate:"required"`
	Type           string   `json:"type" validate:"required"`
	Year           int      `json:"year" validate:"required,gte=1000,lte=3000"`
	Venue          string   `json:"venue"`
	Authors        []string `json:"authors"`
	Affiliations   []string `json:"affiliations"`
	URL            string   `json:"url"`
	Keywords       []string `json:"keywords"`
	CitationCount  int      `json:"citation_count" validate:"gte=0"`
	Abstract       string   `json:"abstract" validate:"required"`
	ProblemSolved  string   `json:"problem_solved" validate:"required"`
	MethodUsed     string   `json:"method_used" validate:"required"`
	Implementation string   `json:"implementation"`
	Results        string   `json:"results"`
	Impact         string   `json:"impact"`
	Comparison     string   `json:"comparison"`
	Takeaway       string   `json:"takeaway" validate:"required"`
}

type conceptWire struct {
	Nodes []nodeWire `json:"nodes" validate:"dive"`
	Links []linkWire `json:"links" validate:"dive"`
}

type nodeWire struct {
	ID    string  `json:"id" validate:"required"`
	Group int     `json:"group" validate:"gte=0"`
	Desc  string  `json:"desc"`
	Val   float64 `json:"val" validate:"gte=0"`
}

type linkWire struct {
	Source string  `json:"source" validate:"required"`
	Target string  `json:"target" validate:"required"`
	Value  float64 `json:"value"`
}

// ExtractMetadata returns the structured summary of a document.
// A response missing any required field is an ErrInvalidResponse.
func (s *Service) ExtractMetadata(ctx context.Context, text string) (model.Metadata, error) {
	prompt := BuildMetadataPrompt(extract.Truncate(text, s.opts.MetadataMaxChars), s.opts.Language)

	var wire metadataWire
	if err := s.completeJSON(ctx, ServiceMetadata, metadataSystem, prompt, &wire); err != nil {
		return model.Metadata{}, err
	}

	wire.Title = strings.TrimSpace(wire.Title)
	wire.Type = strings.TrimSpace(wire.Type)
	wire.Abstract = strings.TrimSpace(wire.Abstract)
	wire.ProblemSolved = strings.TrimSpace(wire.ProblemSolved)
	wire.MethodUsed = strings.TrimSpace(wire.MethodUsed)
	wire.Takeaway = strings.TrimSpace(wire.Takeaway)
	if err := s.validate.Struct(wire); err != nil {
		return model.Metadata{}, invalidf("metadata: %s", describeValidation(err))
	}

	return model.Metadata{
		Title:          wire.Title,
		Type:           wire.Type,
		Year:           wire.Year,
		Venue:          strings.TrimSpace(wire.Venue),
		Authors:        cleanList(wire.Authors),
		Affiliations:   cleanList(wire.Affiliations),
		Keywords:       cleanList(wire.Keywords),
		CitationCount:  wire.CitationCount,
		Abstract:       wire.Abstract,
		ProblemSolved:  wire.ProblemSolved,
		MethodUsed:     wire.MethodUsed,
		Implementation: strings.TrimSpace(wire.Implementation),
		Results:        strings.TrimSpace(wire.Results),
		Impact:         strings.TrimSpace(wire.Impact),
		Comparison:     strings.TrimSpace(wire.Comparison),
		Takeaway:       wire.Takeaway,
		URL:            strings.TrimSpace(wire.URL),
	}, nil
}

// ExtractConcepts returns the candidate concept nodes and relations of a document
func (s *Service) ExtractConcepts(ctx context.Context, text string) (model.ConceptSet, error) {
	prompt := BuildConceptPrompt(extract.Truncate(text, s.opts.ConceptMaxChars), s.opts.Language)

	var wire conceptWire
	if err := s.completeJSON(ctx, ServiceConcepts, conceptSystem, prompt, &wire); err != nil {
		return model.ConceptSet{}, err
	}
	for i := range wire.Nodes {
		wire.Nodes[i].ID = strings.TrimSpace(wire.Nodes[i].ID)
	}
	for i := range wire.Links {
		wire.Links[i].Source = strings.TrimSpace(wire.Links[i].Source)
		wire.Links[i].Target = strings.TrimSpace(wire.Links[i].Target)
	}
	if err := s.validate.Struct(wire); err != nil {
		return model.ConceptSet{}, invalidf("concepts: %s", describeValidation(err))
	}

	set := model.ConceptSet{
		Nodes:     make([]model.ConceptNode, 0, len(wire.Nodes)),
		Relations: make([]model.ConceptRelation, 0, len(wire.Links)),
	}
	for _, n := range wire.Nodes {
		weight := n.Val
		if weight == 0 {
			weight = defaultConceptWeight
		}
		set.Nodes = append(set.Nodes, model.ConceptNode{
			ID:          n.ID,
			Group:       n.Group,
			Weight:      weight,
			Description: strings.TrimSpace(n.Desc),
		})
	}
	for _, l := range wire.Links {
		strength := l.Value
		if strength <= 0 {
			strength = 1
		}
		set.Relations = append(set.Relations, model.ConceptRelation{
			Source:   l.Source,
			Target:   l.Target,
			Strength: strength,
		})
	}
	return set, nil
}

// Explain returns a short explanation of fragment for the level's audience.
// Length is bounded by instruction only.
func (s *Service) Explain(ctx context.Context, fragment, docContext string, level model.ExplanationLevel) (string, error) {
	prompt := BuildExplainPrompt(fragment, extract.Truncate(docContext, s.opts.ContextMaxChars), level, s.opts.Language, s.opts.MaxWords)

	resp, err := s.complete(ctx, ServiceExplain, CompletionRequest{
		System:      explainSystem,
		Prompt:      prompt,
		MaxTokens:   400,
		Temperature: 0.5,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", invalidf("explain: empty answer")
	}
	return text, nil
}

func (s *Service) completeJSON(ctx context.Context, service, system, prompt string, out any) error {
	resp, err := s.complete(ctx, service, CompletionRequest{
		System:      system,
		Prompt:      prompt,
		JSON:        true,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return err
	}

	body := stripCodeFence(resp.Text)
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return invalidf("%s: decode json: %v", service, err)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, service string, req CompletionRequest) (*CompletionResponse, error) {
	if s.provider == nil {
		return nil, ErrDisabled
	}
	if s.opts.Throttle != nil {
		if err := s.opts.Throttle.Wait(ctx, service); err != nil {
			return nil, fmt.Errorf("%s: throttle: %w", service, err)
		}
	}

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveExtraction(service, time.Since(start), err)
	}
	if err != nil {
		s.log.Debug("llm call failed", "service", service, "provider", s.provider.Name(), "error", err)
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	s.log.Debug("llm call done", "service", service, "model", resp.Model, "tokens", resp.TokensUsed)
	return resp, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Namespace()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", e.Namespace(), e.Tag(), e.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
