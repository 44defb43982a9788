package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
	"tradeq/internal/normalize"
	"tradeq/internal/plan"
	"tradeq/internal/prompt"
	"tradeq/internal/router"
	"tradeq/internal/sanitize"
	"tradeq/internal/schema"
)

// DefaultMaxResults caps the documents returned for one question.
const DefaultMaxResults = 100

// Options wires a TradeQueryService. Schema, Inferrer and Store are required.
type Options struct {
	Schema   *schema.Descriptor
	Inferrer domain.Inferrer
	Store    domain.Store
	// Router overrides the router built from Store.
	Router            *router.Router
	Examples          []prompt.Example
	DefaultCollection domain.Collection
	MaxResults        int
	Logger            *zap.Logger
}

// TradeQueryService answers questions by translating them into a plan and
// running the plan. Stages run strictly in order and nothing reaches the
// store before the plan is fully validated.
type TradeQueryService struct {
	schema     *schema.Descriptor
	builder    *prompt.Builder
	inferrer   domain.Inferrer
	sanitizer  *sanitize.Sanitizer
	validator  *plan.Validator
	router     *router.Router
	store      domain.Store
	maxResults int
	logger     *zap.Logger
}

func NewTradeQueryService(opts Options) (*TradeQueryService, error) {
	if opts.Schema == nil {
		return nil, errors.New("schema is required")
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}
	if opts.Inferrer == nil {
		return nil, errors.New("inferrer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := opts.Router
	if r == nil {
		r = router.New(opts.Store)
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &TradeQueryService{
		schema:     opts.Schema,
		builder:    prompt.NewBuilder(opts.Schema, opts.Examples),
		inferrer:   opts.Inferrer,
		sanitizer:  sanitize.New(logger.Named("sanitize")),
		validator:  plan.NewValidator(opts.Schema, opts.DefaultCollection),
		router:     r,
		store:      opts.Store,
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

// Ask runs one question through build, infer, sanitize, validate, route,
// execute and normalize. The request id is taken from ctx when present.
func (s *TradeQueryService) Ask(ctx context.Context, text string) (*domain.Answer, error) {
	start := time.Now()
	id := domain.RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	log := s.logger.With(zap.String("request_id", id))

	instructions, err := s.builder.Build(text)
	if err != nil {
		return nil, s.fail(log, "build", err)
	}
	log.Debug("prompt built", zap.String("query", text), zap.Int("prompt_len", len(instructions)))

	raw, err := s.inferrer.Infer(ctx, instructions)
	if err != nil {
		if apperrors.KindOf(err) == "" {
			err = apperrors.Wrap(apperrors.InferenceUnavailable, "inference failed", err)
		}
		return nil, s.fail(log, "infer", err)
	}
	log.Debug("inference replied", zap.String("provider", s.inferrer.Name()), zap.Duration("elapsed", time.Since(start)))

	sanitized, err := s.sanitizer.Sanitize(raw)
	if err != nil {
		return nil, s.fail(log, "sanitize", err)
	}

	p, err := s.validator.Validate(raw, sanitized)
	if err != nil {
		return nil, s.fail(log, "validate", err)
	}

	handle, err := s.router.Route(p.Collection)
	if err != nil {
		return nil, s.fail(log, "route", err)
	}

	log.Info("executing plan", zap.Stringer("collection", p.Collection), zap.Int("stages", len(p.Pipeline)))
	docs, truncated, err := handle.Aggregate(ctx, p.Pipeline, s.maxResults)
	if err != nil {
		e := apperrors.Wrap(apperrors.Execution, "pipeline failed", err).WithText(raw, sanitized)
		e.Collection = p.Collection.String()
		return nil, s.fail(log, "execute", e)
	}

	answer := &domain.Answer{
		RequestID:  id,
		Query:      text,
		Collection: p.Collection,
		Pipeline:   p.Pipeline,
		Results:    normalize.Documents(docs),
		Truncated:  truncated,
		Elapsed:    time.Since(start),
	}
	log.Info("query answered",
		zap.Stringer("collection", p.Collection),
		zap.Int("count", len(answer.Results)),
		zap.Bool("truncated", truncated),
		zap.Duration("elapsed", answer.Elapsed),
	)
	return answer, nil
}

func (s *TradeQueryService) fail(log *zap.Logger, stage string, err error) error {
	fields := []zap.Field{zap.String("stage", stage), zap.Error(err)}
	if e, ok := apperrors.As(err); ok {
		fields = append(fields, zap.String("kind", string(e.Kind)))
		if e.Collection != "" {
			fields = append(fields, zap.String("collection", e.Collection))
		}
		if e.Raw != "" {
			fields = append(fields, zap.String("raw", e.Raw), zap.String("sanitized", e.Sanitized))
		}
		if e.Config {
			log.Error("query failed", fields...)
			return err
		}
	}
	log.Warn("query failed", fields...)
	return err
}

// Status reports store connectivity, the collections the store holds and
// the inference provider in use.
func (s *TradeQueryService) Status(ctx context.Context) domain.Status {
	st := domain.Status{
		Inference:     s.inferrer.Name(),
		SchemaVersion: s.schema.Version,
	}
	if err := s.store.Ping(ctx); err != nil {
		st.StoreError = err.Error()
		return st
	}
	st.StoreConnected = true
	names, err := s.store.CollectionNames(ctx)
	if err != nil {
		st.StoreError = err.Error()
		return st
	}
	st.Collections = names
	return st
}

// Prompt returns the instruction payload for text without calling anything.
func (s *TradeQueryService) Prompt(text string) (string, error) { return s.builder.Build(text) }
