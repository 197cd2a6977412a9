package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aicoder/pkg/config"
	"aicoder/pkg/limiter"
	"aicoder/pkg/logx"
	"aicoder/pkg/metrics"
)

// WithValidation rejects invalid requests before they reach the provider and
// turns blank completions into ErrorTypeEmptyResponse so they are retried.
func WithValidation() Middleware {
	return func(next Generator) Generator {
		return GeneratorFunc{
			Name: next.Model(),
			Fn: func(ctx context.Context, req Request) (Response, error) {
				if err := req.Validate(); err != nil {
					return Response{}, err
				}
				resp, err := next.Generate(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
				}
				if strings.TrimSpace(resp.Text) == "" {
					return resp, NewError(ErrorTypeEmptyResponse, fmt.Sprintf("%s returned an empty completion (stop reason %q)", next.Model(), resp.StopReason))
				}
				return resp, nil
			},
		}
	}
}

// WithRateLimit waits for request and token capacity before each call and
// charges the completed call against the model's daily budget.
func WithRateLimit(l *limiter.Limiter, counter *TokenCounter, rec metrics.Recorder) Middleware {
	if rec == nil {
		rec = metrics.Nop()
	}
	return func(next Generator) Generator {
		model := next.Model()
		return GeneratorFunc{
			Name: model,
			Fn: func(ctx context.Context, req Request) (Response, error) {
				if err := l.CheckBudget(model); err != nil {
					return Response{}, NewErrorWithCause(ErrorTypeRateLimit, err, "daily budget exhausted")
				}

				estimate := counter.Count(req.Text()) + req.MaxTokens
				throttled, err := l.Wait(ctx, model, estimate)
				if throttled {
					rec.IncThrottle(model)
				}
				if err != nil {
					if errors.Is(err, limiter.ErrRateLimit) {
						return Response{}, NewErrorWithCause(ErrorTypeBadPrompt, err, "request exceeds the model's token rate")
					}
					return Response{}, NewErrorWithCause(ErrorTypeTransient, err, "rate limiter wait interrupted")
				}

				resp, err := next.Generate(ctx, req)
				if err == nil {
					l.Spend(model, config.CalculateCost(model, resp.PromptTokens, resp.CompletionTokens))
				}
				return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
		}
	}
}

// WithMetrics records every call. Token counts the provider did not report
// are estimated with counter.
func WithMetrics(rec metrics.Recorder, counter *TokenCounter) Middleware {
	return func(next Generator) Generator {
		model := next.Model()
		return GeneratorFunc{
			Name: model,
			Fn: func(ctx context.Context, req Request) (Response, error) {
				start := time.Now()
				resp, err := next.Generate(ctx, req)
				duration := time.Since(start)

				errorType := ""
				if err != nil {
					errorType = TypeOf(err).String()
				} else {
					if resp.PromptTokens == 0 {
						resp.PromptTokens = counter.Count(req.Text())
					}
					if resp.CompletionTokens == 0 {
						resp.CompletionTokens = counter.Count(resp.Text)
					}
				}

				call := CallFrom(ctx)
				rec.ObserveGeneration(call.RunID, call.Agent, model,
					resp.PromptTokens, resp.CompletionTokens, err == nil, errorType, duration)
				return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
		}
	}
}

// WithLogging logs each call at debug level and dumps the request when a
// provider returns an empty completion.
func WithLogging(logger *logx.Logger) Middleware {
	return func(next Generator) Generator {
		model := next.Model()
		return GeneratorFunc{
			Name: model,
			Fn: func(ctx context.Context, req Request) (Response, error) {
				call := CallFrom(ctx)
				start := time.Now()
				resp, err := next.Generate(ctx, req)
				if err != nil {
					logger.Warn("generation failed: model=%s run=%s agent=%s error=%v", model, call.RunID, call.Agent, err)
					if Is(err, ErrorTypeEmptyResponse) {
						logEmptyResponse(logger, req)
					}
					return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
				}
				logger.Debug("generation: model=%s run=%s agent=%s tokens=%d+%d stop=%s duration=%dms",
					model, call.RunID, call.Agent, resp.PromptTokens, resp.CompletionTokens, resp.StopReason,
					time.Since(start).Milliseconds())
				return resp, nil
			},
		}
	}
}

func logEmptyResponse(logger *logx.Logger, req Request) {
	logger.Error("empty completion, request follows (temperature=%v max_tokens=%d)", req.Temperature, req.MaxTokens)
	for i := range req.Messages {
		content := req.Messages[i].Content
		if len(content) > 2000 {
			content = content[:2000] + " [truncated]"
		}
		logger.Error("message [%d] %s: %s", i, req.Messages[i].Role, content)
	}
}

// Fallback tries each generator in order until one succeeds. Authentication
// and bad prompt errors from one provider do not stop the chain, since the
// next provider has different credentials and limits. Cancellation does.
func Fallback(gens ...Generator) Generator {
	if len(gens) == 1 {
		return gens[0]
	}
	logger := logx.NewLogger("llm")
	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.Model()
	}
	return GeneratorFunc{
		Name: strings.Join(names, ","),
		Fn: func(ctx context.Context, req Request) (Response, error) {
			var errs []error
			for i, g := range gens {
				resp, err := g.Generate(ctx, req)
				if err == nil {
					return resp, nil
				}
				errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
				if ctx.Err() != nil {
					break
				}
				if i < len(gens)-1 {
					logger.Warn("%s failed, falling back to %s: %v", names[i], names[i+1], err)
				}
			}
			if len(errs) == 0 {
				return Response{}, NewError(ErrorTypeUnknown, "no generators configured")
			}
			return Response{}, &Error{
				Type:    TypeOf(errs[len(errs)-1]),
				Err:     errors.Join(errs...),
				Message: fmt.Sprintf("all %d providers failed", len(errs)),
			}
		},
	}
}

// WithTimeout bounds each call to d. A zero d leaves calls unbounded.
func WithTimeout(d time.Duration) Middleware {
	return func(next Generator) Generator {
		if d <= 0 {
			return next
		}
		return GeneratorFunc{
			Name: next.Model(),
			Fn: func(ctx context.Context, req Request) (Response, error) {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Generate(ctx, req) //nolint:wrapcheck // middleware passes errors through unchanged
			},
		}
	}
}
