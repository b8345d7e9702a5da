package ai

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Option names a request option that some backends reject.
type Option string

const (
	OptionResponseFormat Option = "response_format"
	OptionTemperature    Option = "temperature"
)

// Without returns a copy of the request with opt removed.
func (r Request) Without(opt Option) Request {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	switch opt {
	case OptionResponseFormat:
		out.ResponseFormat = FormatText
	case OptionTemperature:
		out.Temperature = nil
	}
	return out
}

// Has reports whether the request sets opt.
func (r Request) Has(opt Option) bool {
	switch opt {
	case OptionResponseFormat:
		return r.ResponseFormat != FormatText
	case OptionTemperature:
		return r.Temperature != nil
	default:
		return false
	}
}

// CallFunc performs one backend request.
type CallFunc func(ctx context.Context, req Request) (string, error)

// CompleteWithFallback runs call and, when the backend rejects an optional
// request field, repeats the call with that field removed. Each option is
// stripped at most once. The returned error is the last one observed.
func CompleteWithFallback(ctx context.Context, logger *zap.Logger, req Request, call CallFunc) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stripped := make(map[Option]bool, 2)
	for {
		out, err := call(ctx, req)
		if err == nil {
			return out, nil
		}

		opt, ok := rejected(err)
		if !ok || stripped[opt] || !req.Has(opt) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}

		stripped[opt] = true
		logger.Warn("provider rejected request option, retrying without it",
			zap.String("option", string(opt)),
			zap.Error(err),
		)
		req = req.Without(opt)
	}
}

func rejected(err error) (Option, bool) {
	var classified *Error
	if !errors.As(err, &classified) || !errors.Is(err, ErrUnsupportedOption) {
		return "", false
	}
	return RejectedOption(classified.StatusCode, classified.Err.Error())
}
