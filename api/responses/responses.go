// Package responses renders the JSON envelopes every handler returns.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// retryAfterSeconds is advertised when a payment dependency is unavailable.
const retryAfterSeconds = "5"

var exposeStack atomic.Bool

// ExposeErrorStack toggles the error chain in error envelopes. Off in production.
func ExposeErrorStack(enabled bool) {
	exposeStack.Store(enabled)
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Success: true, Data: data})
}

// WriteError maps err onto its public envelope. Errors that are not typed are
// reported as internal without leaking their text.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	dump := pkgerrors.Dump(err)

	payload := types.ErrorEnvelope{
		Status:  meta.HTTPStatus,
		Code:    string(typed.Code()),
		Message: publicMessage(typed, meta),
	}
	if kind := typed.Kind(); kind != pkgerrors.KindNone {
		payload.Code = kind.String()
	}
	if meta.DetailsAllowed {
		payload.Details = typed.Details()
	}
	if exposeStack.Load() {
		payload.Stack = strings.Join(dump.Chain, "\n")
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, logFields(dump, typed.Kind()))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	if meta.HTTPStatus == http.StatusServiceUnavailable && pkgerrors.Retryable(typed) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, meta.HTTPStatus, payload)
}

// publicMessage prefers a domain kind's message, then the caller's own text for
// client-side failures, then the code's generic message.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if kind := typed.Kind(); kind != pkgerrors.KindNone {
		return kind.PublicMessage()
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeForbidden, pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound, pkgerrors.CodeConflict:
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}

func logFields(dump pkgerrors.ErrorDump, kind pkgerrors.Kind) map[string]any {
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
	}
	if kind != pkgerrors.KindNone {
		fields["error_kind"] = kind.String()
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_message"] = dump.PGMessage
		fields["pg_detail"] = dump.PGDetail
		fields["pg_table"] = dump.PGTable
		fields["pg_column"] = dump.PGColumn
		fields["pg_constraint"] = dump.PGConstraint
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("encode response")
	}
}
