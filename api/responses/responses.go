package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/types"
)

// retryAfterSeconds is advertised on retryable failures so clients back off
// at least one reconciliation round before resubmitting.
const retryAfterSeconds = 1

// Codes whose own message is safe to show to shoppers.
var publicMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:    true,
	pkgerrors.CodeNotFound:      true,
	pkgerrors.CodeExpired:       true,
	pkgerrors.CodePaymentFailed: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteErrorWithData writes the typed error envelope and attaches data next
// to it. Cart mutations use it to return the rolled-forward view together
// with the reconciliation failure.
func WriteErrorWithData(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error, data any) {
	typed := classify(err)
	report(ctx, logg, err, typed)
	envelope := envelopeFor(typed)
	envelope.Data = data
	writeTyped(w, typed, envelope)
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	WriteErrorWithData(ctx, logg, w, err, nil)
}

func classify(err error) *pkgerrors.Error {
	if err == nil {
		err = errors.New("unknown error")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
}

func envelopeFor(typed *pkgerrors.Error) types.ErrorEnvelope {
	meta := pkgerrors.MetadataFor(typed.Code())
	message := meta.PublicMessage
	if publicMessageCodes[typed.Code()] && typed.Message() != "" {
		message = typed.Message()
	}

	info := typed.Context()
	apiErr := types.APIError{
		Code:          string(typed.Code()),
		Message:       message,
		Retryable:     meta.Retryable,
		Action:        string(typed.Action()),
		Field:         info.Field,
		CorrelationID: info.CorrelationID,
	}
	if meta.DetailsAllowed && typed.Details() != nil {
		apiErr.Details = typed.Details()
	}
	return types.ErrorEnvelope{Error: apiErr}
}

func report(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error) {
	if logg == nil {
		return
	}
	ctx = logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
	if pkgerrors.MetadataFor(typed.Code()).HTTPStatus >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeTyped(w http.ResponseWriter, typed *pkgerrors.Error, envelope types.ErrorEnvelope) {
	meta := pkgerrors.MetadataFor(typed.Code())
	if meta.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, meta.HTTPStatus, envelope)
}

// writeJSON encodes before touching the response so an unencodable payload
// still produces a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(types.ErrorEnvelope{Error: types.APIError{
			Code:    string(pkgerrors.CodeInternal),
			Message: pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage,
		}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
