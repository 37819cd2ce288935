package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
		CodeForbidden:    {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
		CodeNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
		CodeConflict:     {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
		CodeInternal:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:   {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
		"NOT_A_CODE":     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, MetadataFor(code))
		})
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "VALIDATION_ERROR: missing amount", New(CodeValidation, "missing amount").Error())
	assert.Equal(t, "CONFLICT: save: unique", Wrap(CodeConflict, stdErrors.New("unique"), "save").Error())

	var nilErr *Error
	assert.Empty(t, nilErr.Error())
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("ignored"))
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(CodeConflict, cause, "ctx").WithDetails(map[string]any{"field": "course_id"}))

	require.ErrorIs(t, wrapped, cause)
	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeConflict, typed.Code())
	assert.Equal(t, KindNone, typed.Kind())
	assert.Equal(t, map[string]any{"field": "course_id"}, typed.Details())

	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestKindsBindCodeAndMessage(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		msg    string
	}{
		{KindAlreadyEnrolled, http.StatusConflict, "User already enrolled in this course"},
		{KindAlreadyRefunded, http.StatusConflict, "Transaction already refunded"},
		{KindEducatorAccountNotFound, http.StatusBadRequest, "Educator payment account not found"},
		{KindTransactionNotFound, http.StatusNotFound, "Transaction not found"},
		{KindAccountAlreadyExists, http.StatusConflict, "Payment account already exists"},
		{KindGatewayUnavailable, http.StatusServiceUnavailable, "Payment gateway unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			require.True(t, tc.kind.IsValid())
			err := NewKind(tc.kind)
			assert.Equal(t, tc.status, MetadataFor(err.Code()).HTTPStatus)
			assert.Equal(t, tc.msg, err.Message())
		})
	}
	assert.False(t, Kind("NOPE").IsValid())
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	cause := stdErrors.New("card_declined")
	err := fmt.Errorf("charge: %w", WrapKind(KindGatewayUnavailable, cause))

	assert.True(t, IsKind(err, KindGatewayUnavailable), "got %q", KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsKind(stdErrors.New("plain"), KindAlreadyRefunded))
	assert.False(t, IsKind(err, KindNone))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(New(CodeConflict, "dup")))
	assert.True(t, Retryable(fmt.Errorf("charge: %w", New(CodeDependency, "stripe down"))))
	assert.True(t, Retryable(stdErrors.New("untyped")), "untyped errors count as internal")
}

func TestDumpWalksChain(t *testing.T) {
	err := fmt.Errorf("persist: %w", Wrap(CodeInternal, stdErrors.New("disk full"), "save transaction"))
	d := Dump(err)

	assert.Equal(t, CodeInternal, d.Code)
	assert.Len(t, d.Chain, 3)
	assert.Equal(t, err.Error(), d.TopMessage)
	assert.Empty(t, d.PGCode)
}
