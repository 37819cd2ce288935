package errors

// Kind is the closed set of payment domain failures. Each kind is bound to a
// transport Code and a fixed public message that never carries raw causes.
type Kind string

const (
	KindNone                    Kind = ""
	KindAlreadyEnrolled         Kind = "ALREADY_ENROLLED"
	KindAlreadyRefunded         Kind = "ALREADY_REFUNDED"
	KindEducatorAccountNotFound Kind = "EDUCATOR_ACCOUNT_NOT_FOUND"
	KindTransactionNotFound     Kind = "TRANSACTION_NOT_FOUND"
	KindAccountAlreadyExists    Kind = "ACCOUNT_ALREADY_EXISTS"
	KindGatewayUnavailable      Kind = "GATEWAY_UNAVAILABLE"
)

type kindSpec struct {
	code    Code
	message string
}

var kindSpecs = map[Kind]kindSpec{
	KindAlreadyEnrolled:         {code: CodeConflict, message: "User already enrolled in this course"},
	KindAlreadyRefunded:         {code: CodeConflict, message: "Transaction already refunded"},
	KindEducatorAccountNotFound: {code: CodeValidation, message: "Educator payment account not found"},
	KindTransactionNotFound:     {code: CodeNotFound, message: "Transaction not found"},
	KindAccountAlreadyExists:    {code: CodeConflict, message: "Payment account already exists"},
	KindGatewayUnavailable:      {code: CodeDependency, message: "Payment gateway unavailable"},
}

// IsValid reports whether k is a known domain kind.
func (k Kind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// Code returns the transport code the kind surfaces as.
func (k Kind) Code() Code {
	if spec, ok := kindSpecs[k]; ok {
		return spec.code
	}
	return CodeInternal
}

// PublicMessage is the fixed message shown to callers for the kind.
func (k Kind) PublicMessage() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.message
	}
	return MetadataFor(CodeInternal).PublicMessage
}

// NewKind builds an error for a domain kind using its fixed public message.
func NewKind(kind Kind) *Error {
	return &Error{code: kind.Code(), kind: kind, message: kind.PublicMessage()}
}

// WrapKind builds a domain kind error that keeps cause for logs and errors.Is.
func WrapKind(kind Kind, cause error) *Error {
	e := NewKind(kind)
	e.cause = cause
	return e
}

// KindOf extracts the domain kind from anywhere in err's chain.
func KindOf(err error) Kind {
	if typed := As(err); typed != nil {
		return typed.Kind()
	}
	return KindNone
}

// IsKind reports whether err carries the given domain kind.
func IsKind(err error, kind Kind) bool {
	return kind != KindNone && KindOf(err) == kind
}
