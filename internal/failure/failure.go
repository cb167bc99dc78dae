// Package failure defines the terminal error kinds a pipeline run can end with
// and the process exit code each one maps to.
package failure

import "errors"

var (
	// ErrMalformedRequest indicates the issue text is missing a required field or has an invalid one
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInvalidURL indicates the website is not a usable http(s) URL
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnknownCompany indicates the company id doesn't exist in the registry
	ErrUnknownCompany = errors.New("unknown company")
	// ErrDuplicateCompany indicates the company id is already taken by a folder or registry entry
	ErrDuplicateCompany = errors.New("duplicate company")
	// ErrTemplateInstantiationFailed indicates the template folder could not be copied or rendered
	ErrTemplateInstantiationFailed = errors.New("template instantiation failed")
	// ErrCorruptRegistry indicates sites.json could not be parsed or violates its invariants
	ErrCorruptRegistry = errors.New("corrupt registry")
	// ErrRegistryConflict indicates concurrent writers kept winning until retries ran out
	ErrRegistryConflict = errors.New("registry conflict")
)

// Kind names a terminal error in results and comments.
type Kind string

const (
	KindNone                        Kind = ""
	KindMalformedRequest            Kind = "MalformedRequest"
	KindInvalidURL                  Kind = "InvalidUrl"
	KindUnknownCompany              Kind = "UnknownCompany"
	KindDuplicateCompany            Kind = "DuplicateCompany"
	KindTemplateInstantiationFailed Kind = "TemplateInstantiationFailed"
	KindCorruptRegistry             Kind = "CorruptRegistry"
	KindRegistryConflict            Kind = "RegistryConflict"
	KindInternal                    Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
	code int
}{
	{ErrMalformedRequest, KindMalformedRequest, 2},
	{ErrInvalidURL, KindInvalidURL, 3},
	{ErrUnknownCompany, KindUnknownCompany, 4},
	{ErrDuplicateCompany, KindDuplicateCompany, 5},
	{ErrTemplateInstantiationFailed, KindTemplateInstantiationFailed, 6},
	{ErrCorruptRegistry, KindCorruptRegistry, 7},
	{ErrRegistryConflict, KindRegistryConflict, 8},
}

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ExitCode maps err to a distinct non-zero process exit code (0 for nil).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return 1
}

// Retryable reports whether a fresh invocation could succeed without the
// requester changing the issue.
func Retryable(err error) bool {
	return errors.Is(err, ErrRegistryConflict) || KindOf(err) == KindInternal
}
