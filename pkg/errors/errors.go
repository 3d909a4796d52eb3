package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Error codes
const (
	CodeAppError          = "APP_ERROR"
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeQuotaExhausted    = "QUOTA_EXHAUSTED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeProvider          = "PROVIDER_ERROR"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeAuth              = "AUTH_ERROR"
	CodeCache             = "CACHE_ERROR"
)

type AppError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(message, code string, statusCode int, context map[string]any) *AppError {
	return &AppError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) base() *AppError {
	return e
}

// typed is satisfied by AppError and every kind that embeds it.
type typed interface {
	error
	base() *AppError
}

// ConfigurationError reports a missing credential or setting. Never retried.
type ConfigurationError struct {
	*AppError
	Provider string
}

func NewConfigurationError(message, provider string) *ConfigurationError {
	return &ConfigurationError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeConfiguration,
			StatusCode: 400,
			Context: map[string]any{
				"provider": provider,
			},
		},
		Provider: provider,
	}
}

// QuotaExhaustedError is run-fatal when no partial results were collected.
type QuotaExhaustedError struct {
	*AppError
	Provider    string
	UsingOwnKey bool
	Failures    int
}

func NewQuotaExhaustedError(provider string, usingOwnKey bool, failures int) *QuotaExhaustedError {
	return &QuotaExhaustedError{
		AppError: &AppError{
			Message:    fmt.Sprintf("%s quota exhausted after %d failed requests", provider, failures),
			Code:       CodeQuotaExhausted,
			StatusCode: 429,
			Context: map[string]any{
				"provider":      provider,
				"using_own_key": usingOwnKey,
				"failures":      failures,
			},
		},
		Provider:    provider,
		UsingOwnKey: usingOwnKey,
		Failures:    failures,
	}
}

// UserMessage returns the actionable text shown to the caller.
func (e *QuotaExhaustedError) UserMessage() string {
	if e.UsingOwnKey {
		return fmt.Sprintf("Your %s API key has run out of quota. Quota resets daily; try again later or add a key from another project in Settings.", e.Provider)
	}
	return fmt.Sprintf("The shared %s quota for this service is used up for today. Try again later, or add your own API key in Settings to continue now.", e.Provider)
}

type RateLimitError struct {
	*AppError
	Provider string
}

func NewRateLimitError(provider string, cause error) *RateLimitError {
	return &RateLimitError{
		AppError: &AppError{
			Message:    fmt.Sprintf("%s rate limited", provider),
			Code:       CodeRateLimited,
			StatusCode: 429,
			Context: map[string]any{
				"provider": provider,
			},
			Cause: cause,
		},
		Provider: provider,
	}
}

// ProviderError is a transient network or service failure for one unit of work.
type ProviderError struct {
	*AppError
	Provider  string
	Operation string
}

func NewProviderError(message, provider, operation string, cause error) *ProviderError {
	return &ProviderError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeProvider,
			StatusCode: 502,
			Context: map[string]any{
				"provider":  provider,
				"operation": operation,
			},
			Cause: cause,
		},
		Provider:  provider,
		Operation: operation,
	}
}

type MalformedResponseError struct {
	*AppError
	Provider string
	Preview  string
}

func NewMalformedResponseError(provider, preview string, cause error) *MalformedResponseError {
	return &MalformedResponseError{
		AppError: &AppError{
			Message:    fmt.Sprintf("malformed response from %s", provider),
			Code:       CodeMalformedResponse,
			StatusCode: 502,
			Context: map[string]any{
				"provider": provider,
				"preview":  preview,
			},
			Cause: cause,
		},
		Provider: provider,
		Preview:  preview,
	}
}

type ValidationError struct {
	*AppError
	Field string
	Value interface{}
}

func NewValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

type AuthError struct {
	*AppError
}

func NewAuthError(message string) *AuthError {
	return &AuthError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeAuth,
			StatusCode: 401,
		},
	}
}

type CacheError struct {
	*AppError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		AppError: &AppError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return stderrors.As(err, &target)
}

func IsQuotaExhausted(err error) bool {
	var target *QuotaExhaustedError
	return stderrors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

func IsAuth(err error) bool {
	var target *AuthError
	return stderrors.As(err, &target)
}

// IsRateLimited matches typed rate-limit errors and raw provider errors whose text looks like one.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var target *RateLimitError
	if stderrors.As(err, &target) {
		return true
	}
	return LooksRateLimited(err.Error())
}

// LooksRateLimited inspects raw provider error text.
func LooksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(lower, "too many requests")
}

// LooksQuotaExceeded inspects raw provider error text for quota exhaustion.
func LooksQuotaExceeded(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "exceeded")
}

// CodeOf returns the error code carried by a typed error, or CodeAppError.
func CodeOf(err error) string {
	var t typed
	if stderrors.As(err, &t) && t.base().Code != "" {
		return t.base().Code
	}
	return CodeAppError
}

// StatusCodeOf returns the HTTP status carried by a typed error, or 500.
func StatusCodeOf(err error) int {
	var t typed
	if stderrors.As(err, &t) && t.base().StatusCode > 0 {
		return t.base().StatusCode
	}
	return 500
}

// UserMessage returns the caller-facing text for err.
func UserMessage(err error) string {
	var quota *QuotaExhaustedError
	if stderrors.As(err, &quota) {
		return quota.UserMessage()
	}
	var t typed
	if stderrors.As(err, &t) {
		return t.base().Message
	}
	return err.Error()
}
