package documents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("document not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrQuotaExceeded       = errors.New("free upload limit reached")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUploadInProgress    = errors.New("upload with this idempotency key is still in progress")
)

// ValidationError lists failing fields; it matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", field, tag))
	}
	sort.Strings(parts)
	return "invalid fields: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
