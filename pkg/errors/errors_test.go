package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("parsing phrase: %w", ErrInvalidInput), http.StatusBadRequest},
		{"model missing", ErrModelNotFound, http.StatusNotFound},
		{"closed", fmt.Errorf("add: %w", ErrClosed), http.StatusServiceUnavailable},
		{"prefix mismatch", fmt.Errorf("open: %w", ErrPrefixMismatch), http.StatusConflict},
		{"app error wins", fmt.Errorf("decode: %w", Newf(ErrInvalidInput, http.StatusRequestEntityTooLarge, "body over %d bytes", 1024)), http.StatusRequestEntityTooLarge},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrCorruptIndex, http.StatusInternalServerError, "segment %s", "seg_1.ptsg")
	assert.True(t, errors.Is(err, ErrCorruptIndex))
	assert.Equal(t, "corrupt index: segment seg_1.ptsg", err.Error())
}
