package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{name: "invalid", code: domain.EINVALID, want: http.StatusBadRequest},
		{name: "unauthorized", code: domain.EUNAUTHORIZED, want: http.StatusUnauthorized},
		{name: "payment", code: domain.EPAYMENT, want: http.StatusPaymentRequired},
		{name: "not found", code: domain.ENOTFOUND, want: http.StatusNotFound},
		{name: "conflict", code: domain.ECONFLICT, want: http.StatusConflict},
		{name: "unavailable", code: domain.EUNAVAILABLE, want: http.StatusServiceUnavailable},
		{name: "internal", code: domain.EINTERNAL, want: http.StatusInternalServerError},
		{name: "unknown code", code: "EWHATEVER", want: http.StatusInternalServerError},
		{name: "empty code", code: "", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}
