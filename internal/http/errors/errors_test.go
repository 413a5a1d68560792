package errors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInternalErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events/1", nil)

	InternalError(rec, req, errors.New("pq: connection refused"), "list events")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "connection refused") {
		t.Errorf("body leaks the underlying error: %q", body)
	}
	if !strings.Contains(body, "internal server error") {
		t.Errorf("body = %q, want generic message", body)
	}
}

func TestBadRequestErrorReturnsClientMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/events/1", nil)

	BadRequestError(rec, req, errors.New("json: unexpected EOF"), "invalid event payload")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid event payload") {
		t.Errorf("body = %q, want the client message", rec.Body.String())
	}
}
