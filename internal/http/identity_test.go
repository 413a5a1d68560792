package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestViewerIdentity(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *int64
	}{
		{name: "valid id", header: "42", want: func() *int64 { v := int64(42); return &v }()},
		{name: "absent header is anonymous", header: "", want: nil},
		{name: "malformed header is anonymous", header: "not-a-number", want: nil},
		{name: "non-positive id is anonymous", header: "0", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *int64
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ViewerID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/api/events/1", nil)
			if tt.header != "" {
				req.Header.Set("X-User-ID", tt.header)
			}
			ViewerIdentity(next).ServeHTTP(httptest.NewRecorder(), req)

			switch {
			case tt.want == nil && got != nil:
				t.Errorf("viewer = %d, want anonymous", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("viewer = %v, want %d", got, *tt.want)
			}
		})
	}
}
