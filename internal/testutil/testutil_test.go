package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockTestingT records failures instead of failing the enclosing test.
type mockTestingT struct {
	failed bool
	fatal  bool
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...any) {
	m.failed = true
}

func (m *mockTestingT) Fatalf(format string, args ...any) {
	m.failed = true
	m.fatal = true
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expected   string
		shouldFail bool
	}{
		{"matching status", `{"status":"ok","result":{"n":1}}`, "ok", false},
		{"wrong status", `{"status":"error"}`, "ok", true},
		{"missing status", `{"result":1}`, "ok", true},
		{"invalid json", `{`, "ok", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fmt.Fprint(rr, tt.body)
			mockT := &mockTestingT{}
			resp := AssertJSONResponse(mockT, rr, tt.expected)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
			if !tt.shouldFail && Field(resp, "result", "n") != float64(1) {
				t.Errorf("expected result.n = 1, got %v", Field(resp, "result", "n"))
			}
		})
	}
}

func TestCreateHTTPRequestAndServe(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/echo", map[string]string{"hello": "world"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		MustUnmarshalJSON(t, mustRead(t, r), &body)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"status":"ok","result":{"hello":%q}}`, body["hello"])
	})
	rr := Serve(h, req)
	AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "echo")
	resp := AssertJSONResponse(t, rr, "ok")
	if Field(resp, "result", "hello") != "world" {
		t.Errorf("unexpected echo %v", resp)
	}

	if CreateHTTPRequest(t, http.MethodGet, "/", nil).Header.Get("Content-Type") != "" {
		t.Error("bodiless requests should not set a content type")
	}
}

func TestField(t *testing.T) {
	v := map[string]interface{}{"a": map[string]interface{}{"b": "c"}}
	if Field(v, "a", "b") != "c" {
		t.Error("expected nested lookup to succeed")
	}
	if Field(v, "a", "x", "y") != nil {
		t.Error("expected nil for missing path")
	}
	if Field("scalar", "a") != nil {
		t.Error("expected nil when walking into a scalar")
	}
}

func mustRead(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return data
}
