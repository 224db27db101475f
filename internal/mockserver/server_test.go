package mockserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"empctl/internal/auth"
	"empctl/internal/model"
	"empctl/internal/testutil"
)

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestServer_CreateAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	s := New(WithStartID(42))
	h := s.Handler()

	code, resp := do(t, h, http.MethodPost, "/create", `{"id":7,"employee_name":"Jane Doe","employee_age":34}`, nil)
	if code != http.StatusOK {
		t.Fatalf("POST /create status = %d, want 200", code)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
	created, _, err := model.DecodeEmployee(resp.Data)
	if err != nil {
		t.Fatalf("DecodeEmployee() error = %v", err)
	}
	if created.ID != "42" {
		t.Errorf("created id = %q, want 42 (client ids are ignored)", created.ID)
	}

	_, resp = do(t, h, http.MethodPost, "/create", `{"employee_name":"John"}`, nil)
	second, _, _ := model.DecodeEmployee(resp.Data)
	if second.ID != "43" {
		t.Errorf("second id = %q, want 43", second.ID)
	}

	if got := len(s.Employees()); got != 2 {
		t.Errorf("Employees() len = %d, want 2", got)
	}
	if got := s.Requests("POST /create"); got != 2 {
		t.Errorf("Requests() = %d, want 2", got)
	}
}

func TestServer_ListAndGet(t *testing.T) {
	t.Parallel()

	s := New(WithEmployees(
		model.Employee{ID: "1", Name: "A"},
		model.Employee{ID: "5", Name: "B"},
	))
	h := s.Handler()

	code, resp := do(t, h, http.MethodGet, "/employees", "", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /employees status = %d", code)
	}
	var list []model.Employee
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "1" || list[1].ID != "5" {
		t.Errorf("list = %+v, want ids [1 5]", list)
	}

	code, resp = do(t, h, http.MethodGet, "/employee/5", "", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /employee/5 status = %d", code)
	}
	e, _, err := model.DecodeEmployee(resp.Data)
	if err != nil || e.Name != "B" {
		t.Errorf("GET /employee/5 = %+v, %v", e, err)
	}

	// Seeded ids advance the sequence.
	_, resp = do(t, h, http.MethodPost, "/create", `{"employee_name":"C"}`, nil)
	created, _, _ := model.DecodeEmployee(resp.Data)
	if created.ID != "6" {
		t.Errorf("created id = %q, want 6", created.ID)
	}
}

func TestServer_UnknownID(t *testing.T) {
	t.Parallel()

	h := New().Handler()
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/employee/99", ""},
		{http.MethodPut, "/update/99", `{"employee_name":"x"}`},
	} {
		code, resp := do(t, h, tc.method, tc.path, tc.body, nil)
		if code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, code)
		}
		if resp.Message == "" {
			t.Errorf("%s %s message is empty", tc.method, tc.path)
		}
	}
}

func TestServer_UpdateMergesFields(t *testing.T) {
	t.Parallel()

	s := New(WithEmployees(model.Employee{ID: "3", Name: "Old", Phone: "01234567890", Age: 30}))
	h := s.Handler()

	code, resp := do(t, h, http.MethodPut, "/update/3", `{"id":3,"employee_name":"New"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("PUT /update/3 status = %d: %s", code, resp.Message)
	}
	e, _, err := model.DecodeEmployee(resp.Data)
	if err != nil {
		t.Fatalf("DecodeEmployee() error = %v", err)
	}
	if e.Name != "New" || e.Phone != "01234567890" || e.Age != 30 {
		t.Errorf("updated = %+v", e)
	}
}

func TestServer_BadPayload(t *testing.T) {
	t.Parallel()

	code, _ := do(t, New().Handler(), http.MethodPost, "/create", `{`, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestServer_FailNext(t *testing.T) {
	t.Parallel()

	s := New()
	s.FailNext(http.StatusInternalServerError, "database unavailable")
	h := s.Handler()

	code, resp := do(t, h, http.MethodGet, "/employees", "", nil)
	if code != http.StatusInternalServerError || resp.Message != "database unavailable" {
		t.Errorf("first request = %d %q", code, resp.Message)
	}
	code, _ = do(t, h, http.MethodGet, "/employees", "", nil)
	if code != http.StatusOK {
		t.Errorf("second request status = %d, want 200", code)
	}
}

func TestServer_BearerTokens(t *testing.T) {
	t.Parallel()

	issuer, err := auth.NewTokenIssuer([]byte("secret"), time.Hour, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	token, _ := issuer.Issue("alice")
	h := New(WithTokenVerifier(issuer)).Handler()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			code, _ := do(t, h, http.MethodGet, "/employees", "", header)
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}
