// Package mockserver is an in-memory stand-in for the employee REST API.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"empctl/internal/auth"
	"empctl/internal/emp"
	"empctl/internal/model"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type failure struct {
	status  int
	message string
}

// Server keeps employees in memory and assigns sequential ids.
type Server struct {
	mu        sync.Mutex
	employees map[model.ID]model.Employee
	order     []model.ID
	nextID    int
	failures  []failure
	requests  map[string]int

	verifier *auth.TokenIssuer
	logger   emp.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStartID sets the id assigned to the next created employee.
func WithStartID(id int) Option {
	return func(s *Server) { s.nextID = id }
}

// WithTokenVerifier requires every request to carry a bearer token accepted
// by v.
func WithTokenVerifier(v *auth.TokenIssuer) Option {
	return func(s *Server) { s.verifier = v }
}

// WithLogger sets the request logger.
func WithLogger(l emp.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEmployees seeds the server. Seeded records keep their ids; records
// without one are assigned the next id.
func WithEmployees(employees ...model.Employee) Option {
	return func(s *Server) {
		for _, e := range employees {
			s.insert(e)
		}
	}
}

// New creates a Server. Ids start at 1 unless WithStartID says otherwise.
func New(opts ...Option) *Server {
	s := &Server{
		employees: make(map[model.ID]model.Employee),
		nextID:    1,
		requests:  make(map[string]int),
		logger:    emp.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// insert must be called with mu held or before the server is shared.
func (s *Server) insert(e model.Employee) model.Employee {
	if e.ID == "" {
		e.ID = model.ID(strconv.Itoa(s.nextID))
		s.nextID++
	} else if n, err := strconv.Atoi(e.ID.String()); err == nil && n >= s.nextID {
		s.nextID = n + 1
	}
	if _, exists := s.employees[e.ID]; !exists {
		s.order = append(s.order, e.ID)
	}
	s.employees[e.ID] = e.Clone()
	return e
}

// FailNext makes the next request fail with status and message.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, message: message})
}

// Requests returns how many requests hit the route named "METHOD /path-template".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Employees returns the stored records in creation order.
func (s *Server) Employees() []model.Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Employee, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.employees[id].Clone())
	}
	return out
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/employees", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/employee/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/create", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/update/{id}", s.handleUpdate).Methods(http.MethodPut)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	r.Use(s.countRequests, s.injectFailures, s.authenticate)
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.mu.Lock()
		s.requests[r.Method+" "+route]++
		s.mu.Unlock()
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var f *failure
		if len(s.failures) > 0 {
			f = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()
		if f != nil {
			writeError(w, f.status, f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		if _, err := s.verifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Data:    s.Employees(),
		Message: "Successfully! All records has been fetched.",
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := model.ID(mux.Vars(r)["id"])
	s.mu.Lock()
	e, ok := s.employees[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Employee %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Data:    e,
		Message: "Successfully! Record has been fetched.",
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var e model.Employee
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid employee payload")
		return
	}
	e.ID = ""

	s.mu.Lock()
	created := s.insert(e)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Data:    created,
		Message: "Successfully! Record has been added.",
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := model.ID(mux.Vars(r)["id"])
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid employee payload")
		return
	}
	delete(fields, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.employees[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Employee %s not found", id))
		return
	}
	updated, err := model.MergeFields(current, fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid employee payload")
		return
	}
	updated.ID = id
	s.employees[id] = updated

	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Data:    updated,
		Message: "Successfully! Record has been updated.",
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: statusError, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("mock server listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
