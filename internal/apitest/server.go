// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apitest runs an in-process fake of the task service for tests.
//
// It implements the same endpoints, status codes, and error bodies as the
// real service: bcrypt-hashed accounts, HS256 access tokens, per-user todos,
// and an event-stream chat endpoint whose output can be split, truncated, or
// held open to exercise the streaming client.
//
// # Usage
//
//	srv := apitest.NewServer(t)
//	srv.AddUser("a@b.com", "Passw0rd!")
//	client := api.NewClient(srv.URL())
package apitest

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Error details sent by the service.
const (
	DetailBadCredentials = "Incorrect email or password"
	DetailDuplicateEmail = "Email already registered"
	DetailInvalidToken   = "Invalid or expired token"
	DetailTodoNotFound   = "Todo not found"
)

// tokenTTL matches the service's access token lifetime.
const tokenTTL = 60 * time.Minute

// Todo is a stored task.
type Todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Message is one chat message as received by the chat endpoints.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request records what the server saw for one request.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type user struct {
	id    int
	hash  []byte
	todos []Todo
}

// Server is the fake service.
type Server struct {
	ts *httptest.Server

	mu       sync.Mutex
	secret   []byte
	users    map[string]*user
	nextUser int
	nextTodo int
	requests []Request
	messages []Message

	// stream behaviour
	reply     []string
	writeSize int
	omitDone  bool
	failAfter int
	gate      chan struct{}
}

// NewServer starts a server and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:   newSecret(),
		users:    make(map[string]*user),
		nextUser: 1,
		nextTodo: 1,
		reply:    []string{"hello", "world"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /todos", s.authed(s.handleListTodos))
	mux.HandleFunc("POST /todos", s.authed(s.handleAddTodo))
	mux.HandleFunc("PATCH /todos/{id}", s.authed(s.handleUpdateTodo))
	mux.HandleFunc("DELETE /todos/{id}", s.authed(s.handleDeleteTodo))
	mux.HandleFunc("POST /ai/chat", s.authed(s.handleChat))
	mux.HandleFunc("POST /ai/chat/stream", s.authed(s.handleChatStream))

	s.ts = httptest.NewServer(s.record(mux))
	t.Cleanup(s.ts.Close)
	return s
}

func newSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// URL returns the base URL.
func (s *Server) URL() string {
	return s.ts.URL
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// AddUser creates an account directly.
func (s *Server) AddUser(email, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[normalizeEmail(email)] = &user{id: s.nextUser, hash: hash}
	s.nextUser++
}

// IssueToken returns a valid token for an existing account.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.signLocked(normalizeEmail(email))
	if err != nil {
		panic(err)
	}
	return tok
}

// RevokeTokens invalidates every token issued so far.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = newSecret()
}

// SetReply sets the fragments the chat endpoints answer with.
func (s *Server) SetReply(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fragments
}

// SetWriteSize makes the stream endpoint write its body n bytes at a time,
// flushing after each write. n <= 0 writes one record per flush.
func (s *Server) SetWriteSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeSize = n
}

// OmitDone makes the stream end without the sentinel.
func (s *Server) OmitDone(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitDone = omit
}

// FailAfter makes the stream drop the connection after n bytes. n <= 0
// disables it.
func (s *Server) FailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// HoldAfterFirst makes the stream pause after its first fragment until the
// returned function is called or the client goes away.
func (s *Server) HoldAfterFirst() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastMessages returns the messages of the most recent chat request.
func (s *Server) LastMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Todos returns the stored todos of an account.
func (s *Server) Todos(email string) []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[normalizeEmail(email)]
	if u == nil {
		return nil
	}
	return append([]Todo(nil), u.todos...)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, u *user)

func (s *Server) authed(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		s.mu.Lock()
		secret := s.secret
		s.mu.Unlock()

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, DetailInvalidToken)
			return
		}

		s.mu.Lock()
		u := s.users[claims.Subject]
		s.mu.Unlock()
		if u == nil {
			writeDetail(w, http.StatusUnauthorized, "User not found")
			return
		}
		h(w, r, u)
	}
}

func (s *Server) signLocked(email string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var (
	lowerRE = regexp.MustCompile(`[a-z]`)
	upperRE = regexp.MustCompile(`[A-Z]`)
	digitRE = regexp.MustCompile(`\d`)
)

// passwordProblem mirrors the service's password policy.
func passwordProblem(pw string) string {
	var missing []string
	if len(pw) < 8 {
		missing = append(missing, "at least 8 characters")
	}
	if !lowerRE.MatchString(pw) {
		missing = append(missing, "a lowercase letter (a-z)")
	}
	if !upperRE.MatchString(pw) {
		missing = append(missing, "an uppercase letter (A-Z)")
	}
	if !digitRE.MatchString(pw) {
		missing = append(missing, "a number (0-9)")
	}
	if len(missing) == 0 {
		return ""
	}
	return "Password must include: " + strings.Join(missing, ", ") + "."
}

func (s *Server) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeValidation(w, "Invalid JSON body")
		return c, false
	}
	if !strings.Contains(c.Email, "@") {
		writeValidation(w, "value is not a valid email address")
		return c, false
	}
	return c, true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	c, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	if msg := passwordProblem(c.Password); msg != "" {
		writeDetail(w, http.StatusBadRequest, msg)
		return
	}

	email := normalizeEmail(c.Email)
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	if _, exists := s.users[email]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, DetailDuplicateEmail)
		return
	}
	u := &user{id: s.nextUser, hash: hash}
	s.users[email] = u
	s.nextUser++
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": u.id, "email": email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	email := normalizeEmail(c.Email)

	s.mu.Lock()
	u := s.users[email]
	s.mu.Unlock()
	if u == nil || bcrypt.CompareHashAndPassword(u.hash, []byte(c.Password)) != nil {
		writeDetail(w, http.StatusBadRequest, DetailBadCredentials)
		return
	}

	s.mu.Lock()
	tok, err := s.signLocked(email)
	s.mu.Unlock()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok, "token_type": "bearer"})
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

func (s *Server) handleListTodos(w http.ResponseWriter, _ *http.Request, u *user) {
	s.mu.Lock()
	out := append([]Todo{}, u.todos...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddTodo(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Title *string `json:"title"`
		Done  bool    `json:"done"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == nil {
		writeValidation(w, "Field required")
		return
	}
	s.mu.Lock()
	t := Todo{ID: s.nextTodo, Title: *in.Title, Done: in.Done}
	s.nextTodo++
	u.todos = append(u.todos, t)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request, u *user) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeValidation(w, "Input should be a valid integer")
		return
	}
	var in struct {
		Title *string `json:"title"`
		Done  *bool   `json:"done"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeValidation(w, "Invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range u.todos {
		if u.todos[i].ID != id {
			continue
		}
		if in.Title != nil {
			u.todos[i].Title = *in.Title
		}
		if in.Done != nil {
			u.todos[i].Done = *in.Done
		}
		writeJSON(w, http.StatusOK, u.todos[i])
		return
	}
	writeDetail(w, http.StatusNotFound, DetailTodoNotFound)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request, u *user) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeValidation(w, "Input should be a valid integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range u.todos {
		if u.todos[i].ID == id {
			u.todos = append(u.todos[:i], u.todos[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, DetailTodoNotFound)
}

// =============================================================================
// CHAT HANDLERS
// =============================================================================

func (s *Server) readMessages(w http.ResponseWriter, r *http.Request) bool {
	var in struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Messages) == 0 {
		writeValidation(w, "Field required")
		return false
	}
	s.mu.Lock()
	s.messages = in.Messages
	s.mu.Unlock()
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ *user) {
	if !s.readMessages(w, r) {
		return
	}
	s.mu.Lock()
	reply := strings.Join(s.reply, " ")
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": reply})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, _ *user) {
	if !s.readMessages(w, r) {
		return
	}

	s.mu.Lock()
	reply := append([]string(nil), s.reply...)
	writeSize, omitDone, failAfter, gate := s.writeSize, s.omitDone, s.failAfter, s.gate
	s.mu.Unlock()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var records []string
	for _, frag := range reply {
		records = append(records, fmt.Sprintf("data: %s\n\n", frag))
	}
	if !omitDone {
		records = append(records, "data: [DONE]\n\n")
	}

	written := 0
	write := func(p string) bool {
		if failAfter > 0 && written+len(p) > failAfter {
			p = p[:failAfter-written]
			w.Write([]byte(p))
			if flusher != nil {
				flusher.Flush()
			}
			// Drops the connection without a clean chunked terminator.
			panic(http.ErrAbortHandler)
		}
		if _, err := w.Write([]byte(p)); err != nil {
			return false
		}
		written += len(p)
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for i, rec := range records {
		if writeSize <= 0 {
			if !write(rec) {
				return
			}
		} else {
			for len(rec) > 0 {
				n := min(writeSize, len(rec))
				if !write(rec[:n]) {
					return
				}
				rec = rec[n:]
			}
		}

		if i == 0 && gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"msg": msg, "type": "value_error"}},
	})
}
