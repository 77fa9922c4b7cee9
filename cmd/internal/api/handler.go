// Package api is the podium REST surface: login, the debate and topic
// catalog, room joins and challenges.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"podium/cmd/internal/backend"
	"podium/cmd/security/token"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Config struct {
	TokenTTL    time.Duration
	LoginMax    int
	LoginWindow time.Duration
	TrustProxy  bool
}

func DefaultConfig() Config {
	return Config{TokenTTL: 12 * time.Hour, LoginMax: 10, LoginWindow: time.Minute}
}

// Handler wires HTTP endpoints to the backend service.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	svc    *backend.Service
	tokens *tokenStore
	logins *loginLimiter
	now    func() time.Time
}

type HandlerOption func(*Handler)

// WithClock overrides time.Now for token expiry and rate limiting.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, svc *backend.Service, hasher token.Hasher, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, backend.OpError{Op: "api.NewHandler", Kind: backend.ErrInvalidInput, Msg: "nil service"}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	h := &Handler{
		log:    log,
		cfg:    cfg,
		svc:    svc,
		tokens: newTokenStore(hasher, cfg.TokenTTL),
		logins: newLoginLimiter(cfg.LoginMax, cfg.LoginWindow),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes returns the API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", h.handleLogin)
	r.With(h.requireUser).Post("/auth/logout", h.handleLogout)

	r.Get("/topics", h.handleTopics)
	r.Get("/users", h.handleUsers)

	r.Route("/debates", func(r chi.Router) {
		r.Get("/", h.handleDebates)
		r.Get("/{id}", h.handleDebate)
		r.Get("/{id}/messages", h.handleMessages)
		r.With(h.requireUser, requireRole(v1.RoleDebater)).Post("/{id}/join", h.handleJoin)
	})

	r.Route("/challenges", func(r chi.Router) {
		r.Get("/", h.handleChallenges)
		r.Group(func(r chi.Router) {
			r.Use(h.requireUser, requireRole(v1.RoleDebater))
			r.Post("/", h.handleCreateChallenge)
			r.Post("/{id}/accept", h.handleAcceptChallenge)
			r.Post("/{id}/decline", h.handleDeclineChallenge)
		})
	})
	return r
}

type ctxKey struct{}

func userFrom(ctx context.Context) v1.User {
	u, _ := ctx.Value(ctxKey{}).(v1.User)
	return u
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.tokens.lookup(bearerToken(r), h.now())
		if !ok {
			writeError(w, http.StatusUnauthorized, v1.CodeUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func requireRole(role v1.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userFrom(r.Context()).Role != role {
				writeError(w, http.StatusForbidden, v1.CodeForbidden, "requires role "+string(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if ok, retry := h.logins.allow(clientIP(r, h.cfg.TrustProxy), now); !ok {
		h.log.Warn("api.login.rate_limited", "ip", clientIP(r, h.cfg.TrustProxy))
		writeRateLimited(w, retry)
		return
	}

	var req v1.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, v1.CodeInvalidInput, "invalid json")
		return
	}
	u, err := h.svc.Login(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	tok, err := h.tokens.issue(u, now)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v1.LoginResponse{User: u, Token: tok})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.tokens.revoke(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.ListTopics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	role := v1.Role(strings.TrimSpace(r.URL.Query().Get("role")))
	us, err := h.svc.ListUsers(r.Context(), role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}

func (h *Handler) handleDebates(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.ListDebates(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *Handler) handleDebate(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.FetchDebate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	ms, err := h.svc.MessagesForDebate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req v1.JoinRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, v1.CodeInvalidInput, "invalid json")
		return
	}
	if req.Position != "" && !req.Position.Valid() {
		writeError(w, http.StatusBadRequest, v1.CodeInvalidInput, "invalid position")
		return
	}
	u := userFrom(r.Context())
	d, err := h.svc.Join(r.Context(), chi.URLParam(r, "id"), v1.Participant{ID: u.ID, Username: u.Username, Position: req.Position})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleChallenges(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.ListChallenges(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req v1.CreateChallengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, v1.CodeInvalidInput, "invalid json")
		return
	}
	c, err := h.svc.CreateChallenge(r.Context(), userRef(userFrom(r.Context())), req.TopicID, req.Position)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleAcceptChallenge(w http.ResponseWriter, r *http.Request) {
	c, d, err := h.svc.AcceptChallenge(r.Context(), chi.URLParam(r, "id"), userRef(userFrom(r.Context())))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v1.AcceptChallengeResponse{Challenge: c, Debate: d})
}

func (h *Handler) handleDeclineChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.DeclineChallenge(r.Context(), chi.URLParam(r, "id"), userRef(userFrom(r.Context())))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func userRef(u v1.User) v1.UserRef { return v1.UserRef{ID: u.ID, Username: u.Username} }
