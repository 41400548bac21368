// Package devremote is an in-memory system of record that speaks the remote
// JSON-over-HTTP contract. It backs the devremote command and end-to-end
// tests of the replication pipeline.
package devremote

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/remote"
)

// Path is the single endpoint the contract uses for reads and writes.
const Path = "/exec"

const tenantKey = "tenant"

// Options configure a Server.
type Options struct {
	// Secret verifies bearer tokens. Empty disables authentication.
	Secret string
	Clock  clock.Clock
	Log    *zap.Logger
}

// Server holds per-tenant remote state.
//
// Thread-safety: all methods are safe for concurrent use.
type Server struct {
	secret string
	clock  clock.Clock
	log    *zap.Logger
	engine *gin.Engine

	mu    sync.Mutex
	books map[string]*book
}

// New builds a server and its routes.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Server{
		secret: opts.Secret,
		clock:  opts.Clock,
		log:    opts.Log.Named("devremote"),
		books:  map[string]*book{},
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	authed := r.Group("/", s.bearer())
	authed.POST(Path, s.ingest)
	authed.GET(Path, s.query)
	authed.GET("/events", s.listEvents)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// bearer verifies an HS256 token from the Authorization header, falling
// back to the token query parameter, and stores its tenant on the context.
func (s *Server) bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.secret == "" {
			c.Next()
			return
		}
		var token string
		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			fail(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := remote.Verify(s.secret, token, s.clock.Now())
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(tenantKey, claims.Tenant)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("action", c.GetString("action")),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// tenantAllowed rejects a request whose tenant differs from its token's.
func tenantAllowed(c *gin.Context, tenant string) bool {
	claimed, ok := c.Get(tenantKey)
	if !ok || claimed == tenant {
		return true
	}
	fail(c, http.StatusForbidden, "token is not valid for tenant "+tenant)
	return false
}

func (s *Server) ingest(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 8<<20))
	if err != nil {
		fail(c, http.StatusBadRequest, "read body")
		return
	}
	var env struct {
		Action string `json:"action"`
		Tenant string `json:"tenant"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Action == "" {
		fail(c, http.StatusBadRequest, "body must be an object with an action")
		return
	}
	c.Set("action", env.Action)
	if !tenantAllowed(c, env.Tenant) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.book(env.Tenant)
	if err := b.apply(env.Action, data); err != nil {
		// The contract reports rejections in the body, not the status.
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}
	b.events = append(b.events, Event{Action: env.Action, At: s.clock.Now(), Body: data})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) query(c *gin.Context) {
	action := c.Query("action")
	tenant := c.Query("tenant")
	c.Set("action", action)
	if !tenantAllowed(c, tenant) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.book(tenant)
	switch action {
	case remote.ActionListOpenTickets:
		c.JSON(http.StatusOK, gin.H{"ok": true, "tickets": b.snapshot})
	case remote.ActionGetCurrentShift:
		c.JSON(http.StatusOK, gin.H{"ok": true, "shift": b.currentShift()})
	case remote.ActionShiftSummary:
		c.JSON(http.StatusOK, gin.H{"ok": true, "summary": b.summary(c.Query("shiftId"))})
	default:
		fail(c, http.StatusBadRequest, "unknown action "+action)
	}
}

func (s *Server) listEvents(c *gin.Context) {
	tenant := c.Query("tenant")
	if !tenantAllowed(c, tenant) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": s.Events(tenant)})
}

// book returns the tenant's book, creating it. Callers hold s.mu.
func (s *Server) book(tenant string) *book {
	b, ok := s.books[tenant]
	if !ok {
		b = newBook()
		s.books[tenant] = b
	}
	return b
}

// Events returns the ingestion calls accepted for tenant, oldest first.
func (s *Server) Events(tenant string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[tenant]
	if !ok {
		return []Event{}
	}
	return append([]Event{}, b.events...)
}

// OpenTickets returns the tenant's last open-ticket snapshot.
func (s *Server) OpenTickets(tenant string) []remote.SnapshotTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.SnapshotTicket{}, s.book(tenant).snapshot...)
}

// Sale returns the recorded sale of a ticket, with void corrections
// applied.
func (s *Server) Sale(tenant, ticketID string) (remote.TicketRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.book(tenant).sales[ticketID]
	return rec, ok
}

// Pages returns the pages sent for tenant.
func (s *Server) Pages(tenant string) []remote.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Page{}, s.book(tenant).pages...)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}
