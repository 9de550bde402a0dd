package api

import (
	"context"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servicehours/internal/auth"
	"servicehours/internal/cloudinary"
	"servicehours/internal/config"
	"servicehours/internal/httpmiddleware"
	"servicehours/internal/identity"
	"servicehours/internal/ledger"
	"servicehours/internal/metrics"
	"servicehours/internal/preferences"
	"servicehours/internal/reconcile"
	"servicehours/internal/students"
	"servicehours/internal/workflow"
)

const (
	jsonBodyLimit   = 1 << 20
	uploadBodyLimit = cloudinary.MaxProofBytes*2 + 1<<20
)

type Gate interface {
	SignIn(ctx context.Context, in identity.SignInInput) (identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	SignOut(ctx context.Context, tokens ...auth.Claims) error
	ParseRefresh(token string) (auth.Claims, error)
}

type Students interface {
	Get(ctx context.Context, uid string) (students.Record, error)
	CompleteSetup(ctx context.Context, uid, class, location string) (students.Record, error)
	List(ctx context.Context, search string) ([]students.Record, error)
	Catalog() students.Catalog
}

type Ledger interface {
	Submit(ctx context.Context, studentID string, in ledger.SubmitInput) (ledger.Entry, error)
	List(ctx context.Context, studentID string, f ledger.Filter) (ledger.Page, error)
	Summary(ctx context.Context, studentID string) (ledger.Summary, error)
}

type Preferences interface {
	Submit(ctx context.Context, studentID, class, location string) (preferences.Request, error)
	Pending(ctx context.Context, studentID string) (preferences.Request, error)
	List(ctx context.Context) ([]preferences.Request, error)
}

type Workflow interface {
	Approve(ctx context.Context, entryID, verifierID string) (workflow.Result, error)
	Reject(ctx context.Context, entryID, verifierID string) (workflow.Result, error)
	AddPunishment(ctx context.Context, studentID string, hours float64, reason, adminID string) (workflow.Result, error)
	DeleteEntry(ctx context.Context, entryID string) (workflow.Result, error)
	ApprovePreference(ctx context.Context, requestID string) (workflow.PreferenceResult, error)
	RejectPreference(ctx context.Context, requestID string) (workflow.PreferenceResult, error)
}

type Reconciler interface {
	Check(ctx context.Context, uid string) (reconcile.Report, error)
	Repair(ctx context.Context, uid string) (reconcile.Report, error)
	Sweep(ctx context.Context, repair bool) (reconcile.SweepResult, error)
}

// Uploader stores proof images. Leave it nil when no storage is configured.
type Uploader interface {
	UploadDataURL(ctx context.Context, studentID, dataURL string) (cloudinary.UploadResult, error)
	UploadFile(ctx context.Context, studentID, filename string, r io.Reader) (cloudinary.UploadResult, error)
}

// Streamer upgrades a request to a live event stream for studentID.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, studentID string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps is everything the router needs. Uploader and Streamer may be nil.
type Deps struct {
	Gate        Gate
	Students    Students
	Ledger      Ledger
	Preferences Preferences
	Workflow    Workflow
	Reconcile   Reconciler
	Uploader    Uploader
	Streamer    Streamer

	Sessions *auth.Middleware
	Roles    auth.RoleChecker
	Limiter  httpmiddleware.Limiter
	Metrics  *metrics.Collectors
	Health   map[string]HealthCheck
	CORS     config.CORSConfig
	Logger   *zap.Logger
	Now      func() time.Time
}

type handler struct {
	Deps
	logger *zap.Logger
}

// NewRouter builds the HTTP surface of the service.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	registerValidators()

	h := &handler{Deps: d, logger: d.Logger.Named("api")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(d.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(d.CORS)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(d.Metrics.Middleware())
	if d.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(d.Limiter, httpmiddleware.ClientIP))
	}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	v1 := r.Group("/v1", httpmiddleware.BodyLimit(jsonBodyLimit))
	v1.GET("/catalog", h.catalog)
	v1.GET("/navigation", d.Sessions.OptionalSession(), h.navigation)

	authGroup := v1.Group("/auth")
	authGroup.POST("/google", h.signIn)
	authGroup.POST("/refresh", h.refresh)
	authGroup.POST("/signout", d.Sessions.RequireSession(false), h.signOut)

	me := v1.Group("/me", d.Sessions.RequireSession(false), h.perPrincipal())
	me.GET("", h.me)
	me.POST("/setup", h.completeSetup)
	me.POST("/preferences", h.requestPreferences)
	me.GET("/entries", h.myEntries)
	me.POST("/entries", h.submitEntry)

	// WebSocket clients pass the token as a query parameter.
	r.GET("/v1/me/stream", d.Sessions.RequireSession(true), h.myStream)
	r.GET("/v1/admin/stream", d.Sessions.RequireSession(true), auth.RequireAdmin(d.Roles), h.adminStream)

	r.POST("/v1/uploads", httpmiddleware.BodyLimit(uploadBodyLimit), d.Sessions.RequireSession(false), h.perPrincipal(), h.upload)

	admin := v1.Group("/admin", d.Sessions.RequireSession(false), auth.RequireAdmin(d.Roles))
	admin.GET("/students", h.listStudents)
	admin.GET("/students/export", h.exportStudents)
	admin.GET("/students/:id/entries", h.studentEntries)
	admin.POST("/students/:id/punishments", h.addPunishment)
	admin.POST("/students/:id/reconcile", h.reconcileStudent)
	admin.POST("/entries/:id/approve", h.approveEntry)
	admin.POST("/entries/:id/reject", h.rejectEntry)
	admin.DELETE("/entries/:id", h.deleteEntry)
	admin.GET("/preferences", h.listPreferences)
	admin.POST("/preferences/:id/approve", h.approvePreference)
	admin.POST("/preferences/:id/reject", h.rejectPreference)
	admin.POST("/reconcile", h.sweep)

	return r
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 || slices.Contains(cfg.AllowOrigins, "*") {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}
	c.AllowOrigins = cfg.AllowOrigins
	return c
}

// perPrincipal counts requests against the signed-in caller.
func (h *handler) perPrincipal() gin.HandlerFunc {
	if h.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return httpmiddleware.RateLimit(h.Limiter, func(c *gin.Context) string {
		if claims, ok := auth.ClaimsFrom(c); ok {
			return "uid:" + claims.Subject
		}
		return httpmiddleware.ClientIP(c)
	})
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *handler) catalog(c *gin.Context) {
	cat := h.Students.Catalog()
	c.JSON(http.StatusOK, gin.H{"classes": cat.Classes, "locations": cat.Locations})
}

func (h *handler) navigation(c *gin.Context) {
	var v Viewer
	if claims, ok := auth.ClaimsFrom(c); ok {
		v.SignedIn = true
		v.IsAdmin = h.Roles.IsAdmin(claims.Email)
		rec, err := h.Students.Get(c.Request.Context(), claims.Subject)
		switch {
		case err == nil:
			v.NeedsSetup = rec.NeedsSetup() && !v.IsAdmin
		case statusOf(err) == http.StatusNotFound:
			v.NeedsSetup = !v.IsAdmin
		default:
			h.fail(c, err)
			return
		}
	}
	path := c.DefaultQuery("path", "/")
	to := ResolveRoute(path, v)
	c.JSON(http.StatusOK, gin.H{"path": to, "redirected": to != cleanPath(path)})
}

func claimsOf(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}
