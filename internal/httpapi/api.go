// Package httpapi is the HTTP surface of the authorization service: the
// administrative catalog API, the resolution endpoints consumed by business
// modules and the SSE event stream.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/capability"
	"dealerdesk.io/internal/events"
	"dealerdesk.io/internal/obs"
)

// ReadyProbe reports whether the backing store can serve requests.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. The rate and CORS fields are mutable so main and
// tests can apply configuration before Handler is called.
type API struct {
	authz    *authz.Service
	resolver *authz.Resolver
	caps     *capability.Service
	bus      *events.Bus
	probe    ReadyProbe
	version  string

	tokenTTL    time.Duration
	ratePerSec  float64
	rateBurst   int
	corsOrigins []string
}

func New(svc *authz.Service, resolver *authz.Resolver, caps *capability.Service, bus *events.Bus, probe ReadyProbe, version string) *API {
	return &API{
		authz:    svc,
		resolver: resolver,
		caps:     caps,
		bus:      bus,
		probe:    probe,
		version:  version,

		tokenTTL:   12 * time.Hour,
		ratePerSec: 50,
		rateBurst:  100,
	}
}

// SetTokenTTL overrides the lifetime of minted tokens.
func (a *API) SetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		a.tokenTTL = ttl
	}
}

// SetRateLimit overrides the per-client rate and burst.
func (a *API) SetRateLimit(perSec float64, burst int) {
	if perSec > 0 {
		a.ratePerSec = perSec
	}
	if burst > 0 {
		a.rateBurst = burst
	}
}

// SetCORSOrigins overrides the allowed browser origins. Call before Handler.
func (a *API) SetCORSOrigins(origins []string) {
	a.corsOrigins = origins
}

// Handler assembles the router. Instrumentation runs first so the route
// pattern recorded by chi is available for the metric labels.
func (a *API) Handler() http.Handler {
	origins := a.corsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	r := chi.NewRouter()
	r.Use(obs.Instrument)
	r.Use(a.requestID)
	r.Use(a.logRequests)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(maxBodyBytes(1 << 20))
	r.Use(a.rateLimit)
	r.Use(a.withAuth)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", a.mintToken)
		r.Get("/info", a.info)

		r.Get("/permissions", a.listPermissions)
		r.Post("/resolve", a.resolve)
		r.Post("/capabilities/resolve", a.resolveCapabilities)

		r.Get("/events", a.streamEvents)

		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", a.createTenant)
			r.Get("/", a.listTenants)
			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", a.getTenant)
				r.Delete("/", a.deactivateTenant)

				r.Get("/members", a.listMembers)
				r.Post("/members", a.addMember)
				r.Delete("/members/{principalID}", a.deactivateMember)
				r.Get("/members/{principalID}/roles", a.memberRoles)

				r.Get("/roles", a.listRoles)
				r.Post("/roles", a.createRole)
				r.Route("/roles/{roleID}", func(r chi.Router) {
					r.Get("/", a.getRole)
					r.Patch("/", a.updateRole)
					r.Delete("/", a.deleteRole)
					r.Get("/permissions", a.roleGrants)
					r.Put("/permissions", a.replaceRoleGrants)
					r.Get("/modules", a.roleModules)
					r.Put("/modules", a.setModuleAccess)
				})

				r.Post("/assignments", a.assignRole)
				r.Delete("/assignments/{principalID}/{roleID}", a.unassignRole)

				r.Post("/invitations", a.createInvitation)
				r.Get("/invitations", a.listInvitations)

				r.Get("/reconciliation", a.reconciliationReport)
				r.Post("/reconciliation", a.reconcile)

				r.Get("/conversations", a.listConversations)
				r.Post("/conversations", a.createConversation)

				r.Get("/capability-templates", a.listTemplates)
				r.Put("/capability-templates/{role}", a.setTemplate)
				r.Delete("/capability-templates/{role}", a.deleteTemplate)
			})
		})

		r.Route("/principals", func(r chi.Router) {
			r.Post("/", a.createPrincipal)
			r.Route("/{principalID}", func(r chi.Router) {
				r.Get("/", a.getPrincipal)
				r.Put("/global-role", a.setGlobalRole)
				r.Get("/memberships", a.principalMemberships)
				r.Get("/tenants", a.principalTenants)
				r.Get("/system-grants", a.listSystemGrants)
				r.Post("/system-grants", a.grantSystem)
				r.Delete("/system-grants/{key}", a.revokeSystem)
			})
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Post("/accept", a.acceptInvitation)
			r.Get("/{invitationID}", a.getInvitation)
			r.Post("/{invitationID}/revoke", a.revokeInvitation)
		})

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", a.getConversation)
			r.Get("/members", a.conversationMembers)
			r.Put("/members/{principalID}", a.setConversationMember)
			r.Put("/members/{principalID}/override", a.setMemberOverride)
			r.Delete("/members/{principalID}", a.removeConversationMember)
		})
	})

	return r
}

// --- health and info ---

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "dealerdesk-authz",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "dealerdesk-authz",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
