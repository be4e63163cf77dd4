package router

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/controllers"
	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/app/repository"
	apiv1 "github.com/ManuelReschke/VenueFox/internal/api/v1"
	"github.com/ManuelReschke/VenueFox/internal/pkg/access"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/overrides"
	"github.com/ManuelReschke/VenueFox/internal/pkg/ratelimit"
)

const memberKey = "vfx_member"

type stubUsers struct{}

func (stubUsers) GetByAPIKeyHash(hash string) (*models.User, error) {
	if hash == models.HashAPIKey(memberKey) {
		return &models.User{ID: 1, Name: "member", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (stubUsers) TouchAPIKeyUsage(uint) error { return nil }

type stubTenants struct {
	repository.TenantRepository
}

func (stubTenants) GetByID(id uint) (*models.Tenant, error) {
	if id == 7 {
		return &models.Tenant{ID: 7, Name: "Dockside", Status: models.TENANT_STATUS_ACTIVE}, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (stubTenants) IsMember(tenantID, userID uint) (bool, error) {
	return tenantID == 7 && userID == 1, nil
}

type stubListings struct {
	repository.ListingRepository
}

func (stubListings) GetPublishedBySlug(string) (*models.Listing, error) {
	return nil, gorm.ErrRecordNotFound
}

func (stubListings) ListByTenant(uint, int, int) ([]models.Listing, error) {
	return []models.Listing{}, nil
}

func newTestApp(t *testing.T, limit int, validate bool) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := billing.NewMemoryStore()
	reconciler := billing.NewReconciler(store, nil)
	source := billing.NewStripeSource(billing.NewStripeVerifier("whsec_router_test", time.Minute), nil)
	gateway := billing.NewGateway(source, billing.NewRedisLedger(client, time.Hour, time.Second), reconciler, time.Second)
	service := billing.NewService(store, nil)
	tenants := stubTenants{}
	repos := &repository.Repositories{Tenant: tenants, Listing: stubListings{}}

	deps := Dependencies{
		Billing:   controllers.NewBillingController(gateway, service),
		Tenants:   controllers.NewTenantController(service, stubListings{}),
		Venues:    controllers.NewVenueController(stubListings{}),
		Admin:     controllers.NewAdminController(repos, overrides.NewChannel(reconciler), store, nil),
		Guard:     access.NewGuard(tenants, store),
		Users:     stubUsers{},
		RateLimit: ratelimit.Config{Max: limit, Expiration: time.Minute},
	}
	if validate {
		doc, err := apiv1.LoadSpec("../../../public/docs/v1/openapi.yml")
		require.NoError(t, err)
		deps.Validator, err = apiv1.RequestValidator(doc)
		require.NoError(t, err)
	}

	app := fiber.New()
	InstallRouter(app, deps)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, key, body string) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestInstallRouter(t *testing.T) {
	t.Setenv("MONITOR_PASSWORD", "scrape-secret")
	app := newTestApp(t, 100, true)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		want   int
	}{
		{"ping is public", fiber.MethodGet, "/api/v1/ping", "", "", fiber.StatusOK},
		{"metrics needs operator auth", fiber.MethodGet, "/metrics", "", "", fiber.StatusUnauthorized},
		{"monitor needs operator auth", fiber.MethodGet, "/monitor", "", "", fiber.StatusUnauthorized},
		{"webhook without signature", fiber.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1"}`, fiber.StatusUnauthorized},
		{"unpublished venue", fiber.MethodGet, "/venues/nowhere", "", "", fiber.StatusNotFound},
		{"tenant route needs key", fiber.MethodGet, "/api/v1/tenants/7/entitlements", "", "", fiber.StatusUnauthorized},
		{"unknown key", fiber.MethodGet, "/api/v1/tenants/7/entitlements", "vfx_nope", "", fiber.StatusUnauthorized},
		{"member sees entitlements", fiber.MethodGet, "/api/v1/tenants/7/entitlements", memberKey, "", fiber.StatusOK},
		{"non-member", fiber.MethodGet, "/api/v1/tenants/8/entitlements", memberKey, "", fiber.StatusForbidden},
		{"analytics paywalled", fiber.MethodGet, "/api/v1/tenants/7/analytics", memberKey, "", fiber.StatusPaymentRequired},
		{"bad tenant id rejected by validator", fiber.MethodGet, "/api/v1/tenants/x/listings", memberKey, "", fiber.StatusBadRequest},
		{"bad plan rejected by validator", fiber.MethodPost, "/api/v1/tenants/7/checkout", memberKey, `{"plan":"weekly"}`, fiber.StatusBadRequest},
		{"admin needs operator", fiber.MethodGet, "/api/v1/admin/tenants", memberKey, "", fiber.StatusForbidden},
		{"admin anonymous", fiber.MethodGet, "/api/v1/admin/tenants", "", "", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, app, tt.method, tt.path, tt.key, tt.body))
		})
	}
}

func TestInstallRouter_RateLimit(t *testing.T) {
	app := newTestApp(t, 2, false)

	assert.Equal(t, fiber.StatusOK, call(t, app, fiber.MethodGet, "/api/v1/ping", "", ""))
	assert.Equal(t, fiber.StatusOK, call(t, app, fiber.MethodGet, "/api/v1/ping", "", ""))
	assert.Equal(t, fiber.StatusTooManyRequests, call(t, app, fiber.MethodGet, "/api/v1/ping", "", ""))

	// webhooks are outside the limited group
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, fiber.MethodPost, "/webhooks/stripe", "", `{}`))
}

func TestInstallRouter_OperatorEndpoints(t *testing.T) {
	t.Setenv("MONITOR_USER", "ops")
	t.Setenv("MONITOR_PASSWORD", "scrape-secret")
	app := newTestApp(t, 100, false)

	tests := []struct {
		name     string
		user     string
		password string
		want     int
	}{
		{"valid credentials", "ops", "scrape-secret", fiber.StatusOK},
		{"wrong password", "ops", "nope", fiber.StatusUnauthorized},
		{"wrong user", "admin", "scrape-secret", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
			req.SetBasicAuth(tt.user, tt.password)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestInstallRouter_OperatorEndpointsOffWithoutPassword(t *testing.T) {
	t.Setenv("MONITOR_PASSWORD", "")
	app := newTestApp(t, 100, false)

	assert.Equal(t, fiber.StatusNotFound, call(t, app, fiber.MethodGet, "/metrics", "", ""))
	assert.Equal(t, fiber.StatusNotFound, call(t, app, fiber.MethodGet, "/monitor", "", ""))
}
