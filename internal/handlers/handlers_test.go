package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"boatmarket/internal/config"
	"boatmarket/internal/models"
	"boatmarket/internal/payment"
	"boatmarket/internal/repository"
	"boatmarket/internal/security"
	"boatmarket/internal/service"
	"boatmarket/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testJWTSecret     = "jwt-secret"
	testWebhookSecret = "whsec_handlers"
	testOpsSecret     = "ops-secret"
)

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string]storage.Blob
}

func (m *memBlobs) Put(_ context.Context, in storage.PutInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[in.Key] = storage.Blob{Data: in.Data, ContentType: in.ContentType}
	return m.PublicURL(in.Key), nil
}

func (m *memBlobs) Get(_ context.Context, key string) (storage.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blobs[key]; ok {
		return b, nil
	}
	return storage.Blob{}, storage.ErrObjectNotFound
}

func (m *memBlobs) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return true
}

func (m *memBlobs) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memBlobs) PublicURL(key string) string { return "https://img.test/" + key }

func (m *memBlobs) KeyFromURL(url string) (string, bool) {
	return strings.CutPrefix(url, "https://img.test/")
}

type memListings struct {
	mu   sync.Mutex
	rows map[string]models.Listing
}

func (m *memListings) Create(_ context.Context, l models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[l.ID] = l
	return nil
}

func (m *memListings) GetByID(_ context.Context, id string) (models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.rows[id]; ok {
		return l, nil
	}
	return models.Listing{}, repository.ErrListingNotFound
}

func (m *memListings) UpdateStatus(_ context.Context, id string, status models.ListingStatus, from ...models.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	if len(from) > 0 && !containsStatus(from, l.Status) {
		return repository.ErrListingNotFound
	}
	l.Status = status
	m.rows[id] = l
	return nil
}

func containsStatus(set []models.ListingStatus, s models.ListingStatus) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}

func (m *memListings) SetPhotos(_ context.Context, id string, photos []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.rows[id]
	l.Photos = photos
	m.rows[id] = l
	return nil
}

func (m *memListings) AppendPhotos(_ context.Context, id string, photos []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.rows[id]
	l.Photos = append(l.Photos, photos...)
	m.rows[id] = l
	return nil
}

func (m *memListings) Delete(_ context.Context, id string, from ...models.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok || (len(from) > 0 && !containsStatus(from, l.Status)) {
		return repository.ErrListingNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memListings) ListByStatus(_ context.Context, status models.ListingStatus) ([]models.ListingWithOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ListingWithOwner
	for _, l := range m.rows {
		if l.Status == status {
			out = append(out, models.ListingWithOwner{Listing: l, Owner: models.ListingOwner{ID: l.UserID}})
		}
	}
	return out, nil
}

func (m *memListings) ListByUser(context.Context, string) ([]models.Listing, error) {
	return nil, nil
}

func (m *memListings) Search(context.Context, repository.ListingFilter) ([]models.Listing, error) {
	return nil, nil
}

func (m *memListings) exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

type memPayments struct{}

func (memPayments) Create(context.Context, models.Payment) error { return nil }

func (memPayments) GetBySessionID(context.Context, string) (models.Payment, error) {
	return models.Payment{}, repository.ErrPaymentNotFound
}

type stubUsers map[string]models.User

func (s stubUsers) GetByID(_ context.Context, id string) (models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s stubUsers) Create(_ context.Context, u models.User) error {
	s[u.ID] = u
	return nil
}

func (s stubUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	for _, u := range s {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s stubUsers) UpdatePassword(_ context.Context, id string, hash []byte) error {
	u, ok := s[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	s[id] = u
	return nil
}

type stubSessions struct{}

func (stubSessions) GetByID(_ context.Context, id string) (models.Session, error) {
	userID, _ := strings.CutPrefix(id, "s-")
	return models.Session{ID: id, UserID: userID, DeviceID: "d-" + userID}, nil
}

func (stubSessions) Touch(context.Context, string, string, string) error { return nil }

func (stubSessions) Create(context.Context, models.Session) error { return nil }

func (stubSessions) CountByUser(context.Context, string) (int, error) { return 1, nil }

func (stubSessions) DeleteOldestSessions(context.Context, string, int) error { return nil }

func (stubSessions) FindByRefreshHash(context.Context, string, []byte) (models.Session, error) {
	return models.Session{}, repository.ErrSessionNotFound
}

func (stubSessions) DeleteByID(context.Context, string) error { return nil }

func (stubSessions) DeleteByDevice(context.Context, string, string) error { return nil }

type memCatalog struct {
	mu       sync.Mutex
	products map[string]models.Product
	prices   map[string]models.Price
}

func (m *memCatalog) UpsertProduct(_ context.Context, p models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *memCatalog) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

func (m *memCatalog) UpsertPrice(_ context.Context, p models.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ProductID]; !ok {
		return repository.ErrProductMissing
	}
	m.prices[p.ID] = p
	return nil
}

func (m *memCatalog) DeletePrice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prices, id)
	return nil
}

func (m *memCatalog) PriceAvailable(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id]
	return ok && p.Active && m.products[p.ProductID].Active, nil
}

func (m *memCatalog) ListActiveProducts(context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		if !p.Active {
			continue
		}
		p.Prices = []models.Price{}
		for _, price := range m.prices {
			if price.ProductID == p.ID && price.Active {
				p.Prices = append(p.Prices, price)
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	router   *gin.Engine
	listings *memListings
	blobs    *memBlobs
	mr       *miniredis.Miniredis
	users    stubUsers
	catalog  *memCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.AppConfig{
		Environment: "test",
		Security:    config.SecurityConfig{JWTAccessSecret: testJWTSecret, OperatorSecret: testOpsSecret},
		Payment:     config.PaymentConfig{WebhookSecret: testWebhookSecret, WebhookTimeout: 5 * time.Second},
		Uploads:     config.UploadConfig{MaxFileSize: 1 << 20, MaxFiles: 3, Quality: 80},
		Staging:     config.StagingConfig{ReapAfter: 2 * time.Hour},
		Cleanup:     config.CleanupConfig{RetryAttempts: 1, RetryBase: time.Millisecond},
	}
	log := zerolog.Nop()

	listings := &memListings{rows: map[string]models.Listing{}}
	blobs := &memBlobs{blobs: map[string]storage.Blob{}}
	states := service.NewListingStateMachine(listings, nil, cfg.Cleanup, log)
	staging := service.NewStagingService(blobs, cfg.Uploads.Quality, log)
	provider := payment.NewStripeProvider(cfg.Payment, log)
	catalogStore := &memCatalog{products: map[string]models.Product{}, prices: map[string]models.Price{}}
	catalog := service.NewCatalogService(catalogStore, log)

	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Listings: listings,
		Payments: memPayments{},
		Provider: provider,
		States:   states,
		Staging:  staging,
		Catalog:  catalog,
	}, cfg, log)

	ownerHash, err := security.HashPassword("owner-password")
	require.NoError(t, err)
	users := stubUsers{
		"owner": {ID: "owner", Email: "owner@example.com", PasswordHash: ownerHash, Status: models.UserStatusActive, Role: models.UserRoleUser},
		"admin": {ID: "admin", Status: models.UserStatusActive, Role: models.UserRoleAdmin},
	}

	hs := NewHandlerSet(Deps{
		Config: cfg,
		Log:    log,
		DB:     okPinger{},
		Cache:  rdb,
		Users:    users,
		Sessions: stubSessions{},
		Auth:     service.NewAuthService(users, stubSessions{}, cfg.Security, log),
		Staging:  staging,
		Checkout: checkout,
		Catalog:  catalog,
		Listings: service.NewListingService(listings, memPayments{}, blobs, nil, cfg.Uploads, log),
		States:   states,
		Provider: provider,
	})

	r := gin.New()
	hs.Register(r.Group("/api"))
	return &testEnv{router: r, listings: listings, blobs: blobs, mr: mr, users: users, catalog: catalogStore}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	token, err := security.GenerateAccessToken(testJWTSecret, security.AccessClaimsInput{
		UserID: userID, SessionID: "s-" + userID, DeviceID: "d-" + userID, Role: string(role),
	}, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func signedWebhook(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

const expiredPayload = `{
  "id": "evt_exp",
  "object": "event",
  "type": "checkout.session.expired",
  "api_version": "2024-06-20",
  "data": {"object": {"id": "cs_1", "object": "checkout.session", "mode": "payment", "metadata": {"user_id": "owner", "listing_id": "l-1"}}}
}`

func TestWebhookBadSignatureHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.listings.rows["l-1"] = models.Listing{ID: "l-1", UserID: "owner", Status: models.ListingStatusPending}

	req := signedWebhook(t, expiredPayload)
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")
	assert.True(t, env.listings.exists("l-1"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(expiredPayload))
	w = env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, env.listings.exists("l-1"))
}

func TestWebhookExpiredRemovesListing(t *testing.T) {
	env := newTestEnv(t)
	env.listings.rows["l-1"] = models.Listing{ID: "l-1", UserID: "owner", Status: models.ListingStatusPending}

	w := env.do(signedWebhook(t, expiredPayload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.False(t, env.listings.exists("l-1"))
}

func TestWebhookUnhandledType(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"id":"evt_x","object":"event","type":"invoice.paid","api_version":"2024-06-20","data":{"object":{"id":"in_1","object":"invoice"}}}`

	w := env.do(signedWebhook(t, payload))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unhandled_event_type")
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.NRGBA{R: 10, G: uint8(x * 60), B: uint8(y * 60), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, url string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestStageUpload(t *testing.T) {
	env := newTestEnv(t)

	req := multipartUpload(t, "/api/v1/staging/upload", map[string]string{"sessionId": "sess_1"}, map[string][]byte{
		"hull.png":  samplePNG(t),
		"notes.txt": []byte("plain text"),
	})
	req.Header.Set("Authorization", bearer(t, "owner", models.UserRoleUser))
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp stageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Keys, 1)
	assert.True(t, strings.HasPrefix(resp.Keys[0], "temp_session_sess_1/"))
	assert.True(t, strings.HasSuffix(resp.Keys[0], "-hull.webp"))
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "notes.txt", resp.Failed[0].Filename)

	img := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/images/"+resp.Keys[0], nil))
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/webp", img.Header().Get("Content-Type"))
}

func TestStageUploadRejectsBadSession(t *testing.T) {
	env := newTestEnv(t)

	req := multipartUpload(t, "/api/v1/staging/upload", map[string]string{"sessionId": "../etc"}, map[string][]byte{"a.png": samplePNG(t)})
	req.Header.Set("Authorization", bearer(t, "owner", models.UserRoleUser))
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)

	req = multipartUpload(t, "/api/v1/staging/upload", map[string]string{"sessionId": "ok"}, map[string][]byte{"a.png": samplePNG(t)})
	assert.Equal(t, http.StatusUnauthorized, env.do(req).Code)
}

func TestImageOutsideKnownNamespaces(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.blobs["private/key.txt"] = storage.Blob{Data: []byte("x"), ContentType: "text/plain"}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/images/private/key.txt", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutValidationError(t *testing.T) {
	env := newTestEnv(t)

	body := `{"draft":{"model":"","price":1000,"country":"Greece","description":"x"},"priceRef":"price_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/listings/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "owner", models.UserRoleUser))
	w := env.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"validation_failed","field":"model","message":"required"}`, w.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.listings.rows["l-1"] = models.Listing{ID: "l-1", UserID: "owner", Status: models.ListingStatusPending}

	activate := func(role models.UserRole, userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/listings/l-1/activate", nil)
		req.Header.Set("Authorization", bearer(t, userID, role))
		return env.do(req).Code
	}
	assert.Equal(t, http.StatusForbidden, activate(models.UserRoleUser, "owner"))
	assert.Equal(t, http.StatusOK, activate(models.UserRoleAdmin, "admin"))
	assert.Equal(t, models.ListingStatusActive, env.listings.rows["l-1"].Status)

	env.listings.rows["l-2"] = models.Listing{ID: "l-2", Status: models.ListingStatusDeleted}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/listings/l-2/activate", nil)
	req.Header.Set("Authorization", bearer(t, "admin", models.UserRoleAdmin))
	w := env.do(req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "listing_deleted")
}

func TestAdminEmergencyCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.listings.rows["l-9"] = models.Listing{ID: "l-9", Status: models.ListingStatusPending}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup",
		strings.NewReader(`{"action":"emergency_cleanup","listingId":"l-9","reason":"stuck"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "admin", models.UserRoleAdmin))
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"listingId":"l-9","result":{"success":true,"method":"direct"}}`, w.Body.String())
	assert.False(t, env.listings.exists("l-9"))
}

func TestOpsCleanupRequiresSignature(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.blobs["temp_session_s1/1-a.webp"] = storage.Blob{Data: []byte("a")}
	body := `{"action":"delete-all"}`

	unsigned := httptest.NewRequest(http.MethodPost, "/api/v1/ops/cleanup", strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, env.do(unsigned).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/cleanup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	date := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set(security.HeaderDate, date)
	req.Header.Set(security.HeaderNonce, "nonce-1")
	req.Header.Set(security.HeaderSignature, security.ComputeSignature(
		testOpsSecret, http.MethodPost, "/api/v1/ops/cleanup", "", security.ComputeBodyHash([]byte(body)), date, "nonce-1"))

	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"deleted":1,"failed":0,"totalFound":1}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","cache":"ok","environment":"test"}`, w.Body.String())

	env.mr.Close()
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebhookCatalogSyncFeedsProducts(t *testing.T) {
	env := newTestEnv(t)

	product := `{"id":"evt_prod","object":"event","type":"product.created","api_version":"2024-06-20","data":{"object":{"id":"prod_1","object":"product","active":true,"name":"Featured listing","images":["https://cdn.test/p.png"]}}}`
	price := `{"id":"evt_price","object":"event","type":"price.created","api_version":"2024-06-20","data":{"object":{"id":"price_1","object":"price","active":true,"currency":"eur","product":"prod_1","type":"one_time","unit_amount":4999}}}`

	for _, payload := range []string{product, price} {
		w := env.do(signedWebhook(t, payload))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Products []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Image  string `json:"image"`
			Prices []struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unitAmount"`
			} `json:"prices"`
		} `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Products, 1)
	assert.Equal(t, "Featured listing", body.Products[0].Name)
	assert.Equal(t, "https://cdn.test/p.png", body.Products[0].Image)
	require.Len(t, body.Products[0].Prices, 1)
	assert.Equal(t, "price_1", body.Products[0].Prices[0].ID)
	assert.Equal(t, int64(4999), body.Products[0].Prices[0].UnitAmount)
}

func TestProductsEmptyCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"products":[]}`, w.Body.String())
}

func TestCheckoutUnknownPriceRef(t *testing.T) {
	env := newTestEnv(t)

	body := `{"draft":{"model":"Hallberg-Rassy 34","price":95000,"country":"Sweden","description":"Well kept"},"priceRef":"price_unsynced"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/listings/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "owner", models.UserRoleUser))
	w := env.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"validation_failed","field":"priceRef","message":"unknown price"}`, w.Body.String())
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	post := func(body string, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/change-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return env.do(req)
	}
	owner := bearer(t, "owner", models.UserRoleUser)

	w := post(`{"currentPassword":"owner-password","newPassword":"new-password"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(`{"currentPassword":"guess","newPassword":"new-password"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_current_password")

	w = post(`{"currentPassword":"owner-password","newPassword":"short"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "newPassword")

	w = post(`{"currentPassword":"owner-password"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_body")

	w = post(`{"currentPassword":"owner-password","newPassword":"new-password"}`, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	ok, err := security.VerifyPassword("new-password", env.users["owner"].PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
