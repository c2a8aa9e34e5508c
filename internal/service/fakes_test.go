package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"boatmarket/internal/config"
	"boatmarket/internal/events"
	"boatmarket/internal/models"
	"boatmarket/internal/payment"
	"boatmarket/internal/repository"
	"boatmarket/internal/storage"
)

const testBaseURL = "https://img.test"

type fakeBlobStore struct {
	mu         sync.Mutex
	blobs      map[string]storage.Blob
	failDelete map[string]bool
	failPut    map[string]bool
	blockGet   map[string]bool
	puts       []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		blobs:      map[string]storage.Blob{},
		failDelete: map[string]bool{},
		failPut:    map[string]bool{},
		blockGet:   map[string]bool{},
	}
}

func (f *fakeBlobStore) seed(key string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = storage.Blob{Data: []byte(data), ContentType: "image/webp", Metadata: map[string]string{}}
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

func (f *fakeBlobStore) Put(_ context.Context, in storage.PutInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix := range f.failPut {
		if strings.HasPrefix(in.OriginalName, prefix) {
			return "", errors.New("put failed")
		}
	}
	meta := map[string]string{
		storage.MetaOrigin:       in.Origin,
		storage.MetaOriginalName: in.OriginalName,
	}
	for k, v := range in.Extra {
		meta[k] = v
	}
	f.blobs[in.Key] = storage.Blob{Data: in.Data, ContentType: in.ContentType, Metadata: meta}
	f.puts = append(f.puts, in.Key)
	return testBaseURL + "/" + in.Key, nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) (storage.Blob, error) {
	f.mu.Lock()
	block := f.blockGet[key]
	blob, ok := f.blobs[key]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return storage.Blob{}, ctx.Err()
	}
	if !ok {
		return storage.Blob{}, storage.ErrObjectNotFound
	}
	return blob, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[key] {
		return false
	}
	delete(f.blobs, key)
	return true
}

func (f *fakeBlobStore) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeBlobStore) PublicURL(key string) string { return testBaseURL + "/" + key }

func (f *fakeBlobStore) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, testBaseURL+"/") {
		return "", false
	}
	return strings.TrimPrefix(url, testBaseURL+"/"), true
}

type fakeListingStore struct {
	mu           sync.Mutex
	rows         map[string]models.Listing
	deleteErrs   []error
	updateErr    error
	deleteCalls  int
	beforeUpdate func()
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{rows: map[string]models.Listing{}}
}

func (f *fakeListingStore) put(l models.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[l.ID] = l
}

func (f *fakeListingStore) get(id string) (models.Listing, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	return l, ok
}

func (f *fakeListingStore) Create(_ context.Context, l models.Listing) error {
	f.put(l)
	return nil
}

func (f *fakeListingStore) GetByID(_ context.Context, id string) (models.Listing, error) {
	if l, ok := f.get(id); ok {
		return l, nil
	}
	return models.Listing{}, repository.ErrListingNotFound
}

func (f *fakeListingStore) UpdateStatus(_ context.Context, id string, status models.ListingStatus, from ...models.ListingStatus) error {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	l, ok := f.rows[id]
	if !ok || (len(from) > 0 && !statusIn(l.Status, from)) {
		return repository.ErrListingNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now()
	f.rows[id] = l
	return nil
}

func (f *fakeListingStore) SetPhotos(_ context.Context, id string, photos []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	l.Photos = photos
	f.rows[id] = l
	return nil
}

func (f *fakeListingStore) AppendPhotos(_ context.Context, id string, photos []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	l.Photos = append(l.Photos, photos...)
	f.rows[id] = l
	return nil
}

func (f *fakeListingStore) Delete(_ context.Context, id string, from ...models.ListingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		if err != nil {
			return err
		}
	}
	l, ok := f.rows[id]
	if !ok || (len(from) > 0 && !statusIn(l.Status, from)) {
		return repository.ErrListingNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeListingStore) ListByStatus(_ context.Context, status models.ListingStatus) ([]models.ListingWithOwner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ListingWithOwner
	for _, l := range f.rows {
		if l.Status == status {
			out = append(out, models.ListingWithOwner{Listing: l, Owner: models.ListingOwner{ID: l.UserID}})
		}
	}
	return out, nil
}

func (f *fakeListingStore) ListByUser(_ context.Context, userID string) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Listing
	for _, l := range f.rows {
		if l.UserID == userID && l.Status != models.ListingStatusDeleted {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) Search(context.Context, repository.ListingFilter) ([]models.Listing, error) {
	return nil, nil
}

func (f *fakeListingStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakePaymentStore struct {
	mu   sync.Mutex
	rows map[string]models.Payment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{rows: map[string]models.Payment{}}
}

func (f *fakePaymentStore) Create(_ context.Context, p models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.ProviderSessionID]; ok {
		return repository.ErrDuplicatePayment
	}
	f.rows[p.ProviderSessionID] = p
	return nil
}

func (f *fakePaymentStore) GetBySessionID(_ context.Context, sessionID string) (models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[sessionID]; ok {
		return p, nil
	}
	return models.Payment{}, repository.ErrPaymentNotFound
}

type fakeCustomerStore struct {
	byUser map[string]models.Customer
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{byUser: map[string]models.Customer{}}
}

func (f *fakeCustomerStore) GetByUserID(_ context.Context, userID string) (models.Customer, error) {
	if c, ok := f.byUser[userID]; ok {
		return c, nil
	}
	return models.Customer{}, repository.ErrCustomerNotFound
}

func (f *fakeCustomerStore) GetByProviderID(_ context.Context, providerID string) (models.Customer, error) {
	for _, c := range f.byUser {
		if c.ProviderCustomerID == providerID {
			return c, nil
		}
	}
	return models.Customer{}, repository.ErrCustomerNotFound
}

func (f *fakeCustomerStore) Upsert(_ context.Context, c models.Customer) error {
	f.byUser[c.ID] = c
	return nil
}

// fakeTx runs fn inline; fakes have no rollback.
type fakeTx struct{ calls int }

func (f *fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeProvider struct {
	customersCreated int
	lastRequest      payment.CheckoutRequest
	err              error
}

func (f *fakeProvider) EnsureCustomer(_ context.Context, _ string, userID string) (string, error) {
	f.customersCreated++
	return "cus_" + userID, nil
}

func (f *fakeProvider) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error) {
	if f.err != nil {
		return payment.CheckoutSession{}, f.err
	}
	f.lastRequest = req
	return payment.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (f *fakeProvider) ParseEvent([]byte, string) (payment.Event, error) {
	return payment.Event{}, payment.ErrInvalidSignature
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.ListingEvent
}

func (f *fakePublisher) Publish(_ context.Context, e events.ListingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) types() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeDeadLetters struct {
	entries []events.DeadLetter
}

func (f *fakeDeadLetters) Record(_ context.Context, e events.DeadLetter) error {
	f.entries = append(f.entries, e)
	return nil
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x * 30), B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestStateMachine(listings ListingStore, pub events.Publisher) *ListingStateMachine {
	m := NewListingStateMachine(listings, pub, config.CleanupConfig{RetryAttempts: 3, RetryBase: time.Second}, zerolog.Nop())
	m.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return m
}

type fakeReapQueue struct{ sessions []string }

func (f *fakeReapQueue) EnqueueSessionReap(_ context.Context, sessionID string) error {
	f.sessions = append(f.sessions, sessionID)
	return nil
}

type fakeCatalogStore struct {
	products     map[string]models.Product
	prices       map[string]models.Price
	priceUpserts int
	// onPriceUpsert runs before each price upsert attempt.
	onPriceUpsert func(attempt int)
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{products: map[string]models.Product{}, prices: map[string]models.Price{}}
}

func (f *fakeCatalogStore) UpsertProduct(_ context.Context, p models.Product) error {
	f.products[p.ID] = p
	return nil
}

func (f *fakeCatalogStore) DeleteProduct(_ context.Context, id string) error {
	if _, ok := f.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(f.products, id)
	for pid, price := range f.prices {
		if price.ProductID == id {
			delete(f.prices, pid)
		}
	}
	return nil
}

func (f *fakeCatalogStore) UpsertPrice(_ context.Context, p models.Price) error {
	f.priceUpserts++
	if f.onPriceUpsert != nil {
		f.onPriceUpsert(f.priceUpserts)
	}
	if _, ok := f.products[p.ProductID]; !ok {
		return repository.ErrProductMissing
	}
	f.prices[p.ID] = p
	return nil
}

func (f *fakeCatalogStore) DeletePrice(_ context.Context, id string) error {
	if _, ok := f.prices[id]; !ok {
		return repository.ErrPriceNotFound
	}
	delete(f.prices, id)
	return nil
}

func (f *fakeCatalogStore) PriceAvailable(_ context.Context, id string) (bool, error) {
	price, ok := f.prices[id]
	if !ok {
		return false, nil
	}
	return price.Active && f.products[price.ProductID].Active, nil
}

func (f *fakeCatalogStore) ListActiveProducts(context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		if !p.Active {
			continue
		}
		p.Prices = []models.Price{}
		for _, price := range f.prices {
			if price.ProductID == p.ID && price.Active {
				p.Prices = append(p.Prices, price)
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newTestCatalog(store CatalogStore) *CatalogService {
	c := NewCatalogService(store, zerolog.Nop())
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}
