package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/paypal"
	"invoice-service/internal/store"

	"github.com/shopspring/decimal"
)

type fakeState struct {
	products  map[int64]models.Product
	customers map[int64]models.Customer
	invoices  map[int64]models.Invoice
	items     map[int64][]models.InvoiceItem
	events    map[int64][]models.InvoiceEvent
	carts     map[int64]models.Cart // by customer
	cartItems map[int64]models.CartItem
	nextID    int64
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		products:  make(map[int64]models.Product, len(s.products)),
		customers: s.customers,
		invoices:  make(map[int64]models.Invoice, len(s.invoices)),
		items:     make(map[int64][]models.InvoiceItem, len(s.items)),
		events:    s.events,
		carts:     make(map[int64]models.Cart, len(s.carts)),
		cartItems: make(map[int64]models.CartItem, len(s.cartItems)),
		nextID:    s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]models.InvoiceItem(nil), v...)
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	return c
}

// fakeStore keeps everything in memory. Transactions are serialized, which
// gives the same exclusion row locks give for the tests' access patterns,
// and a failed transaction restores the state it started from.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *fakeState

	lockOrder []int64
	txCount   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{st: &fakeState{
		products:  map[int64]models.Product{},
		customers: map[int64]models.Customer{},
		invoices:  map[int64]models.Invoice{},
		items:     map[int64][]models.InvoiceItem{},
		events:    map[int64][]models.InvoiceEvent{},
		carts:     map[int64]models.Cart{},
		cartItems: map[int64]models.CartItem{},
		nextID:    1000,
	}}
}

func (f *fakeStore) id() int64 {
	f.st.nextID++
	return f.st.nextID
}

func (f *fakeStore) addProduct(id int64, name, price string, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.products[id] = models.Product{
		ID:            id,
		Name:          name,
		Brand:         "Acme",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
}

func (f *fakeStore) addCustomer(id int64, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.customers[id] = models.Customer{
		ID:        id,
		UserID:    userID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Address:   "1 Main St",
		ZipCode:   "1000",
		City:      "Vienna",
		Country:   "AT",
	}
}

func (f *fakeStore) addInvoice(inv models.Invoice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.invoices[inv.ID] = inv
}

func (f *fakeStore) stock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.products[id].StockQuantity
}

func (f *fakeStore) invoice(id int64) models.Invoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.invoices[id]
}

func (f *fakeStore) invoiceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.st.invoices)
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	snapshot := f.st.clone()
	f.txCount++
	f.mu.Unlock()

	if err := fn(&fakeTx{f: f}); err != nil {
		f.mu.Lock()
		f.st = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.st.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, store.ErrNotFound)
	}
	return &inv, nil
}

func (f *fakeStore) GetInvoiceItems(ctx context.Context, invoiceID int64) ([]models.InvoiceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InvoiceItem{}, f.st.items[invoiceID]...), nil
}

func (f *fakeStore) GetInvoiceEvents(ctx context.Context, invoiceID int64) ([]models.InvoiceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InvoiceEvent{}, f.st.events[invoiceID]...), nil
}

func (f *fakeStore) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.st.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (f *fakeStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	products := []models.Product{}
	for _, id := range ids {
		if p, ok := f.st.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (f *fakeStore) GetOrCreateCart(ctx context.Context, customerID int64) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.st.carts[customerID]
	if !ok {
		cart = models.Cart{ID: f.id(), CustomerID: customerID, CreatedAt: time.Now()}
		f.st.carts[customerID] = cart
	}
	return &cart, nil
}

func (f *fakeStore) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []models.CartItem{}
	for _, item := range f.st.cartItems {
		if item.CartID == cartID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) UpsertCartItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.st.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			item.Quantity += quantity
			item.UnitPrice = unitPrice
			f.st.cartItems[id] = item
			return &item, nil
		}
	}
	item := models.CartItem{ID: f.id(), CartID: cartID, ProductID: productID, Quantity: quantity, UnitPrice: unitPrice}
	f.st.cartItems[item.ID] = item
	return &item, nil
}

func (f *fakeStore) cartItemFor(customerID, itemID int64) (models.CartItem, bool) {
	item, ok := f.st.cartItems[itemID]
	if !ok {
		return item, false
	}
	cart, ok := f.st.carts[customerID]
	return item, ok && cart.ID == item.CartID
}

func (f *fakeStore) GetCartItemForCustomer(ctx context.Context, customerID, itemID int64) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.cartItemFor(customerID, itemID)
	if !ok {
		return nil, fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	return &item, nil
}

func (f *fakeStore) SetCartItemQuantity(ctx context.Context, itemID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.st.cartItems[itemID]
	if !ok {
		return nil, fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	item.Quantity = quantity
	item.UnitPrice = unitPrice
	f.st.cartItems[itemID] = item
	return &item, nil
}

func (f *fakeStore) DeleteCartItem(ctx context.Context, customerID, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cartItemFor(customerID, itemID); !ok {
		return fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	delete(f.st.cartItems, itemID)
	return nil
}

func (f *fakeStore) ClearCart(ctx context.Context, customerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCartLocked(customerID)
	return nil
}

func (f *fakeStore) clearCartLocked(customerID int64) {
	cart, ok := f.st.carts[customerID]
	if !ok {
		return
	}
	for id, item := range f.st.cartItems {
		if item.CartID == cart.ID {
			delete(f.st.cartItems, id)
		}
	}
}

type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) LockProduct(ctx context.Context, productID int64) (*models.Product, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.lockOrder = append(t.f.lockOrder, productID)
	p, ok := t.f.st.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	return &p, nil
}

func (t *fakeTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	p := t.f.st.products[productID]
	if p.StockQuantity < quantity {
		return fmt.Errorf("stock row for product %d not updated", productID)
	}
	p.StockQuantity -= quantity
	t.f.st.products[productID] = p
	return nil
}

func (t *fakeTx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	for _, existing := range t.f.st.invoices {
		if existing.InvoiceNumber == invoice.InvoiceNumber {
			return fmt.Errorf("invoice number %s: %w", invoice.InvoiceNumber, store.ErrDuplicate)
		}
	}
	invoice.ID = t.f.id()
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt
	t.f.st.invoices[invoice.ID] = *invoice
	return nil
}

func (t *fakeTx) CreateInvoiceItem(ctx context.Context, item *models.InvoiceItem) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	item.ID = t.f.id()
	t.f.st.items[item.InvoiceID] = append(t.f.st.items[item.InvoiceID], *item)
	return nil
}

func (t *fakeTx) LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	inv, ok := t.f.st.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, store.ErrNotFound)
	}
	return &inv, nil
}

func (t *fakeTx) UpdateInvoicePayment(ctx context.Context, invoice *models.Invoice) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	invoice.UpdatedAt = time.Now()
	t.f.st.invoices[invoice.ID] = *invoice
	return nil
}

func (t *fakeTx) UpdateInvoiceNotes(ctx context.Context, invoiceID int64, notes string) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	inv := t.f.st.invoices[invoiceID]
	inv.Notes = notes
	t.f.st.invoices[invoiceID] = inv
	return nil
}

func (t *fakeTx) ClearCart(ctx context.Context, customerID int64) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.clearCartLocked(customerID)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	created []*models.InvoiceCreatedEvent
	changed []*models.InvoiceStatusChangedEvent
}

func (p *fakePublisher) PublishInvoiceCreated(ctx context.Context, event *models.InvoiceCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return nil
}

func (p *fakePublisher) PublishInvoiceStatusChanged(ctx context.Context, event *models.InvoiceStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *fakePublisher) statusEvents() []*models.InvoiceStatusChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.InvoiceStatusChangedEvent(nil), p.changed...)
}

type fakeProvider struct {
	mu         sync.Mutex
	webhookID  string
	verified   bool
	verifyErr  error
	orderErr   error
	captureErr error
	payerEmail string

	createCalls  int
	captureCalls int
	verifyCalls  int
	lastOrder    paypal.OrderRequest
	lastCapture  string
}

func (p *fakeProvider) CreateOrder(ctx context.Context, order paypal.OrderRequest) (*paypal.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.lastOrder = order
	if p.orderErr != nil {
		return nil, p.orderErr
	}
	return &paypal.Response{ID: "ORDER-1", Status: "CREATED"}, nil
}

func (p *fakeProvider) CaptureOrder(ctx context.Context, orderID string) (*paypal.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captureCalls++
	p.lastCapture = orderID
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return &paypal.Response{ID: orderID, Status: "COMPLETED", PayerEmail: p.payerEmail}, nil
}

func (p *fakeProvider) VerifyWebhookSignature(ctx context.Context, headers paypal.WebhookHeaders, event json.RawMessage) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	return p.verified, p.verifyErr
}

func (p *fakeProvider) WebhookID() string {
	return p.webhookID
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (i *fakeIdempotency) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[key], nil
}

func (i *fakeIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.keys == nil {
		i.keys = map[string]bool{}
	}
	i.keys[key] = true
	return nil
}

type fixture struct {
	store     *fakeStore
	publisher *fakePublisher
	states    *PaymentStateMachine
	invoices  *InvoiceService
	carts     *CartService
}

func newFixture() *fixture {
	fs := newFakeStore()
	pub := &fakePublisher{}
	states := NewPaymentStateMachine(fs, pub)
	invoices := NewInvoiceService(fs, NewStockLedger(), states, pub, decimal.NewFromInt(20))
	return &fixture{
		store:     fs,
		publisher: pub,
		states:    states,
		invoices:  invoices,
		carts:     NewCartService(fs, invoices),
	}
}
