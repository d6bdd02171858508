package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lumenchat/lumenchat/pkg/auth"
	"github.com/lumenchat/lumenchat/pkg/billing"
	"github.com/lumenchat/lumenchat/pkg/chat"
	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
	"github.com/lumenchat/lumenchat/pkg/usage"
)

const (
	testUserID    = "user-1"
	testUserEmail = "user1@example.com"
	testToken     = "valid-token"
	proPriceID    = "price_pro_monthly"
	entPriceID    = "price_enterprise_monthly"
)

type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (*auth.Claims, error) {
	if rawToken != testToken {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: testUserID, Email: testUserEmail}, nil
}

type fakeBillingClient struct {
	constructEventFunc func(payload []byte, sigHeader string) (stripe.Event, error)
	checkoutErr        error
	portalErr          error
	customerErr        error

	mu              sync.Mutex
	checkoutCalls   []string
	lastReturnURL   string
	lastCustomerID  string
	portalCustomers []string
}

func (f *fakeBillingClient) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if f.constructEventFunc != nil {
		return f.constructEventFunc(payload, sigHeader)
	}
	return stripe.Event{}, fmt.Errorf("%w: no fake configured", billing.ErrInvalidSignature)
}

func (f *fakeBillingClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBillingClient) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBillingClient) CreateOrRetrieveCustomer(ctx context.Context, userID, email string) (string, error) {
	if f.customerErr != nil {
		return "", f.customerErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCustomerID = "cus_" + userID
	return f.lastCustomerID, nil
}

func (f *fakeBillingClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, returnURL string) (*stripe.CheckoutSession, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls = append(f.checkoutCalls, priceID)
	f.lastReturnURL = returnURL
	return &stripe.CheckoutSession{
		ID:  "cs_test_123",
		URL: "https://checkout.stripe.com/c/pay/cs_test_123",
	}, nil
}

func (f *fakeBillingClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	if f.portalErr != nil {
		return nil, f.portalErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portalCustomers = append(f.portalCustomers, customerID)
	return &stripe.BillingPortalSession{
		URL: "https://billing.stripe.com/p/session/test_456",
	}, nil
}

type memSubStore struct {
	mu   sync.Mutex
	subs map[string]*subscriptions.Subscription
}

func newMemSubStore() *memSubStore {
	return &memSubStore{subs: make(map[string]*subscriptions.Subscription)}
}

func (s *memSubStore) Get(ctx context.Context, userID string) (*subscriptions.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, subscriptions.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memSubStore) Upsert(ctx context.Context, sub *subscriptions.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *memSubStore) Update(ctx context.Context, userID string, fields subscriptions.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return subscriptions.ErrNotFound
	}
	if fields.Status != nil {
		sub.Status = *fields.Status
	}
	if fields.Tier != nil {
		sub.Tier = *fields.Tier
	}
	if fields.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *fields.CurrentPeriodEnd
	}
	if fields.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *fields.CancelAtPeriodEnd
	}
	return nil
}

func (s *memSubStore) CustomerID(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok || sub.StripeCustomerID == "" {
		return "", subscriptions.ErrNotFound
	}
	return sub.StripeCustomerID, nil
}

func (s *memSubStore) CountActiveByTier(ctx context.Context) (map[plans.Tier]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[plans.Tier]int64)
	for _, sub := range s.subs {
		if sub.IsActive() {
			counts[sub.Tier]++
		}
	}
	return counts, nil
}

type memUsageStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{counts: make(map[string]int64)}
}

func (s *memUsageStore) Get(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.counts[userID]
	if !ok {
		return nil, usage.ErrNotFound
	}
	return &usage.Record{
		UserID:      userID,
		Count:       count,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}, nil
}

func (s *memUsageStore) IncrementIfUnderQuota(ctx context.Context, userID string, periodStart, periodEnd time.Time, quota int64) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[userID] >= quota {
		return false, s.counts[userID], nil
	}
	s.counts[userID]++
	return true, s.counts[userID], nil
}

type memChatStore struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      map[string][]*chat.Message
}

func newMemChatStore() *memChatStore {
	return &memChatStore{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]*chat.Message),
	}
}

func (s *memChatStore) CreateConversation(ctx context.Context, userID, title string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		title = "New Chat"
	}
	conv := &chat.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *memChatStore) GetConversation(ctx context.Context, userID, conversationID string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, chat.ErrNotFound
	}
	return conv, nil
}

func (s *memChatStore) ListConversations(ctx context.Context, userID string) ([]*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []*chat.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (s *memChatStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return chat.ErrNotFound
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

func (s *memChatStore) UpdateConversationTitle(ctx context.Context, userID, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return chat.ErrNotFound
	}
	conv.Title = title
	return nil
}

func (s *memChatStore) ListMessages(ctx context.Context, userID, conversationID string) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, chat.ErrNotFound
	}
	return append([]*chat.Message{}, s.messages[conversationID]...), nil
}

func (s *memChatStore) SaveMessage(ctx context.Context, userID string, msg *chat.Message) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok || conv.UserID != userID {
		return nil, chat.ErrNotFound
	}
	saved := *msg
	saved.ID = uuid.NewString()
	saved.CreatedAt = time.Now().UTC()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &saved)
	return &saved, nil
}

type fakeCompleter struct {
	predictFunc func(ctx context.Context, messages []*chat.Message) (*chat.Prediction, error)
	tokens      []string

	mu    sync.Mutex
	calls int
}

func (f *fakeCompleter) Predict(ctx context.Context, messages []*chat.Message) (*chat.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.predictFunc != nil {
		return f.predictFunc(ctx, messages)
	}
	return &chat.Prediction{Text: "Hello from the assistant"}, nil
}

func (f *fakeCompleter) PredictStream(ctx context.Context, messages []*chat.Message, onToken func(token string)) (*chat.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.predictFunc != nil {
		return f.predictFunc(ctx, messages)
	}
	var text string
	for _, tok := range f.tokens {
		onToken(tok)
		text += tok
	}
	if text == "" {
		text = "Hello from the assistant"
	}
	return &chat.Prediction{Text: text}, nil
}

// fixture bundles a wired Server with its fakes
type fixture struct {
	server    *Server
	catalog   *plans.Catalog
	subs      *memSubStore
	usage     *memUsageStore
	chatStore *memChatStore
	completer *fakeCompleter
	client    *fakeBillingClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	catalog := plans.NewCatalog(proPriceID, entPriceID)

	f := &fixture{
		catalog:   catalog,
		subs:      newMemSubStore(),
		usage:     newMemUsageStore(),
		chatStore: newMemChatStore(),
		completer: &fakeCompleter{},
		client:    &fakeBillingClient{},
	}

	gate := usage.NewGate(f.subs, f.usage, logger, metrics)
	chatService := chat.NewService(f.chatStore, f.completer, gate, logger)
	synchronizer := billing.NewSynchronizer(f.client, f.subs, catalog, logger, metrics)

	f.server = NewServer(Deps{
		Catalog:       catalog,
		Subscriptions: f.subs,
		Gate:          gate,
		Chat:          chatService,
		ChatStore:     f.chatStore,
		Billing:       f.client,
		Synchronizer:  synchronizer,
		Verifier:      &fakeVerifier{},
		Stripe: config.StripeConfig{
			SecretKey:         "sk_test_x",
			WebhookSecret:     "whsec_x",
			ProPriceID:        proPriceID,
			EnterprisePriceID: entPriceID,
			CheckoutReturnURL: "http://localhost:3000/dashboard",
			PortalReturnURL:   "http://localhost:3000/dashboard",
		},
		Logger:  logger,
		Metrics: metrics,
	})
	return f
}

func (f *fixture) activeSubscription(tier plans.Tier) *subscriptions.Subscription {
	return &subscriptions.Subscription{
		ID:                   uuid.NewString(),
		UserID:               testUserID,
		StripeCustomerID:     "cus_" + testUserID,
		StripeSubscriptionID: "sub_123",
		Status:               subscriptions.StatusActive,
		Tier:                 tier,
		CurrentPeriodEnd:     time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

func authedRequest(t *testing.T, method, path string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
