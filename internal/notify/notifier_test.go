package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func breakerEvent(t *testing.T) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(domain.EventBreakerOpen, "eth", time.Now(),
		domain.BreakerEvent{Chain: "eth", From: domain.BreakerClosed, To: domain.BreakerOpen, Reason: "3 consecutive failures"})
	require.NoError(t, err)
	return ev
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{})

	n.Notify(context.Background(), breakerEvent(t))
	n.Notify(context.Background(), domain.Event{Type: domain.EventCycleCompleted, Chain: "eth"})
	n.Wait()

	assert.Equal(t, []string{"[eth] breaker open"}, s.got())
}

func TestNotifier_ExplicitEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{Events: []string{" chain_unreachable "}})

	n.Notify(context.Background(), breakerEvent(t))
	n.Notify(context.Background(), domain.Event{Type: domain.EventChainUnreachable, Chain: "bsc"})
	n.Wait()

	assert.Equal(t, []string{"[bsc] chain unreachable"}, s.got())
}

func TestNotifier_RateLimit(t *testing.T) {
	lim := new(MockLimiter)
	lim.On("Allow", mock.Anything, "notify:breaker_open", 2, time.Minute).Return(true, nil).Once()
	lim.On("Allow", mock.Anything, "notify:breaker_open", 2, time.Minute).Return(false, nil).Once()
	lim.On("Allow", mock.Anything, "notify:breaker_open", 2, time.Minute).Return(false, errors.New("redis down")).Once()

	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{Limiter: lim, MaxPerWindow: 2, Window: time.Minute})
	for i := 0; i < 3; i++ {
		n.Notify(context.Background(), breakerEvent(t))
		n.Wait()
	}

	assert.Len(t, s.got(), 2, "limited once, limiter error fails open")
	lim.AssertExpectations(t)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, Config{})
	n.Notify(context.Background(), breakerEvent(t))
	n.Wait()
	assert.Len(t, good.got(), 1)
}

func TestFormat_Approval(t *testing.T) {
	usdc := domain.Token{Symbol: "USDC"}
	weth := domain.Token{Symbol: "WETH"}
	a := domain.Approval{Opportunity: domain.Opportunity{
		Kind: domain.KindDirect, InputToken: usdc, NetProfit: 12.5, NetProfitPct: 0.42,
		Legs: []domain.Leg{
			{Exchange: "sushi", Pair: domain.TokenPair{Base: weth, Quote: usdc}, Direction: domain.BuyBase},
			{Exchange: "uni", Pair: domain.TokenPair{Base: weth, Quote: usdc}, Direction: domain.SellBase},
		},
	}}
	ev, err := domain.NewEvent(domain.EventOpportunityApproved, "eth", time.Now(), a)
	require.NoError(t, err)

	title, body := Format(ev)
	assert.Equal(t, "[eth] direct opportunity approved", title)
	assert.Contains(t, body, "net 12.5000 USDC (0.420%)")
	assert.Contains(t, body, "sushi USDC->WETH")
	assert.Contains(t, body, "uni WETH->USDC")
}

func TestTelegramSender(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42", time.Second).WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "title", "body"))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "*title*\nbody", payload["text"])
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, time.Second).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}
