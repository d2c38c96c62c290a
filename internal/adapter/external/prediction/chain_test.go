package prediction

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// stubBackend answers with fn and counts calls
type stubBackend struct {
	name    string
	timeout time.Duration
	calls   atomic.Int32
	fn      func(ctx context.Context) (*entity.ModelPrediction, error)
}

func (s *stubBackend) Name() string           { return s.name }
func (s *stubBackend) Timeout() time.Duration { return s.timeout }
func (s *stubBackend) Predict(ctx context.Context, _ entity.FeatureVector) (*entity.ModelPrediction, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

func answering(name string, p float64) *stubBackend {
	return &stubBackend{name: name, timeout: time.Second, fn: func(context.Context) (*entity.ModelPrediction, error) {
		return &entity.ModelPrediction{
			Probability: p,
			Interval:    ConformalInterval(p, 0.05),
			ModelID:     name,
		}, nil
	}}
}

func failing(name string) *stubBackend {
	return &stubBackend{name: name, timeout: time.Second, fn: func(context.Context) (*entity.ModelPrediction, error) {
		return nil, entity.ErrBackendUnavailable
	}}
}

func hanging(name string, timeout time.Duration) *stubBackend {
	return &stubBackend{name: name, timeout: timeout, fn: func(ctx context.Context) (*entity.ModelPrediction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func testVector() entity.FeatureVector {
	return entity.FeatureVector{
		TargetID:      "abc",
		SchemaVersion: features.LexicalSchema,
		Numeric: map[string]float64{
			features.HasIPAddress:  1,
			features.SuspiciousTLD: 1,
		},
	}
}

// =============================================================================
// Chain ordering
// =============================================================================

func TestChain_PrimaryAnswers(t *testing.T) {
	primary := answering("primary", 0.9)
	secondary := answering("secondary", 0.1)
	chain := NewChain([]Backend{primary, secondary}, nil, ChainOptions{Label: "v2"})

	out := chain.Predict(context.Background(), testVector())

	require.NotNil(t, out.Prediction)
	assert.False(t, out.Exhausted)
	assert.NoError(t, out.Err())
	assert.Equal(t, 0, out.Prediction.FallbackLevel)
	assert.Equal(t, 0.9, out.Prediction.Probability)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), secondary.calls.Load(), "secondary must not be called after primary answered")
}

func TestChain_FallsBackInOrder(t *testing.T) {
	primary := hanging("primary", 20*time.Millisecond)
	secondary := answering("secondary", 0.4)
	tertiary := answering("tertiary", 0.99)
	chain := NewChain([]Backend{primary, secondary, tertiary}, nil, ChainOptions{})

	out := chain.Predict(context.Background(), testVector())

	require.NotNil(t, out.Prediction)
	assert.Equal(t, 1, out.Prediction.FallbackLevel)
	assert.Equal(t, "secondary", out.Prediction.ModelID)
	assert.Equal(t, int32(0), tertiary.calls.Load())
	require.Len(t, out.Attempts, 2)
	assert.NotEmpty(t, out.Attempts[0].Error)
	assert.Empty(t, out.Attempts[1].Error)
}

func TestChain_AllFailHeuristicAnswers(t *testing.T) {
	chain := NewChain([]Backend{failing("primary"), failing("secondary")},
		NewHeuristic("heuristic", "v2", PatternRules(), 0.25), ChainOptions{})

	out := chain.Predict(context.Background(), testVector())

	require.NotNil(t, out.Prediction)
	assert.True(t, out.Exhausted)
	assert.ErrorIs(t, out.Err(), entity.ErrBackendsExhausted)
	assert.True(t, out.Prediction.Heuristic)
	assert.Equal(t, 2, out.Prediction.FallbackLevel)
	assert.Equal(t, "heuristic", out.Prediction.ModelID)
	assert.Equal(t, []string{"primary", "secondary", "heuristic"}, chain.Backends())
}

func TestChain_CancelledContext(t *testing.T) {
	primary := answering("primary", 0.9)
	chain := NewChain([]Backend{primary}, nil, ChainOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := chain.Predict(ctx, testVector())

	assert.True(t, out.Exhausted)
	assert.Equal(t, int32(0), primary.calls.Load())
	assert.True(t, out.Prediction.Heuristic)
}

func TestChain_InvalidProbabilityFallsThrough(t *testing.T) {
	bad := &stubBackend{name: "bad", timeout: time.Second, fn: func(context.Context) (*entity.ModelPrediction, error) {
		return nil, nil
	}}
	chain := NewChain([]Backend{bad, answering("good", 0.3)}, nil, ChainOptions{})

	out := chain.Predict(context.Background(), testVector())
	assert.Equal(t, 1, out.Prediction.FallbackLevel)
}

// =============================================================================
// Circuit breaker
// =============================================================================

func TestChain_BreakerSkipsOpenBackend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	primary := failing("primary")
	secondary := answering("secondary", 0.2)
	chain := NewChain([]Backend{primary, secondary}, nil, ChainOptions{
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
		Clock:           clock,
	})

	for i := 0; i < 2; i++ {
		out := chain.Predict(context.Background(), testVector())
		assert.Equal(t, 1, out.Prediction.FallbackLevel)
	}
	assert.Equal(t, "open", chain.BreakerStates()["primary"])

	out := chain.Predict(context.Background(), testVector())
	assert.Equal(t, int32(2), primary.calls.Load(), "open breaker must skip the call")
	require.NotEmpty(t, out.Attempts)
	assert.True(t, out.Attempts[0].Skipped)
	assert.Equal(t, 1, out.Prediction.FallbackLevel)

	clock.Advance(2 * time.Minute)
	chain.Predict(context.Background(), testVector())
	assert.Equal(t, int32(3), primary.calls.Load(), "half-open breaker lets one probe through")
	assert.Equal(t, "open", chain.BreakerStates()["primary"])
}

func TestCircuitBreaker_States(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(1, time.Second, clock)

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	clock.Advance(time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe at a time")

	cb.Release()
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	var disabled *CircuitBreaker
	assert.True(t, disabled.Allow())
}

// =============================================================================
// Heuristic
// =============================================================================

func TestHeuristic_Rules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		numeric map[string]float64
		wantMin float64
		wantMax float64
	}{
		{"clean vector", LegacyRules(), map[string]float64{features.URLLength: 30}, 0, 0.001},
		{"ip and tld", LegacyRules(), map[string]float64{features.HasIPAddress: 1, features.SuspiciousTLD: 1}, 0.45, 0.5},
		{"legacy ignores brand", LegacyRules(), map[string]float64{features.BrandInPath: 1}, 0, 0.001},
		{"pattern sees brand", PatternRules(), map[string]float64{features.BrandInPath: 1}, 0.39, 0.41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeuristic("heuristic", "test", tt.rules, 0.25)
			pred, err := h.Predict(context.Background(), entity.FeatureVector{Numeric: tt.numeric})
			require.NoError(t, err)
			assert.True(t, pred.Heuristic)
			assert.GreaterOrEqual(t, pred.Probability, tt.wantMin)
			assert.LessOrEqual(t, pred.Probability, tt.wantMax)
			assert.LessOrEqual(t, pred.Interval.Lower, pred.Probability)
			assert.GreaterOrEqual(t, pred.Interval.Upper, pred.Probability)
		})
	}
}

func TestHeuristic_Matched(t *testing.T) {
	h := NewHeuristic("heuristic", "v2", PatternRules(), 0.25)
	matched := h.Matched(entity.FeatureVector{Numeric: map[string]float64{
		features.FreeHosting:          1,
		features.PhishingPathKeywords: 2,
	}})
	assert.Equal(t, []string{"free_hosting", "phishing_path_keywords"}, matched)
}

// =============================================================================
// Remote backends
// =============================================================================

func TestHTTPBackend_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predict", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"probability":0.8,"lower":0.7,"upper":0.9,"model_id":"gbm","model_version":"7"}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(HTTPBackendConfig{Name: "primary", URL: server.URL, APIKey: "secret", Timeout: time.Second})
	pred, err := b.Predict(context.Background(), testVector())

	require.NoError(t, err)
	assert.Equal(t, 0.8, pred.Probability)
	assert.Equal(t, entity.ConfidenceInterval{Lower: 0.7, Upper: 0.9}, pred.Interval)
	assert.Equal(t, "gbm", pred.ModelID)
	assert.Equal(t, "7", pred.ModelVersion)
}

func TestHTTPBackend_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `boom`},
		{"out of range", http.StatusOK, `{"probability":1.5}`},
		{"missing probability", http.StatusOK, `{"model_id":"x"}`},
		{"inverted interval", http.StatusOK, `{"probability":0.5,"lower":0.9,"upper":0.1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			b := NewHTTPBackend(HTTPBackendConfig{Name: "primary", URL: server.URL})
			_, err := b.Predict(context.Background(), testVector())
			assert.True(t, errors.Is(err, entity.ErrBackendUnavailable))
		})
	}
}

func TestGRPCBackend_Predict(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { _ = lis.Close() })
	gs := grpc.NewServer()
	RegisterPredictorServer(gs, func(_ context.Context, v entity.FeatureVector) (*entity.ModelPrediction, error) {
		if v.Numeric[features.HasIPAddress] != 1 {
			return nil, errors.New("unexpected features")
		}
		return &entity.ModelPrediction{
			Probability:  0.66,
			Interval:     entity.ConfidenceInterval{Lower: 0.6, Upper: 0.7},
			ModelID:      "remote",
			ModelVersion: "3",
		}, nil
	})
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.DialContext(context.Background(), "passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	b := NewGRPCBackendWithConn(GRPCBackendConfig{Name: "secondary", Timeout: 5 * time.Second}, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pred, err := b.Predict(ctx, testVector())
	require.NoError(t, err)
	assert.InDelta(t, 0.66, pred.Probability, 1e-9)
	assert.InDelta(t, 0.6, pred.Interval.Lower, 1e-9)
	assert.Equal(t, "remote", pred.ModelID)

	_, err = b.Predict(ctx, entity.FeatureVector{TargetID: "x"})
	assert.ErrorIs(t, err, entity.ErrBackendUnavailable)
}
