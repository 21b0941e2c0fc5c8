package okta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAPI is a fixture authAPI with per-call hooks.
type scriptedAPI struct {
	login         func(LoginRequest) (*LoginResponse, error)
	verify        func(Factor, VerifyRequest) (*LoginResponse, error)
	createSession func(string) (*Session, error)
}

func (s *scriptedAPI) Login(_ context.Context, req LoginRequest) (*LoginResponse, error) {
	return s.login(req)
}

func (s *scriptedAPI) Verify(_ context.Context, factor Factor, req VerifyRequest) (*LoginResponse, error) {
	return s.verify(factor, req)
}

func (s *scriptedAPI) CreateSession(_ context.Context, token string) (*Session, error) {
	if s.createSession != nil {
		return s.createSession(token)
	}
	return &Session{ID: "sid-1", Token: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func instantNegotiator(api authAPI) *Negotiator {
	n := NewNegotiator(api)
	n.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return n
}

func totpFactor(id string) Factor {
	return Factor{ID: id, Type: FactorTOTP, Provider: "OKTA"}
}

func pushFactor(id string) Factor {
	return Factor{ID: id, Type: FactorPush, Provider: "OKTA"}
}

func TestAuthenticatePrimarySuccess(t *testing.T) {
	api := &scriptedAPI{
		login: func(req LoginRequest) (*LoginResponse, error) {
			assert.Equal(t, "alice", req.Username)
			return &LoginResponse{Status: StatusSuccess, SessionToken: "tok-1"}, nil
		},
	}

	n := NewNegotiator(api)
	session, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.False(t, session.MFACompleted)
	assert.Equal(t, StateAuthenticated, n.State())
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return nil, &APIError{ErrorCode: "E0000004", ErrorSummary: "Authentication failed", HTTPStatus: 401}
		},
	}

	session, err := NewNegotiator(api).Authenticate(context.Background(), "alice", "wrong")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateLockedOut(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{Status: StatusLockedOut}, nil
		},
	}

	session, err := NewNegotiator(api).Authenticate(context.Background(), "alice", "hunter2")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestAuthenticateRetriesAfterTransportFailure(t *testing.T) {
	calls := 0
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			calls++
			if calls == 1 {
				return nil, &NetworkError{Op: "POST /api/v1/authn", Err: context.DeadlineExceeded}
			}
			return &LoginResponse{Status: StatusSuccess, SessionToken: "tok-1"}, nil
		},
	}

	n := NewNegotiator(api)
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, StateUnauthenticated, n.State())

	session, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateAuthenticated, n.State())
}

func TestAuthenticateMFARequired(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{totpFactor("f1"), pushFactor("f2")}},
			}, nil
		},
	}

	n := NewNegotiator(api)
	session, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Nil(t, session, "nil session signals an outstanding challenge")
	assert.Equal(t, StateChallengeRequired, n.State())
	assert.Len(t, n.Factors(), 2)
}

func TestExhaustedFactorsAreWithdrawn(t *testing.T) {
	rejected := &LoginResponse{Status: StatusMFAChallenge, FactorResult: ResultRejected}

	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{totpFactor("f1"), totpFactor("f2"), totpFactor("f3")}},
			}, nil
		},
		verify: func(factor Factor, req VerifyRequest) (*LoginResponse, error) {
			if factor.ID == "f3" {
				return &LoginResponse{Status: StatusSuccess, SessionToken: "tok-mfa"}, nil
			}
			return rejected, nil
		},
	}

	n := instantNegotiator(api)
	n.budget = 2
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	// Burn both attempts on f1, then both on f2.
	for _, id := range []string{"f1", "f1", "f2", "f2"} {
		factor := Factor{ID: id, Type: FactorTOTP}
		_, err := n.ResolveFactor(context.Background(), factor, "000000")
		assert.ErrorIs(t, err, ErrFactorRejected)
	}

	remaining := n.Factors()
	require.Len(t, remaining, 1, "spent factors must not be re-offered")
	assert.Equal(t, "f3", remaining[0].ID)

	session, err := n.ResolveFactor(context.Background(), remaining[0], "123456")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.MFACompleted)
	assert.Equal(t, StateAuthenticated, n.State())
}

func TestNegotiationAbortsWhenNoFactorsRemain(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{totpFactor("f1")}},
			}, nil
		},
		verify: func(Factor, VerifyRequest) (*LoginResponse, error) {
			return &LoginResponse{Status: StatusMFAChallenge, FactorResult: ResultRejected}, nil
		},
	}

	n := instantNegotiator(api)
	n.budget = 1
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = n.ResolveFactor(context.Background(), totpFactor("f1"), "000000")
	assert.ErrorIs(t, err, ErrNoFactorsRemaining)
	assert.Equal(t, StateExpired, n.State())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "challenge", authErr.Phase)
}

func TestPushFactorPollsUntilApproved(t *testing.T) {
	polls := 0
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{pushFactor("fp")}},
			}, nil
		},
		verify: func(factor Factor, req VerifyRequest) (*LoginResponse, error) {
			polls++
			if polls < 3 {
				return &LoginResponse{Status: StatusMFAChallenge, FactorResult: ResultWaiting}, nil
			}
			return &LoginResponse{Status: StatusSuccess, SessionToken: "tok-push"}, nil
		},
	}

	n := instantNegotiator(api)
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	session, err := n.ResolveFactor(context.Background(), pushFactor("fp"), "")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 3, polls)
	assert.True(t, session.MFACompleted)
}

func TestPushFactorTimesOut(t *testing.T) {
	now := time.Now()
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{pushFactor("fp")}},
			}, nil
		},
		verify: func(Factor, VerifyRequest) (*LoginResponse, error) {
			return &LoginResponse{Status: StatusMFAChallenge, FactorResult: ResultWaiting}, nil
		},
	}

	n := instantNegotiator(api)
	n.now = func() time.Time {
		now = now.Add(30 * time.Second)
		return now
	}

	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = n.ResolveFactor(context.Background(), pushFactor("fp"), "")
	assert.ErrorIs(t, err, ErrFactorTimeout)
	assert.Equal(t, StateChallengeRequired, n.State(), "a timed-out push factor can be retried")
}

func TestVerifyForbiddenCountsAsRejection(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{totpFactor("f1"), totpFactor("f2")}},
			}, nil
		},
		verify: func(Factor, VerifyRequest) (*LoginResponse, error) {
			return nil, &APIError{ErrorCode: "E0000068", ErrorSummary: "Invalid Passcode/Answer", HTTPStatus: 403}
		},
	}

	n := instantNegotiator(api)
	n.budget = 1
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = n.ResolveFactor(context.Background(), totpFactor("f1"), "000000")
	assert.ErrorIs(t, err, ErrFactorRejected)
	assert.Len(t, n.Factors(), 1)
}

func TestVerifySendsAnswerForQuestionFactor(t *testing.T) {
	question := Factor{ID: "fq", Type: FactorQuestion}
	var got VerifyRequest
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{
				Status:     StatusMFARequired,
				StateToken: "st-1",
				Embedded:   LoginEmbedded{Factors: []Factor{question}},
			}, nil
		},
		verify: func(_ Factor, req VerifyRequest) (*LoginResponse, error) {
			got = req
			return &LoginResponse{Status: StatusSuccess, SessionToken: "tok"}, nil
		},
	}

	n := instantNegotiator(api)
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = n.ResolveFactor(context.Background(), question, "maiden name")
	require.NoError(t, err)
	assert.Equal(t, "maiden name", got.Answer)
	assert.Empty(t, got.PassCode)
	assert.Equal(t, "st-1", got.StateToken)
}

func TestAuthenticateRefusesReentry(t *testing.T) {
	api := &scriptedAPI{
		login: func(LoginRequest) (*LoginResponse, error) {
			return &LoginResponse{Status: StatusSuccess, SessionToken: "tok"}, nil
		},
	}

	n := NewNegotiator(api)
	_, err := n.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = n.Authenticate(context.Background(), "alice", "hunter2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authenticated")
}
