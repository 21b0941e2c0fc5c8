package okta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// State is the negotiator's position in the login flow.
type State int

const (
	StateUnauthenticated State = iota
	StatePrimarySubmitted
	StateChallengeRequired
	StateChallengeAnswered
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StatePrimarySubmitted:
		return "PrimaryFactorSubmitted"
	case StateChallengeRequired:
		return "ChallengeRequired"
	case StateChallengeAnswered:
		return "ChallengeAnswered"
	case StateAuthenticated:
		return "Authenticated"
	case StateExpired:
		return "Expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// invalidCredentialsCode is Okta's error code for a failed primary
// authentication.
const invalidCredentialsCode = "E0000004"

// DefaultFactorBudget is how many rejections a single factor absorbs
// before it is withdrawn from the negotiation.
const DefaultFactorBudget = 3

// authAPI is the slice of the Okta client the negotiator needs. Tests
// substitute fixture implementations.
type authAPI interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Verify(ctx context.Context, factor Factor, req VerifyRequest) (*LoginResponse, error)
	CreateSession(ctx context.Context, sessionToken string) (*Session, error)
}

// Negotiator drives the login state machine:
//
//	Unauthenticated → PrimaryFactorSubmitted → {ChallengeRequired →
//	ChallengeAnswered}* → Authenticated → Expired
//
// Factors are resolved strictly in sequence. Each factor has a bounded
// rejection budget; an exhausted factor is withdrawn, and when none
// remain the whole negotiation fails.
type Negotiator struct {
	api    authAPI
	state  State
	budget int

	stateToken string
	factors    []Factor
	attempts   map[string]int

	// pushInterval/pushWait bound the WAITING poll loop for push factors.
	pushInterval time.Duration
	pushWait     time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewNegotiator builds a negotiator with the default factor budget.
func NewNegotiator(api authAPI) *Negotiator {
	return &Negotiator{
		api:          api,
		state:        StateUnauthenticated,
		budget:       DefaultFactorBudget,
		attempts:     map[string]int{},
		pushInterval: 2 * time.Second,
		pushWait:     60 * time.Second,
		now:          time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// State returns the current machine state.
func (n *Negotiator) State() State { return n.state }

// Authenticate submits primary credentials. On success it returns an
// authenticated session. A nil session with nil error means MFA is now
// required: drive Factors/ResolveFactor next.
func (n *Negotiator) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	if n.state != StateUnauthenticated {
		return nil, fmt.Errorf("authenticate called in state %s", n.state)
	}

	resp, err := n.api.Login(ctx, LoginRequest{Username: username, Password: password})
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			// State stays Unauthenticated so Authenticate can be
			// called again.
			return nil, err
		}
		n.state = StatePrimarySubmitted
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == invalidCredentialsCode {
			return nil, &AuthError{Phase: "login", Err: ErrInvalidCredentials}
		}
		return nil, &AuthError{Phase: "login", Err: err}
	}
	n.state = StatePrimarySubmitted

	switch resp.Status {
	case StatusSuccess:
		return n.establish(ctx, resp.SessionToken, false)

	case StatusMFARequired:
		if len(resp.Embedded.Factors) == 0 {
			return nil, &AuthError{Phase: "login", Err: errors.New("MFA required but no factors enrolled")}
		}
		n.stateToken = resp.StateToken
		n.factors = resp.Embedded.Factors
		n.state = StateChallengeRequired
		log.Debug("mfa required", "factors", len(n.factors))
		return nil, nil

	case StatusLockedOut:
		return nil, &AuthError{Phase: "login", Err: ErrAccountLocked}

	default:
		return nil, &AuthError{Phase: "login", Err: fmt.Errorf("unsupported login status %q", resp.Status)}
	}
}

// Factors returns the ordered factors still eligible for verification.
// Only valid while a challenge is outstanding.
func (n *Negotiator) Factors() []Factor {
	if n.state != StateChallengeRequired {
		return nil
	}
	var out []Factor
	for _, f := range n.factors {
		if n.attempts[f.ID] < n.budget {
			out = append(out, f)
		}
	}
	return out
}

// ResolveFactor verifies one factor with the user-supplied response (the
// response is ignored for push factors, which poll instead).
//
// A rejection consumes one unit of the factor's budget and returns
// ErrFactorRejected while other factors remain usable; when every factor
// is spent the negotiation aborts with an AuthError. A timeout is fatal
// for the negotiation.
func (n *Negotiator) ResolveFactor(ctx context.Context, factor Factor, response string) (*Session, error) {
	if n.state != StateChallengeRequired {
		return nil, fmt.Errorf("resolveFactor called in state %s", n.state)
	}
	if n.attempts[factor.ID] >= n.budget {
		return nil, fmt.Errorf("factor %s retry budget exhausted", factor.ID)
	}

	n.state = StateChallengeAnswered

	req := VerifyRequest{StateToken: n.stateToken}
	switch factor.Type {
	case FactorQuestion:
		req.Answer = response
	case FactorPush:
		// no user payload
	default:
		req.PassCode = response
	}

	resp, err := n.api.Verify(ctx, factor, req)
	if err != nil {
		n.state = StateChallengeRequired
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == 403 {
			return nil, n.reject(factor)
		}
		return nil, err
	}

	if factor.Type == FactorPush {
		resp, err = n.pollPush(ctx, factor, resp)
		if err != nil {
			n.state = StateChallengeRequired
			return nil, err
		}
	}

	if resp.StateToken != "" {
		n.stateToken = resp.StateToken
	}

	switch {
	case resp.Status == StatusSuccess && resp.SessionToken != "":
		return n.establish(ctx, resp.SessionToken, true)

	case resp.FactorResult == ResultRejected:
		n.state = StateChallengeRequired
		return nil, n.reject(factor)

	case resp.FactorResult == ResultTimeout:
		n.state = StateChallengeRequired
		return nil, &AuthError{Phase: "challenge", Err: ErrFactorTimeout}

	default:
		n.state = StateChallengeRequired
		return nil, n.reject(factor)
	}
}

func (n *Negotiator) pollPush(ctx context.Context, factor Factor, resp *LoginResponse) (*LoginResponse, error) {
	deadline := n.now().Add(n.pushWait)
	req := VerifyRequest{StateToken: n.stateToken}

	for resp.FactorResult == ResultWaiting {
		if n.now().After(deadline) {
			return nil, &AuthError{Phase: "challenge", Err: ErrFactorTimeout}
		}
		if err := n.sleep(ctx, n.pushInterval); err != nil {
			return nil, err
		}
		var err error
		resp, err = n.api.Verify(ctx, factor, req)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (n *Negotiator) reject(factor Factor) error {
	n.attempts[factor.ID]++
	log.Debug("factor rejected", "factor", factor.ID, "attempts", n.attempts[factor.ID], "budget", n.budget)

	if len(n.Factors()) == 0 {
		n.state = StateExpired
		return &AuthError{Phase: "challenge", Err: ErrNoFactorsRemaining}
	}
	return ErrFactorRejected
}

func (n *Negotiator) establish(ctx context.Context, sessionToken string, mfa bool) (*Session, error) {
	session, err := n.api.CreateSession(ctx, sessionToken)
	if err != nil {
		n.state = StateExpired
		return nil, &AuthError{Phase: "session", Err: err}
	}
	session.MFACompleted = mfa
	n.state = StateAuthenticated
	return session, nil
}
