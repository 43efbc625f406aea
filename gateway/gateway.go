// Package gateway gates priced HTTP routes behind x402 payments.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

const (
	// HeaderPayment is the preferred payment header.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentLegacy is accepted when HeaderPayment is absent.
	HeaderPaymentLegacy = "X-402"

	ChallengeVersion = "x402-0.1"
	DefaultTimeout   = 60
	DefaultAsset     = "USDC"

	ReasonInvalidHeader           = "Invalid payment header"
	ReasonInvalidPayment          = "Invalid payment"
	ReasonVerificationUnavailable = "Payment verification unavailable"
)

// Verifier checks a presented authorization. It is satisfied by the in-process
// facilitator service and by the remote facilitator client.
type Verifier interface {
	Verify(ctx context.Context, auth types.Authorization) (types.VerifyResponse, error)
}

// State is where a request ended up in the payment state machine.
type State int

const (
	StateUnmatched State = iota
	StateUnauthorized
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateUnmatched:
		return "unmatched"
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorized:
		return "authorized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Payment is the verified payment attached to an authorized request.
type Payment struct {
	Route         types.RouteConfig
	Authorization types.Authorization
	Verification  types.VerifyResponse
}

// Decision is the outcome for one request.
type Decision struct {
	State     State
	Challenge *types.Challenge
	Payment   *Payment
}

// Options configure the challenge a Gateway issues.
type Options struct {
	// Receiver is the address payments are made out to.
	Receiver string
	// Facilitator is the facilitator URL advertised to clients.
	Facilitator string
	// Timeout is the advertised payment timeout in seconds.
	Timeout int
	// ResourceRootURL prefixes the request path in the challenge resource.
	ResourceRootURL string
	OutputSchema    json.RawMessage
	Logger          *slog.Logger
}

// Gateway matches requests against priced routes keyed "METHOD /path".
type Gateway struct {
	routes   map[string]types.RouteConfig
	verifier Verifier
	opts     Options
}

// New creates a gateway. Routes are copied and cannot be changed afterwards.
func New(routes map[string]types.RouteConfig, verifier Verifier, opts Options) (*Gateway, error) {
	if verifier == nil {
		return nil, fmt.Errorf("gateway: verifier is required")
	}

	copied := make(map[string]types.RouteConfig, len(routes))
	for key, route := range routes {
		method, path, ok := strings.Cut(key, " ")
		if !ok || method == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("gateway: route key %q is not \"METHOD /path\"", key)
		}
		if route.Price == "" || route.Network == "" {
			return nil, fmt.Errorf("gateway: route %q needs a price and a network", key)
		}
		if route.Scheme == "" {
			route.Scheme = types.SchemeExact
		}
		if route.Asset == "" {
			route.Asset = DefaultAsset
		}
		if route.Extra != nil {
			extra := *route.Extra
			route.Extra = &extra
		}
		copied[strings.ToUpper(method)+" "+path] = route
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{routes: copied, verifier: verifier, opts: opts}, nil
}

// Decide runs the payment state machine for r.
func (g *Gateway) Decide(r *http.Request) Decision {

	// Match the priced route
	route, ok := g.routes[r.Method+" "+r.URL.Path]
	if !ok {
		return Decision{State: StateUnmatched}
	}

	// Read the payment header, preferring X-PAYMENT
	header := r.Header.Get(HeaderPayment)
	if header == "" {
		header = r.Header.Get(HeaderPaymentLegacy)
	}
	if header == "" {
		return g.unauthorized(r, route, "")
	}

	// Parse and validate the presented authorization
	auth, err := types.ParseAuthorization(decodeHeader(header))
	if err != nil {
		g.opts.Logger.Debug("malformed payment header", "path", r.URL.Path, "error", err)
		return g.unauthorized(r, route, ReasonInvalidHeader)
	}

	// Verify the authorization with the facilitator
	resp, err := g.verifier.Verify(r.Context(), auth)
	if err != nil {
		g.opts.Logger.Warn("payment verification failed", "path", r.URL.Path, "error", err)
		return g.unauthorized(r, route, verifierReason(err))
	}
	if !resp.Valid {
		reason := string(resp.Reason)
		if reason == "" {
			reason = ReasonInvalidPayment
		}
		return g.unauthorized(r, route, reason)
	}

	return Decision{
		State: StateAuthorized,
		Payment: &Payment{
			Route:         route,
			Authorization: auth,
			Verification:  resp,
		},
	}
}

func (g *Gateway) unauthorized(r *http.Request, route types.RouteConfig, reason string) Decision {
	return Decision{State: StateUnauthorized, Challenge: g.challenge(r, route, reason)}
}

func (g *Gateway) challenge(r *http.Request, route types.RouteConfig, reason string) *types.Challenge {
	var extra *types.RouteExtra
	if route.Extra != nil {
		e := *route.Extra
		extra = &e
	}
	return &types.Challenge{
		Version:      ChallengeVersion,
		Network:      route.Network,
		Asset:        route.Asset,
		Scheme:       route.Scheme,
		Price:        route.Price,
		Receiver:     g.opts.Receiver,
		Facilitator:  g.opts.Facilitator,
		Timeout:      g.opts.Timeout,
		Resource:     g.opts.ResourceRootURL + r.URL.Path,
		Description:  route.Description,
		OutputSchema: g.opts.OutputSchema,
		Extra:        extra,
		Reason:       reason,
	}
}

// verifierReason is the challenge reason for a failed Verify call. Client errors keep
// their text; transport and server errors, which can name the facilitator URL, do not.
func verifierReason(err error) string {
	if status := utils.StatusOf(err); status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return utils.PublicMessage(err)
	}
	return ReasonVerificationUnavailable
}

// decodeHeader accepts a JSON payload, or the same payload base64 encoded.
func decodeHeader(header string) []byte {
	header = strings.TrimSpace(header)
	if strings.HasPrefix(header, "{") {
		return []byte(header)
	}
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil {
		return decoded
	}
	return []byte(header)
}

type contextKey struct{}

// WithPayment returns a copy of ctx carrying p.
func WithPayment(ctx context.Context, p *Payment) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PaymentFromContext returns the verified payment of an authorized request.
func PaymentFromContext(ctx context.Context) (*Payment, bool) {
	p, ok := ctx.Value(contextKey{}).(*Payment)
	return p, ok && p != nil
}
