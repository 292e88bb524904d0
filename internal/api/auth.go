package api

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Scopes a partner key can be granted.
const (
	ScopeAvailability = "salon:availability"
	ScopeCatalog      = "salon:catalog"
	ScopeAll          = "salon:*"
)

// methodScopes lists the scope each gRPC method needs. Methods missing here
// are open only to partners holding ScopeAll.
var methodScopes = map[string]string{
	methodGetAvailableSlots: ScopeAvailability,
	methodListServices:      ScopeCatalog,
	methodListStylists:      ScopeCatalog,
}

const (
	partnerKeyHeaderDefault    = "x-partner-key"
	partnerSecretHeaderDefault = "x-partner-secret"
	clientKeyUnknown           = "unknown"
	healthMethodPrefix         = "/grpc.health.v1.Health/"
	requestIDMetadataKey       = "x-request-id"
)

// Partner is an authenticated gRPC caller.
type Partner struct {
	Name   string
	secret []byte
	scopes map[string]bool
}

// Allows reports whether the partner holds scope, directly or via ScopeAll.
func (p *Partner) Allows(scope string) bool {
	return p.scopes[ScopeAll] || p.scopes[scope]
}

func (p *Partner) authorize(fullMethod string) error {
	scope, ok := methodScopes[fullMethod]
	if !ok {
		scope = ScopeAll
	}
	if p.Allows(scope) {
		return nil
	}
	return status.Errorf(codes.PermissionDenied, "partner %s lacks scope %s", p.Name, scope)
}

type partnerCtxKey struct{}

// PartnerFromContext returns the partner authenticated for this call.
func PartnerFromContext(ctx context.Context) (*Partner, bool) {
	p, ok := ctx.Value(partnerCtxKey{}).(*Partner)
	return p, ok
}

// PartnerAuth authenticates partner integrations on the gRPC API by a key
// and secret header pair and rate-limits each partner separately.
type PartnerAuth struct {
	enabled      bool
	required     bool
	keyHeader    string
	secretHeader string
	partners     map[string]*Partner
	limiter      *rateLimiter
	log          zerolog.Logger
}

func NewPartnerAuth(cfg *config.APIConfig, remote domain.RateLimiter, logger *zerolog.Logger) *PartnerAuth {
	a := &PartnerAuth{
		enabled:      cfg.Enabled,
		required:     cfg.Auth.Enabled,
		keyHeader:    headerOr(cfg.Auth.HeaderPartnerKey, partnerKeyHeaderDefault),
		secretHeader: headerOr(cfg.Auth.HeaderPartnerSecret, partnerSecretHeaderDefault),
		partners:     make(map[string]*Partner, len(cfg.Auth.Partners)),
		limiter:      newRateLimiter(cfg.RateLimit, remote, logger),
		log:          zerolog.Nop(),
	}
	if logger != nil {
		a.log = logger.With().Str("component", "partner_auth").Logger()
	}

	for i, k := range cfg.Auth.Partners {
		if strings.TrimSpace(k.Key) == "" {
			a.log.Warn().Str("partner", k.Name).Msg("partner without key skipped")
			continue
		}
		p := &Partner{Name: strings.TrimSpace(k.Name), secret: []byte(k.Secret), scopes: map[string]bool{}}
		if p.Name == "" {
			p.Name = "partner-" + strconv.Itoa(i+1)
		}
		if len(k.Scopes) == 0 {
			p.scopes[ScopeAll] = true
		}
		for _, s := range k.Scopes {
			s = strings.TrimSpace(s)
			if !knownScope(s) {
				a.log.Warn().Str("partner", p.Name).Str("scope", s).Msg("unknown scope ignored")
				continue
			}
			p.scopes[s] = true
		}
		a.partners[k.Key] = p
	}
	return a
}

func knownScope(s string) bool {
	switch s {
	case ScopeAvailability, ScopeCatalog, ScopeAll:
		return true
	}
	return false
}

func (a *PartnerAuth) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.enabled || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}

		limitKey := a.remoteKey(ctx)
		if a.required {
			p, err := a.authenticate(ctx)
			if err != nil {
				return nil, err
			}
			if err := p.authorize(info.FullMethod); err != nil {
				a.log.Info().Str("partner", p.Name).Str("method", info.FullMethod).Msg("partner call denied")
				return nil, err
			}
			ctx = context.WithValue(ctx, partnerCtxKey{}, p)
			if ci, ok := ctx.Value(callInfoKey{}).(*callInfo); ok {
				ci.partner = p.Name
			}
			limitKey = "partner:" + p.Name
		}

		if !a.limiter.Allow(ctx, "grpc:"+limitKey) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}
		return handler(ctx, req)
	}
}

func (a *PartnerAuth) authenticate(ctx context.Context) (*Partner, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	key := first(md.Get(a.keyHeader))
	secret := first(md.Get(a.secretHeader))
	if key == "" || secret == "" {
		return nil, status.Error(codes.Unauthenticated, "missing partner credentials")
	}

	p, ok := a.partners[key]
	if !ok || subtle.ConstantTimeCompare(p.secret, []byte(secret)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid partner credentials")
	}
	return p, nil
}

// remoteKey identifies an unauthenticated caller: the presented key when
// there is one, the peer address otherwise.
func (a *PartnerAuth) remoteKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if key := first(md.Get(a.keyHeader)); key != "" {
		return "key:" + key
	}
	if addr := peerAddr(ctx); addr != "" {
		return "ip:" + addr
	}
	return clientKeyUnknown
}

func headerOr(h, def string) string {
	if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
		return h
	}
	return def
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// callInfo is filled by inner interceptors and read by the request log.
type callInfo struct {
	partner string
}

type callInfoKey struct{}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		ci := &callInfo{}
		start := time.Now()
		resp, err := handler(context.WithValue(ctx, callInfoKey{}, ci), req)
		code := status.Code(err)

		ev := base.Info()
		if code == codes.Internal || code == codes.Unknown {
			ev = base.Error().Err(err)
		}
		if ci.partner != "" {
			ev = ev.Str("partner", ci.partner)
		}
		remote := peerAddr(ctx)
		if remote == "" {
			remote = clientKeyUnknown
		}
		ev.Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
