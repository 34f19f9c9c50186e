package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"therapycore/internal/config"
	"therapycore/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	userIDHeaderDefault   = "x-user-id"
	permAdmin             = "admin"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingKey   = errors.New("missing api key headers")
	errInvalidKey   = errors.New("invalid api key")
	errInvalidExtra = errors.New("invalid extra header")
	errRateLimited  = errors.New("rate limit exceeded")
)

// Caller is the authenticated identity of a request.
type Caller struct {
	Client string
	UserID string
	Admin  bool
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// authenticator validates API keys for both transports.
type authenticator struct {
	cfg             *config.APIConfig
	clientsByAPIKey map[string]config.APIClientKey
	limiter         *rateLimiter
}

func newAuthenticator(cfg *config.APIConfig) *authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &authenticator{
		cfg:             cfg,
		clientsByAPIKey: m,
		limiter:         newRateLimiter(cfg.RateLimit),
	}
}

func (a *authenticator) headerName(configured, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(configured))
	if h == "" {
		return fallback
	}
	return h
}

func (a *authenticator) apiKeyHeader() string {
	return a.headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)
}

func (a *authenticator) extraHeader() string {
	return a.headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)
}

func (a *authenticator) userIDHeader() string {
	return a.headerName(a.cfg.Auth.HeaderUserID, userIDHeaderDefault)
}

// authenticate resolves the caller. With auth disabled the user id header is trusted as is.
func (a *authenticator) authenticate(apiKey, extra, userID string) (Caller, error) {
	if !a.cfg.Auth.Enabled {
		return Caller{Client: clientKeyUnknown, UserID: userID}, nil
	}
	if apiKey == "" {
		return Caller{}, errMissingKey
	}

	client, ok := a.clientsByAPIKey[apiKey]
	if !ok {
		return Caller{}, errInvalidKey
	}
	if client.Extra != "" && subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return Caller{}, errInvalidExtra
	}

	return Caller{Client: client.Name, UserID: userID, Admin: hasPermission(client, permAdmin)}, nil
}

func hasPermission(client config.APIClientKey, perm string) bool {
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

func (a *authenticator) allow(key string) bool {
	return a.limiter.allow(key)
}

// health checks bypass API key auth
var healthMethodPrefix = "/" + healthpb.Health_ServiceDesc.ServiceName + "/"

type AuthInterceptor struct {
	auth *authenticator
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{auth: newAuthenticator(cfg)}
}

func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(i.auth.apiKeyHeader()))

		caller, err := i.auth.authenticate(apiKey, first(md.Get(i.auth.extraHeader())), first(md.Get(i.auth.userIDHeader())))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		key := apiKey
		if key == "" {
			key = remoteAddr(ctx)
		}
		if !i.auth.allow(key) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		return handler(WithCaller(ctx, caller), req)
	}
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := logging.Component(logger, "grpc")

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		l := base.With().Str(logging.FieldRequestID, requestID).Logger()
		ctx = l.WithContext(ctx)

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := status.Code(err)
		ev := l.Info()
		if code == codes.Internal || code == codes.Unavailable {
			ev = l.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("remote", remoteAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDMetadataKey = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
