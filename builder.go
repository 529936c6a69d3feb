package obsidian

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/eventbus"
	"github.com/dpup/obsidian/eventbus/membus"
	"github.com/dpup/obsidian/httpapi"
	"github.com/dpup/obsidian/identity"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/management"
	"github.com/dpup/obsidian/oauth20"
	"github.com/dpup/obsidian/protect"
	"github.com/dpup/obsidian/repository"
	"github.com/dpup/obsidian/saga"
	"github.com/dpup/obsidian/storage"
)

// ServerOption customizes the server.
type ServerOption func(*builder)

type handler struct {
	pattern string
	handler http.Handler
}

type builder struct {
	baseContext     context.Context
	host            string
	port            int
	certFile        string
	keyFile         string
	shutdownTimeout time.Duration
	securityHeaders *SecurityHeaders
	signingKey      []byte
	sessionKey      []byte
	hasher          authn.Hasher

	plugins  *Registry
	handlers []handler
}

// New builds a server from Config and opts. Storage and the event bus are
// created from configuration unless supplied with WithPlugin.
func New(opts ...ServerOption) (*Server, error) {
	if err := CheckConfig(); err != nil {
		return nil, err
	}
	b := &builder{
		host:            Config.String("server.host"),
		port:            Config.Int("server.port"),
		certFile:        Config.String("server.tls.certFile"),
		keyFile:         Config.String("server.tls.keyFile"),
		shutdownTimeout: Config.Duration("server.shutdownTimeout"),
		securityHeaders: SecurityHeadersFromConfig(),
		signingKey:      []byte(Config.String("oauth20.signingKey")),
		sessionKey:      []byte(Config.String("identity.signingKey")),
		hasher:          authn.DefaultHasher,
		plugins:         &Registry{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() (*Server, error) {
	if b.baseContext == nil {
		b.baseContext = context.Background()
	}
	ctx := logging.EnsureLogger(b.baseContext)

	store, err := b.storage(ctx)
	if err != nil {
		return nil, err
	}
	events := b.eventBus(ctx)
	subscribeAudit(events)

	signingKey, err := ensureKey(ctx, "oauth20.signingKey", b.signingKey)
	if err != nil {
		return nil, err
	}
	sessionKey, err := ensureKey(ctx, "identity.signingKey", b.sessionKey)
	if err != nil {
		return nil, err
	}

	users := repository.Users(store)
	clients := repository.Clients(store)
	scopes := repository.Scopes(store)
	tokens := oauth20.NewStorageTokenStore(store)

	bus := saga.NewBus(
		saga.WithShards(Config.Int("saga.shards")),
		saga.WithTTL(Config.Duration("saga.ttl")),
		saga.WithSweepInterval(Config.Duration("saga.sweepInterval")),
		saga.WithEventBus(events),
	)
	oauth20.Register(bus, oauth20.Deps{
		Clients: clients,
		Users:   users,
		Scopes:  scopes,
		Tokens:  tokens,
		Issuer: oauth20.NewIssuer(signingKey,
			oauth20.WithIssuerName(Config.String("oauth20.issuer")),
			oauth20.WithTTLs(
				Config.Duration("oauth20.codeExpiry"),
				Config.Duration("oauth20.accessTokenExpiry"),
				Config.Duration("oauth20.refreshTokenExpiry"),
			),
		),
	})
	authn.Register(bus, users, b.hasher)
	management.Register(bus, management.Deps{
		Clients: clients,
		Scopes:  scopes,
		Users:   users,
		Hasher:  b.hasher,
	})

	protector := protect.New(signingKey, "oauth20.context", protect.WithTTL(Config.Duration("oauth20.contextExpiry")))
	ids := identity.NewCookieService(users, sessionKey,
		identity.WithCookieName(Config.String("identity.cookieName")),
		identity.WithExpiration(Config.Duration("identity.expiration")),
		identity.WithSecure(b.isSecure()),
	)

	mux := http.NewServeMux()
	httpapi.New(bus, tokens, clients, protector, ids).Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, h := range b.handlers {
		mux.Handle(h.pattern, h.handler)
	}

	return &Server{
		baseContext:     ctx,
		host:            b.host,
		port:            b.port,
		certFile:        b.certFile,
		keyFile:         b.keyFile,
		shutdownTimeout: b.shutdownTimeout,
		handler:         logging.Middleware(ctx, securityMiddleware(mux, b.securityHeaders)),
		plugins:         b.plugins,
		bus:             bus,
		store:           store,
	}, nil
}

func (b *builder) storage(ctx context.Context) (storage.Store, error) {
	if p, ok := b.plugins.Get(storage.PluginName).(*storage.StoragePlugin); ok {
		return p.Store, nil
	}
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	b.plugins.Register(storage.Plugin(store))
	return store, nil
}

func (b *builder) eventBus(ctx context.Context) eventbus.EventBus {
	if p, ok := b.plugins.Get(eventbus.PluginName).(*eventbus.EventBusPlugin); ok {
		return p.EventBus
	}
	eb := membus.New(ctx, membus.WithWorkerPool(Config.Int("eventbus.workers")))
	b.plugins.Register(eventbus.Plugin(eb))
	return eb
}

func (b *builder) isSecure() bool {
	return b.certFile != "" && b.keyFile != ""
}

// ensureKey returns key, or a random key when none is configured. Tokens
// signed with a random key do not survive a restart.
func ensureKey(ctx context.Context, configKey string, key []byte) ([]byte, error) {
	if len(key) > 0 {
		return key, nil
	}
	logging.Warnw(ctx, "obsidian: no signing key configured, using a random key", "config.key", configKey)
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.WrapPrefix(err, "obsidian: generating signing key", 0)
	}
	return key, nil
}

// WithContext sets the base context for the server. Its logger is used for
// every request.
func WithContext(ctx context.Context) ServerOption {
	return func(b *builder) {
		b.baseContext = ctx
	}
}

// WithHost configures the hostname or IP the server will listen on.
//
// Config key: `server.host`.
func WithHost(host string) ServerOption {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort configures the port the server will listen on. Zero picks a free
// port.
//
// Config key: `server.port`.
func WithPort(port int) ServerOption {
	return func(b *builder) {
		b.port = port
	}
}

// WithTLS configures the server to serve TLS using the provided cert. If not
// called the server uses HTTP/H2C.
//
// Config keys: `server.tls.certFile`, `server.tls.keyFile`.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(b *builder) {
		b.certFile = certFile
		b.keyFile = keyFile
	}
}

// WithSecurityHeaders sets the security headers of every response.
//
// Config keys: `server.security.*`.
func WithSecurityHeaders(headers *SecurityHeaders) ServerOption {
	return func(b *builder) {
		b.securityHeaders = headers
	}
}

// WithSigningKeys sets the keys used for tokens and protected contexts, and
// for session cookies.
//
// Config keys: `oauth20.signingKey`, `identity.signingKey`.
func WithSigningKeys(oauthKey, sessionKey []byte) ServerOption {
	return func(b *builder) {
		b.signingKey = oauthKey
		b.sessionKey = sessionKey
	}
}

// WithHasher replaces the bcrypt password hasher.
func WithHasher(h authn.Hasher) ServerOption {
	return func(b *builder) {
		b.hasher = h
	}
}

// WithStore uses store instead of the configured storage driver.
func WithStore(store storage.Store) ServerOption {
	return WithPlugin(storage.Plugin(store))
}

// WithPlugin registers a plugin with the server's registry. Plugins are
// initialized when the server starts and shut down when it stops.
func WithPlugin(p Plugin) ServerOption {
	return func(b *builder) {
		b.plugins.Register(p)
	}
}

// WithHTTPHandler adds an HTTP handler for a ServeMux pattern.
func WithHTTPHandler(pattern string, h http.Handler) ServerOption {
	return func(b *builder) {
		b.handlers = append(b.handlers, handler{pattern: pattern, handler: h})
	}
}
