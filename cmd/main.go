// Package main provides the fed-trust OpenID Federation entrypoint.
//
// fed-trust resolves and verifies OpenID Federation trust chains: it
// discovers entity configurations and subordinate statements, verifies them
// against one or more pinned trust anchors, merges metadata policy along the
// way, and checks trust marks. It serves the federation discovery, fetch,
// list, resolve, and trust-mark status endpoints over HTTP.
//
// # Configuration
//
// fed-trust is configured via a YAML file (see pkg/config.Config) naming the
// HTTP server address, logging, outbound fetch tuning, inbound rate
// limiting, and this entity's federation identity: its entity_id, the path
// to its own signing keys, its pinned trust anchors, authority hints, and
// advertised trust marks.
//
// # API Endpoints
//
//	GET  /.well-known/openid-federation   - this entity's signed entity configuration
//	GET  /fetch?sub=<id>                  - a signed subordinate statement about sub
//	GET  /list                            - known subordinate entity IDs
//	GET  /resolve?sub=&trust_anchor=&type= - a signed resolve response
//	GET|POST /trust-mark-status           - whether a trust mark is still active
//	GET  /health, /healthz, /ready, /readiness, /metrics
//
// See: https://github.com/SUNET/fed-trust for more information
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"

	"github.com/SUNET/fed-trust/pkg/api"
	"github.com/SUNET/fed-trust/pkg/config"
	"github.com/SUNET/fed-trust/pkg/federation"
	"github.com/SUNET/fed-trust/pkg/httpfetch"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
	"github.com/SUNET/fed-trust/pkg/statement"
	"github.com/SUNET/fed-trust/pkg/store"
)

// Version is set at build time using -ldflags, e.g.
// go build -ldflags "-X main.Version=1.0.0" ./cmd
var Version = "dev"

func usage() {
	prog := os.Args[0]
	fmt.Fprintf(os.Stderr, "\nUsage: %s [options] <config.yaml>\n", prog)
	fmt.Fprintln(os.Stderr, "Options:")
	fmt.Fprintln(os.Stderr, "  --help      Show this help message and exit.")
	fmt.Fprintln(os.Stderr, "  --version   Show version information and exit.")
	fmt.Fprintln(os.Stderr, "")
}

// loadJWKSFile reads a JSON JWK Set from disk.
func loadJWKSFile(path string) (*message.JWKSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jwks file %s: %w", path, err)
	}
	var set message.JWKSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing jwks file %s: %w", path, err)
	}
	return &set, nil
}

// loadTrustAnchors resolves the anchor_id -> path map from configuration
// into the anchor_id -> *message.JWKSet map federation.Config requires.
func loadTrustAnchors(paths map[string]string) (map[string]*message.JWKSet, error) {
	anchors := make(map[string]*message.JWKSet, len(paths))
	for anchorID, path := range paths {
		jwks, err := loadJWKSFile(path)
		if err != nil {
			return nil, fmt.Errorf("trust anchor %s: %w", anchorID, err)
		}
		anchors[anchorID] = jwks
	}
	return anchors, nil
}

// signingKeyFromJWKS picks this entity's first private key out of jwks and
// pairs it with alg, as jwx.SignCompact requires.
func signingKeyFromJWKS(jwks *message.JWKSet, alg string) (jwx.SigningKey, error) {
	if jwks == nil || len(jwks.Keys) == 0 {
		return jwx.SigningKey{}, fmt.Errorf("signing keys file contains no keys")
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(jwks.Keys[0], &key); err != nil {
		return jwx.SigningKey{}, fmt.Errorf("parsing signing key: %w", err)
	}
	if key.IsPublic() {
		return jwx.SigningKey{}, fmt.Errorf("signing keys file's first key has no private material")
	}
	return jwx.SigningKey{
		Algorithm: jose.SignatureAlgorithm(alg),
		Key:       key.Key,
		KeyID:     key.KeyID,
	}, nil
}

func main() {
	showHelp := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println("Version:", Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: missing config YAML file argument.")
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	level := logging.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	case "fatal":
		level = logging.FatalLevel
	}
	var logger logging.Logger
	if cfg.Logging.Format == "json" {
		logger = logging.JSONLogger(level)
	} else {
		logger = logging.NewLogger(level)
	}

	ownJWKS, err := loadJWKSFile(cfg.Federation.SigningKeysPath)
	if err != nil {
		logger.Fatal("failed to load signing keys", logging.F("error", err.Error()))
	}
	signingKey, err := signingKeyFromJWKS(ownJWKS, cfg.Federation.SigningAlg)
	if err != nil {
		logger.Fatal("failed to derive signing key", logging.F("error", err.Error()))
	}
	publicJWKS, err := jwx.ExportPublicJWKS([]jose.JSONWebKey{{Key: signingKey.Key, KeyID: signingKey.KeyID, Algorithm: string(signingKey.Algorithm), Use: "sig"}})
	if err != nil {
		logger.Fatal("failed to export public signing key", logging.F("error", err.Error()))
	}

	trustAnchors, err := loadTrustAnchors(cfg.Federation.TrustAnchors)
	if err != nil {
		logger.Fatal("failed to load trust anchors", logging.F("error", err.Error()))
	}

	fetcher := httpfetch.New(httpfetch.Config{
		Timeout:      cfg.Pipeline.Timeout,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		RateLimitRPS: cfg.Pipeline.RateLimitRPS,
		Logger:       logger,
	})

	var trustMarks []message.EmbeddedTrustMark
	for _, compact := range cfg.Federation.TrustMarks {
		var mark message.TrustMark
		payload, err := jwx.UnverifiedPayload(compact)
		if err == nil {
			err = json.Unmarshal(payload, &mark)
		}
		if err != nil {
			logger.Fatal("failed to parse configured trust mark", logging.F("error", err.Error()))
		}
		trustMarks = append(trustMarks, message.EmbeddedTrustMark{TrustMarkID: mark.TrustMarkID, TrustMark: compact})
	}

	fc, err := federation.New(federation.Config{
		EntityID:       cfg.Federation.EntityID,
		Role:           federation.FederationEntity,
		SigningKey:     signingKey,
		OwnJWKS:        publicJWKS,
		TrustAnchors:   trustAnchors,
		AuthorityHints: statement.StaticAuthorityHints(cfg.Federation.AuthorityHints),
		TrustMarks:     trustMarks,
		TrPriority:     cfg.Federation.TrPriority,
		Lifetime:       cfg.Federation.Lifetime,
		Fetcher:        fetcher,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to build federation context", logging.F("error", err.Error()))
	}

	serverCtx := api.NewServerContext(fc, logger)

	if cfg.Federation.StoreDir != "" {
		subordinates, err := store.OpenSubordinateRegistry(filepath.Join(cfg.Federation.StoreDir, "subordinates"))
		if err != nil {
			logger.Fatal("failed to open subordinate registry", logging.F("error", err.Error()))
		}
		trustMarkStats, err := store.OpenTrustMarkStatusStore(filepath.Join(cfg.Federation.StoreDir, "trust_mark_status"))
		if err != nil {
			logger.Fatal("failed to open trust mark status store", logging.F("error", err.Error()))
		}
		serverCtx.Subordinates = subordinates
		serverCtx.TrustMarkStats = trustMarkStats
	}

	serverCtx.RateLimiter = api.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitRPS*2)
	serverCtx.Metrics = api.NewMetrics()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(serverCtx.RateLimiter.Middleware())
	r.Use(serverCtx.Metrics.MetricsMiddleware())

	api.RegisterAPIRoutes(r, serverCtx)
	api.RegisterHealthEndpoints(r, serverCtx)
	api.RegisterMetricsEndpoint(r, serverCtx.Metrics)

	listenAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Info("API server listening", logging.F("addr", listenAddr), logging.F("entity_id", cfg.Federation.EntityID))
	if err := r.Run(listenAddr); err != nil {
		logger.Fatal("API server error", logging.F("error", err.Error()))
	}
}
