package api

import (
	"sync"
	"time"

	"github.com/SUNET/fed-trust/pkg/federation"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/store"
)

// ServerContext holds the shared state the API handlers close over: the
// FederationContext driving discovery/verification/resolve, the metadata
// this entity advertises about itself, the subordinate registry backing
// the list endpoint, and the optional rate limiter and metrics. Grounded
// on the teacher's pkg/api.ServerContext (mutex-guarded shared state with
// an always-valid Logger), retargeted from pipeline/TSL state to a
// FederationContext.
type ServerContext struct {
	mu sync.RWMutex

	Federation     *federation.FederationContext
	OwnMetadata    map[string]map[string]any
	Subordinates   *store.SubordinateRegistry
	TrustMarkStats *store.TrustMarkStatusStore
	Logger         logging.Logger
	RateLimiter    *RateLimiter
	Metrics        *Metrics
	BaseURL        string // this entity's own base URL; not read by the built-in handlers

	// LastResolved records the last time the resolve endpoint successfully
	// produced a response, used by ReadinessHandler.
	LastResolved time.Time
}

// NewServerContext builds a ServerContext around fc, ensuring a valid
// Logger is always present.
func NewServerContext(fc *federation.FederationContext, logger logging.Logger) *ServerContext {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &ServerContext{
		Federation: fc,
		Logger:     logger,
	}
}

// RLock/RUnlock/Lock/Unlock expose the ServerContext's mutex to handlers
// that read or update OwnMetadata at runtime (e.g. an admin endpoint
// rotating advertised metadata without restarting the process).
func (s *ServerContext) Lock()    { s.mu.Lock() }
func (s *ServerContext) Unlock()  { s.mu.Unlock() }
func (s *ServerContext) RLock()   { s.mu.RLock() }
func (s *ServerContext) RUnlock() { s.mu.RUnlock() }

func (s *ServerContext) metadataSnapshot() map[string]map[string]any {
	s.RLock()
	defer s.RUnlock()
	return s.OwnMetadata
}
