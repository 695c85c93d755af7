package worker

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/parser"
	"github.com/aidosk/court-docket-crawler/internal/progress"
	"github.com/aidosk/court-docket-crawler/internal/protocol"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
	"github.com/aidosk/court-docket-crawler/internal/session"
	"github.com/aidosk/court-docket-crawler/internal/store"
)

// authStepPacing is the courtesy delay between login steps; the origin
// rejects sequences that arrive too fast.
const authStepPacing = time.Second

// NewFromConfig assembles the full per-partition stack: session manager,
// authenticator, protocol client, and parser, wired to the shared
// breaker at the request layer only.
func NewFromConfig(
	cfg config.Config,
	part docket.Partition,
	breaker *resilience.Breaker,
	st store.Store,
	reporter progress.Reporter,
	runID uuid.UUID,
	logger *zap.Logger,
) *RegionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}

	requestRetry := resilience.NewStrategy(cfg.Retry.Request.ToRetry(), breaker, logger)
	mgr := session.NewManager(cfg.Auth.BaseURL, cfg.HTTP, requestRetry, logger)

	authRetry := resilience.NewStrategy(cfg.Retry.Auth.ToRetry(), nil, logger)
	auth := session.NewAuthenticator(mgr, cfg.Auth, authRetry, authStepPacing, logger)

	proto := protocol.NewClient(mgr, cfg.Harvest.Pacing(), logger)
	searchRetry := resilience.NewStrategy(cfg.Retry.Search.ToRetry(), nil, logger)

	return New(Deps{
		Partition:     part,
		Year:          cfg.Harvest.Year,
		Authenticator: auth,
		Searcher:      proto,
		Parser:        parser.New(logger),
		Session:       mgr,
		Store:         st,
		Reporter:      reporter,
		Retry:         searchRetry,
		Logger:        logger,
		RunID:         runID,
		MaxReauth:     cfg.Harvest.MaxReauthAttempts,
	})
}
