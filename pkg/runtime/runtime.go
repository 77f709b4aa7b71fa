// Package runtime drives the aggregator's central state machine: a
// single goroutine cycling through Idle/Ready/Signing, calling the
// Certifier on transitions and classifying every cycle's outcome into
// KeepState/ReInit/Critical, per spec.md §4.7.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stakecert/aggregator/pkg/certifier"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/metrics"
	"github.com/stakecert/aggregator/pkg/protoparams"
	"github.com/stakecert/aggregator/pkg/scanner"
	"github.com/stakecert/aggregator/pkg/stakestore"
	"github.com/stakecert/aggregator/pkg/uploader"
)

// EntityPlanner decides, given the current chain tip, whether it is
// time to open a new signed-entity certification and if so which one.
// Kept as an interface so the scheduling policy (how often to certify
// a snapshot, when to certify a transaction set) stays out of the
// state machine proper.
type EntityPlanner interface {
	NextEntity(tip scanner.ChainTip, lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip) (entities.SignedEntityType, entities.ProtocolMessage, bool)
}

// Runtime is the cooperative single-goroutine state machine.
type Runtime struct {
	certifier certifier.CertifierService
	scanner   scanner.BlockScanner
	planner   EntityPlanner
	uploader  uploader.FileUploader
	stake     *stakestore.Store
	params    *protoparams.Store
	metrics   *metrics.Registry
	logger    *log.Logger

	cyclePeriod        time.Duration
	cycleDeadline      time.Duration
	expirationDeadline time.Duration

	state         State
	currentEpoch  epoch.Epoch
	lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip
	archivePath   func(entities.SignedEntityType) string
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithArchivePath overrides how a certified entity maps to the local
// archive path handed to the uploader. Tests substitute a fake path;
// production wiring points at wherever snapshots are actually written.
func WithArchivePath(fn func(entities.SignedEntityType) string) Option {
	return func(r *Runtime) { r.archivePath = fn }
}

// New creates a Runtime in its initial Idle state.
func New(
	certifierSvc certifier.CertifierService,
	blockScanner scanner.BlockScanner,
	planner EntityPlanner,
	fileUploader uploader.FileUploader,
	stake *stakestore.Store,
	params *protoparams.Store,
	metricsReg *metrics.Registry,
	cyclePeriod, cycleDeadline, expirationDeadline time.Duration,
	opts ...Option,
) *Runtime {
	r := &Runtime{
		certifier:          certifierSvc,
		scanner:            blockScanner,
		planner:            planner,
		uploader:           fileUploader,
		stake:              stake,
		params:             params,
		metrics:            metricsReg,
		logger:             log.New(log.Writer(), "[Runtime] ", log.LstdFlags),
		cyclePeriod:        cyclePeriod,
		cycleDeadline:      cycleDeadline,
		expirationDeadline: expirationDeadline,
		state:              State{Phase: Idle},
		lastCertified:      make(map[entities.SignedEntityDiscriminant]scanner.ChainTip),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the runtime's current position, for status reporting.
func (r *Runtime) State() State { return r.state }

// CurrentEpoch returns the epoch the runtime is presently operating
// in. Satisfies pkg/server's CurrentEpochProvider.
func (r *Runtime) CurrentEpoch() epoch.Epoch { return r.currentEpoch }

// Run drives the state machine on cyclePeriod until ctx is cancelled
// or a Critical error is raised, in which case it returns that error
// for the caller to translate into a process exit.
func (r *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cyclePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick runs exactly one cycle and applies its outcome's policy.
func (r *Runtime) tick(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, r.cycleDeadline)
	defer cancel()

	runtimeErr := asRuntimeError(r.Cycle(cycleCtx))
	if r.metrics != nil {
		r.metrics.RuntimeCycleTotal.Inc()
	}
	if runtimeErr == nil {
		return nil
	}

	if r.metrics != nil {
		r.metrics.RuntimeCycleErrorTotal.WithLabelValues(runtimeErr.Kind.String()).Inc()
	}
	r.logger.Printf("%v", runtimeErr)

	switch runtimeErr.Kind {
	case KeepState:
		return nil
	case ReInit:
		r.state = State{Phase: Idle}
		r.lastCertified = make(map[entities.SignedEntityDiscriminant]scanner.ChainTip)
		return nil
	case Critical:
		return runtimeErr
	default:
		return nil
	}
}

// Cycle evaluates one transition of the table in spec.md §4.7.
func (r *Runtime) Cycle(ctx context.Context) error {
	switch r.state.Phase {
	case Idle:
		return r.cycleIdle(ctx)
	case Ready:
		return r.cycleReady(ctx)
	case Signing:
		return r.cycleSigning(ctx)
	default:
		return critical(fmt.Sprintf("unknown runtime phase %d", r.state.Phase), nil)
	}
}

func (r *Runtime) cycleIdle(ctx context.Context) error {
	tip, err := r.scanner.ChainTip(ctx)
	if err != nil {
		return keepState("fetch chain tip", err)
	}
	r.currentEpoch = tip.Epoch
	if r.metrics != nil {
		r.metrics.CurrentEpoch.Set(float64(tip.Epoch))
	}
	r.state = State{Phase: Ready}
	return nil
}

func (r *Runtime) cycleReady(ctx context.Context) error {
	tip, err := r.scanner.ChainTip(ctx)
	if err != nil {
		return keepState("fetch chain tip", err)
	}

	if tip.Epoch != r.currentEpoch {
		if err := r.observeNewEpoch(ctx, tip.Epoch); err != nil {
			return err
		}
	}

	set, message, ok := r.planner.NextEntity(tip, r.lastCertified)
	if !ok {
		return nil
	}

	if set.Discriminant == entities.DiscriminantCardanoImmutableFilesFull || set.Discriminant == entities.DiscriminantCardanoDatabase {
		digest, err := r.scanner.ScanImmutableFiles(ctx, set.Beacon)
		if err != nil {
			return keepState("scan immutable files", err)
		}
		message[entities.PartSnapshotDigest] = digest
	}

	if _, err := r.certifier.CreateOpenMessage(ctx, set, message); err != nil {
		if errors.Is(err, certifier.ErrAlreadyExists) {
			return nil
		}
		return keepState("create open message", err)
	}
	r.state = State{Phase: Signing, Entity: set}
	return nil
}

// observeNewEpoch applies the epoch offset rule (spec.md §4.6) and
// rotates the stake snapshot for the registration epoch before handing
// off to the certifier. A clean one-epoch advance is itself a ReInit
// condition (spec.md §7: "mismatch between expected and observed epoch
// offset by 1") — after rotating, the caller discards in-memory
// chain-derived state and rebuilds it from Idle rather than assuming
// the entity bookkeeping it had accumulated still applies to the new
// epoch.
func (r *Runtime) observeNewEpoch(ctx context.Context, observed epoch.Epoch) error {
	distance, within := epoch.Offset(r.currentEpoch, observed)
	if !within {
		return critical(fmt.Sprintf("epoch offset violated: current %d, observed %d", r.currentEpoch, observed), nil)
	}
	if distance == 0 {
		return nil
	}

	dist, err := r.scanner.ScanStakeDistribution(ctx, observed.Registration())
	if err != nil {
		return keepState("scan stake distribution for registration epoch", err)
	}
	if err := r.stake.Save(ctx, observed.Registration(), dist); err != nil {
		return keepState("persist rotated stake distribution", err)
	}

	if _, err := r.params.Get(ctx, observed); err != nil {
		if prev, prevErr := r.params.Get(ctx, r.currentEpoch); prevErr == nil {
			if err := r.params.Set(ctx, observed, prev); err != nil {
				return keepState("carry protocol parameters forward", err)
			}
		}
	}

	if err := r.certifier.InformEpoch(ctx, observed); err != nil {
		return keepState("inform epoch", err)
	}

	if refresher, ok := r.planner.(interface {
		Refresh(context.Context, epoch.Epoch) error
	}); ok {
		if err := refresher.Refresh(ctx, observed); err != nil {
			return keepState("refresh entity planner", err)
		}
	}

	r.currentEpoch = observed
	if r.metrics != nil {
		r.metrics.CurrentEpoch.Set(float64(observed))
	}
	return reinit(fmt.Sprintf("epoch advanced to %d, rebuilding in-memory state", observed), nil)
}

func (r *Runtime) cycleSigning(ctx context.Context) error {
	set := r.state.Entity

	cert, created, err := r.certifier.CreateCertificate(ctx, set)
	if err != nil {
		return keepState("create certificate", err)
	}
	if created {
		if r.metrics != nil {
			r.metrics.CertificateTotal.Inc()
		}
		if r.archivePath != nil && r.uploader != nil {
			if _, err := r.uploader.Upload(ctx, r.archivePath(set)); err != nil {
				r.logger.Printf("upload artifact for %s: %v", set.Key(), err)
			}
		}
		r.lastCertified[set.Discriminant] = scanner.ChainTip{
			Epoch:               set.Beacon.Epoch,
			ImmutableFileNumber: set.Beacon.ImmutableFileNumber,
			BlockNumber:         set.Beacon.BlockNumber,
		}
		r.state = State{Phase: Ready}
		_ = cert
		return nil
	}

	expired, err := r.certifier.MarkOpenMessageIfExpired(ctx, r.expirationDeadline)
	if err != nil {
		return keepState("mark open message expired", err)
	}
	for _, key := range expired {
		if key == set.Key() {
			r.state = State{Phase: Ready}
			return nil
		}
	}
	return nil
}
