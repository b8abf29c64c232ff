package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

type RotationState string

const (
	RotationIdle        RotationState = "IDLE"
	RotationMinted      RotationState = "MINTED"
	RotationPropagating RotationState = "PROPAGATING"
	RotationPromoted    RotationState = "PROMOTED"
)

// EdgeKeyPublisher pushes verification keys to the edge and reports the rollout of the set
// holding kid.
type EdgeKeyPublisher interface {
	Publish(ctx context.Context, secrets ...*types.Secret) error
	Status(ctx context.Context, kid string) (types.DeploymentStatus, error)
}

// RotationService rolls the signing secret over without invalidating tokens in flight:
// Idle -> Minted -> Propagating -> Promoted -> Idle.
type RotationService struct {
	keyRing     *KeyRingService
	edge        EdgeKeyPublisher
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	run   sync.Mutex
	mu    sync.Mutex
	state RotationState
}

func NewRotationService(keyRing *KeyRingService, edge EdgeKeyPublisher, maxAttempts int, baseDelay time.Duration) *RotationService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RotationService{
		keyRing:     keyRing,
		edge:        edge,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		now:         time.Now,
		sleep:       sleepContext,
		state:       RotationIdle,
	}
}

func (rs *RotationService) State() RotationState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state
}

func (rs *RotationService) setState(s RotationState) {
	rs.mu.Lock()
	rs.state = s
	rs.mu.Unlock()
	level.Info(global.Logger).Log("msg", "rotation state", "state", s)
}

// Rotate runs one full rotation and returns the new primary secret. Only one rotation runs at a time
// in this process; the scheduler queues it once for every process sharing the stores.
// Any failure ends the run back in Idle with the current primary untouched. When another rotation
// interfered, the edge key set is republished from the key ring so the primary stays verifiable.
func (rs *RotationService) Rotate(ctx context.Context) (*types.Secret, error) {
	if !rs.run.TryLock() {
		return nil, fmt.Errorf("%w: rotation already running", types.ErrRotationState)
	}
	defer rs.run.Unlock()
	defer rs.setState(RotationIdle)

	minted, err := rs.mint(ctx)
	if err != nil {
		return nil, rs.abort(ctx, minted, err)
	}
	rs.setState(RotationMinted)

	rs.setState(RotationPropagating)
	if err := rs.waitForEdge(ctx, minted.ID); err != nil {
		return nil, rs.abort(ctx, minted, err)
	}

	primary, err := rs.promote(ctx, minted)
	if err != nil {
		return nil, rs.abort(ctx, minted, err)
	}
	rs.setState(RotationPromoted)

	// a concurrent rotation may have republished the set while promoting
	if _, err := rs.edge.Status(ctx, primary.ID); errors.Is(err, types.ErrRotationState) {
		level.Warn(global.Logger).Log("msg", "edge key set lost the new primary", "kid", primary.ID)
		rs.restoreEdge(ctx)
	}
	return primary, nil
}

func (rs *RotationService) abort(ctx context.Context, minted *types.Secret, err error) error {
	kid := ""
	if minted != nil {
		kid = minted.ID
	}
	level.Error(global.Logger).Log("msg", "rotation aborted", "kid", kid, "error", err)
	if errors.Is(err, types.ErrRotationState) {
		rs.restoreEdge(ctx)
	}
	return err
}

// restoreEdge publishes the key ring's current primary and secondary, dropping any pending secret.
func (rs *RotationService) restoreEdge(ctx context.Context) {
	primary, err := rs.keyRing.GetFresh(ctx, types.SecretRolePrimary)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to restore edge key set", "error", err)
		return
	}
	secrets := []*types.Secret{primary}
	if secondary, err := rs.keyRing.GetFresh(ctx, types.SecretRoleSecondary); err == nil {
		secrets = append(secrets, secondary)
	}
	if err := rs.edge.Publish(ctx, secrets...); err != nil {
		level.Error(global.Logger).Log("msg", "failed to restore edge key set", "error", err)
		return
	}
	level.Info(global.Logger).Log("msg", "edge key set restored from key ring", "primary", primary.ID)
}

func (rs *RotationService) mint(ctx context.Context) (*types.Secret, error) {
	secret, err := NewSecret(types.SecretRoleTemporary, rs.now())
	if err != nil {
		return nil, err
	}
	if err := rs.keyRing.Put(ctx, types.SecretRoleTemporary, secret); err != nil {
		return nil, err
	}
	primary, err := rs.keyRing.GetFresh(ctx, types.SecretRolePrimary)
	if err != nil {
		return nil, err
	}
	if err := rs.edge.Publish(ctx, secret, primary); err != nil {
		return secret, err
	}
	// another rotation minting at the same time owns the temporary slot now
	if err := rs.checkTemporary(ctx, secret); err != nil {
		return secret, err
	}
	return secret, nil
}

func (rs *RotationService) checkTemporary(ctx context.Context, minted *types.Secret) error {
	temporary, err := rs.keyRing.GetFresh(ctx, types.SecretRoleTemporary)
	if err != nil {
		return err
	}
	if temporary.ID != minted.ID {
		return fmt.Errorf("%w: temporary secret changed during rotation", types.ErrRotationState)
	}
	return nil
}

// waitForEdge polls the rollout of the set holding kid with a linearly growing delay, up to
// maxAttempts polls.
func (rs *RotationService) waitForEdge(ctx context.Context, kid string) error {
	for attempt := 1; attempt <= rs.maxAttempts; attempt++ {
		status, err := rs.edge.Status(ctx, kid)
		if err != nil {
			return err
		}
		if status == types.DeploymentDeployed {
			return nil
		}
		level.Debug(global.Logger).Log("msg", "edge key set not yet deployed", "attempt", attempt, "status", status)
		if attempt == rs.maxAttempts {
			break
		}
		if err := rs.sleep(ctx, rs.baseDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: not deployed after %d attempts", types.ErrRotationTimeout, rs.maxAttempts)
}

// promote moves primary -> secondary, temporary -> primary and resets temporary. The minted
// secret must still be the temporary one and still be in the edge key set.
func (rs *RotationService) promote(ctx context.Context, minted *types.Secret) (*types.Secret, error) {
	if err := rs.checkTemporary(ctx, minted); err != nil {
		return nil, err
	}
	if _, err := rs.edge.Status(ctx, minted.ID); err != nil {
		return nil, err
	}
	temporary := minted
	current, err := rs.keyRing.GetFresh(ctx, types.SecretRolePrimary)
	if err != nil {
		return nil, err
	}
	current.Role = types.SecretRoleSecondary
	if err := rs.keyRing.Put(ctx, types.SecretRoleSecondary, current); err != nil {
		return nil, err
	}
	temporary.Role = types.SecretRolePrimary
	if err := rs.keyRing.Put(ctx, types.SecretRolePrimary, temporary); err != nil {
		return nil, err
	}
	if err := rs.keyRing.Put(ctx, types.SecretRoleTemporary, types.PlaceholderSecret()); err != nil {
		return nil, err
	}
	level.Info(global.Logger).Log("msg", "secrets promoted", "primary", temporary.ID, "secondary", current.ID)
	return temporary, nil
}

// Initialize writes fresh primary and secondary secrets, a placeholder temporary secret and
// seeds the edge key set with the new pair.
func (rs *RotationService) Initialize(ctx context.Context) (*types.Secret, error) {
	if !rs.run.TryLock() {
		return nil, fmt.Errorf("%w: rotation already running", types.ErrRotationState)
	}
	defer rs.run.Unlock()

	primary, err := NewSecret(types.SecretRolePrimary, rs.now())
	if err != nil {
		return nil, err
	}
	secondary, err := NewSecret(types.SecretRoleSecondary, rs.now())
	if err != nil {
		return nil, err
	}
	if err := rs.keyRing.Put(ctx, types.SecretRolePrimary, primary); err != nil {
		return nil, err
	}
	if err := rs.keyRing.Put(ctx, types.SecretRoleSecondary, secondary); err != nil {
		return nil, err
	}
	if err := rs.keyRing.Put(ctx, types.SecretRoleTemporary, types.PlaceholderSecret()); err != nil {
		return nil, err
	}
	if err := rs.edge.Publish(ctx, primary, secondary); err != nil {
		return nil, err
	}
	return primary, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
