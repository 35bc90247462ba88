package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/transport"
)

// VerifierInfo is the read form of a verifier entry.
type VerifierInfo struct {
	ID               shared.VerifierID
	VerificationType string
	Active           bool
	RegisteredAt     time.Time
}

// RegisterVerifier derives the verifier id from the type string and stores
// its activation metadata. Duplicate type strings are rejected.
func (r *Registry) RegisterVerifier(
	ctx context.Context,
	caller shared.Address,
	verificationType string,
) (shared.VerifierID, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return shared.VerifierID{}, fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	if strings.TrimSpace(verificationType) == "" {
		return shared.VerifierID{}, ErrEmptyType
	}

	id := shared.DeriveVerifierID(verificationType)
	switch ok, err := r.kv.Has(verifierKey(id)); {
	case err != nil:
		return shared.VerifierID{}, fmt.Errorf("checking verifier: %w", err)
	case ok:
		return shared.VerifierID{}, &VerifierExistsError{Type: verificationType, ID: id}
	}

	data := verifierData{Type: verificationType, Active: true, At: r.clock.Now().UnixNano()}
	if err := r.kv.PutObject(verifierKey(id), &data); err != nil {
		return shared.VerifierID{}, fmt.Errorf("storing verifier: %w", err)
	}
	r.activeVerifiers++

	logging.FromContext(ctx).Info(
		"verifier registered",
		zap.Stringer("verifier", id),
		zap.String("type", verificationType),
	)
	r.emitter.Publish(ctx, transport.KindVerifierRegistered, transport.VerifierRegistered{
		VerifierID:       id,
		VerificationType: verificationType,
	})
	return id, nil
}

// DeactivateVerifier retires a verifier without erasing its history.
func (r *Registry) DeactivateVerifier(ctx context.Context, caller shared.Address, id shared.VerifierID) error {
	return r.setVerifierActive(ctx, caller, id, false)
}

func (r *Registry) ReactivateVerifier(ctx context.Context, caller shared.Address, id shared.VerifierID) error {
	return r.setVerifierActive(ctx, caller, id, true)
}

func (r *Registry) setVerifierActive(
	ctx context.Context,
	caller shared.Address,
	id shared.VerifierID,
	active bool,
) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	var data verifierData
	switch err := r.kv.GetObject(verifierKey(id), &data); {
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownVerifier, id)
	case err != nil:
		return fmt.Errorf("loading verifier: %w", err)
	}
	if data.Active == active {
		if active {
			return fmt.Errorf("%w: %s", ErrVerifierActive, id)
		}
		return fmt.Errorf("%w: %s", ErrVerifierInactive, id)
	}

	data.Active = active
	if err := r.kv.PutObject(verifierKey(id), &data); err != nil {
		return fmt.Errorf("storing verifier: %w", err)
	}
	if active {
		r.activeVerifiers++
	} else {
		r.activeVerifiers--
	}

	logging.FromContext(ctx).Info(
		"verifier status changed",
		zap.Stringer("verifier", id),
		zap.Bool("active", active),
		zap.Int("active_total", r.activeVerifiers),
	)
	r.emitter.Publish(ctx, transport.KindVerifierStatusChanged, transport.VerifierStatusChanged{
		VerifierID:  id,
		Active:      active,
		ActiveCount: uint32(r.activeVerifiers),
	})
	return nil
}

// Verifier returns a verifier entry, or ErrUnknownVerifier.
func (r *Registry) Verifier(id shared.VerifierID) (*VerifierInfo, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var data verifierData
	switch err := r.kv.GetObject(verifierKey(id), &data); {
	case errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerifier, id)
	case err != nil:
		return nil, fmt.Errorf("loading verifier: %w", err)
	}
	return &VerifierInfo{
		ID:               id,
		VerificationType: data.Type,
		Active:           data.Active,
		RegisteredAt:     time.Unix(0, data.At),
	}, nil
}

// ActiveVerifiers reports how many registered verifiers are active.
func (r *Registry) ActiveVerifiers() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.activeVerifiers
}
