// Package service contains server-side application services for pairing and admin data.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/paircloud/internal/crypto"
	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/identity"
	"github.com/and161185/paircloud/internal/limiter"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/repository"
	"github.com/and161185/paircloud/internal/session"
)

// License reports whether the instance activation is still valid.
type License interface {
	Expired(ctx context.Context) bool
}

// Perpetual is a License that never expires.
type Perpetual struct{}

func (Perpetual) Expired(context.Context) bool { return false }

// Grant is the outcome of an accepted pairing login.
type Grant struct {
	Token     string
	ExpiresAt time.Time
	Device    model.Device
	// FirstPairing is true when the device was not known before.
	FirstPairing bool
}

// PairingAuth verifies client logins against the server PIN.
type PairingAuth interface {
	// SetPIN replaces the PIN clients must present.
	SetPIN(pin string) error
	// Login checks a client PIN with rate limiting and records the device.
	Login(ctx context.Context, clientPub []byte, pin string) (Grant, error)
}

type PairingAuthImpl struct {
	devices  repository.DeviceRepository
	lim      limiter.Limiter
	license  License
	signKey  []byte
	tokenTTL time.Duration

	mu  sync.RWMutex
	pin pkgcrypto.PINHash
}

// NewPairingAuth constructs PairingAuth with required dependencies.
func NewPairingAuth(devices repository.DeviceRepository, lim limiter.Limiter, lic License, signKey []byte, tokenTTL time.Duration) *PairingAuthImpl {
	if lic == nil {
		lic = Perpetual{}
	}
	return &PairingAuthImpl{devices: devices, lim: lim, license: lic, signKey: signKey, tokenTTL: tokenTTL}
}

// SetPIN stores an Argon2id hash of pin under a fresh salt.
func (s *PairingAuthImpl) SetPIN(pin string) error {
	h, err := pkgcrypto.NewPINHash(pin)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	s.mu.Lock()
	s.pin = h
	s.mu.Unlock()
	return nil
}

// Login authenticates with rate limiting by client key. Keys without a
// device record also draw on the server-wide bucket, so rotating keys does
// not reset the failure count.
func (s *PairingAuthImpl) Login(ctx context.Context, clientPub []byte, pin string) (Grant, error) {
	if err := identity.ValidatePublicKey(clientPub); err != nil {
		return Grant{}, err
	}
	keys := []string{limiter.ClientKey(clientPub)}
	if !s.paired(ctx, clientPub) {
		keys = append(keys, limiter.GlobalKey)
	}

	for _, key := range keys {
		allowed, _, err := s.lim.Allow(ctx, key)
		if err != nil {
			return Grant{}, err
		}
		if !allowed {
			return Grant{}, errs.ErrRateLimited
		}
	}
	if s.license.Expired(ctx) {
		return Grant{}, errs.ErrLicenseExpired
	}

	if !s.verify(pin) {
		blocked := false
		for _, key := range keys {
			if b, _, ferr := s.lim.Failure(ctx, key); ferr == nil && b {
				blocked = true
			}
		}
		if blocked {
			return Grant{}, errs.ErrRateLimited
		}
		return Grant{}, errs.ErrUnauthorized
	}
	_ = s.lim.Success(ctx, keys[0])

	dev, first, err := s.recordDevice(ctx, clientPub)
	if err != nil {
		return Grant{}, err
	}
	tok, exp, err := session.Issue(s.signKey, dev.UserID, s.tokenTTL)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: tok, ExpiresAt: exp, Device: dev, FirstPairing: first}, nil
}

func (s *PairingAuthImpl) paired(ctx context.Context, pub []byte) bool {
	d, err := s.devices.GetByUserID(ctx, identity.UserID(pub))
	return err == nil && bytes.Equal(d.PublicKey, pub)
}

func (s *PairingAuthImpl) verify(pin string) bool {
	s.mu.RLock()
	h := s.pin
	s.mu.RUnlock()
	return h.Verify(pin)
}

func (s *PairingAuthImpl) recordDevice(ctx context.Context, pub []byte) (model.Device, bool, error) {
	uid := identity.UserID(pub)
	now := time.Now().UTC()
	id, err := uuid.NewV4()
	if err != nil {
		return model.Device{}, false, err
	}
	d := model.Device{ID: id, UserID: uid, PublicKey: append([]byte(nil), pub...), PairedAt: now, LastSeen: now}
	err = s.devices.Create(ctx, &d)
	switch {
	case err == nil:
		return d, true, nil
	case errors.Is(err, errs.ErrAlreadyExists):
		if err := s.devices.Touch(ctx, uid); err != nil {
			return model.Device{}, false, fmt.Errorf("touch device: %w", err)
		}
		got, err := s.devices.GetByUserID(ctx, uid)
		if err != nil {
			return model.Device{}, false, err
		}
		return *got, false, nil
	default:
		return model.Device{}, false, fmt.Errorf("create device: %w", err)
	}
}
