// Package service implements the field-device registry: registration with a
// one-time shared secret, short-lived token issuance, and token validation for
// the device middleware.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"sitegate/internal/device/models"
	"sitegate/internal/platform/middleware"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/requestcontext"
)

// DefaultTokenTTL bounds how long a device can work without re-authenticating.
const DefaultTokenTTL = 12 * time.Hour

// DeviceStore is the persistence contract for the registry.
type DeviceStore interface {
	Create(ctx context.Context, device *models.Device) error
	FindByID(ctx context.Context, deviceID id.DeviceID) (*models.Device, error)
	Execute(ctx context.Context, deviceID id.DeviceID, validate func(*models.Device) error, mutate func(*models.Device)) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
}

// DeviceService owns registration and token issuance.
type DeviceService struct {
	devices    DeviceStore
	recorder   *audit.Recorder
	logger     *slog.Logger
	signingKey []byte
	tokenTTL   time.Duration
}

// Option configures the service.
type Option func(*DeviceService)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *DeviceService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// NewDeviceService builds the service.
func NewDeviceService(devices DeviceStore, recorder *audit.Recorder, logger *slog.Logger, signingKey string, opts ...Option) *DeviceService {
	s := &DeviceService{
		devices:    devices,
		recorder:   recorder,
		logger:     logger,
		signingKey: []byte(signingKey),
		tokenTTL:   DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// deviceSnapshot is the audited view of a device. The secret hash never
// reaches the audit trail.
type deviceSnapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	RegisteredBy string    `json:"registered_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func snapshot(d *models.Device) deviceSnapshot {
	return deviceSnapshot{
		ID:           d.ID.String(),
		Name:         d.Name,
		Active:       d.Active,
		RegisteredBy: d.RegisteredBy,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// Register creates a device and returns it with the plaintext secret. The
// secret is shown exactly once; only its bcrypt hash is stored.
func (s *DeviceService) Register(ctx context.Context, name string) (*models.Device, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate device secret")
	}
	secret := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash device secret")
	}

	device, err := models.NewDevice(id.NewDeviceID(), name, hash, requestcontext.Actor(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, "", err
	}
	if err := s.devices.Create(ctx, device); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "a device with this name already exists")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store device")
	}

	if err := s.recorder.Record(ctx, audit.TableDevices, device.ID.String(), audit.ActionCreate, nil, snapshot(device)); err != nil {
		return nil, "", err
	}
	s.logger.InfoContext(ctx, "device registered",
		"device_id", device.ID.String(),
		"name", device.Name)
	return device, secret, nil
}

// IssueToken exchanges the device secret for a signed short-lived token.
// Deactivated devices are refused.
func (s *DeviceService) IssueToken(ctx context.Context, deviceID id.DeviceID, secret string) (string, time.Time, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", time.Time{}, dErrors.New(dErrors.CodeUnauthorized, "unknown device")
		}
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "device store failure")
	}
	if !device.Active {
		return "", time.Time{}, dErrors.New(dErrors.CodeUnauthorized, "device is deactivated")
	}
	if err := bcrypt.CompareHashAndPassword(device.SecretHash, []byte(secret)); err != nil {
		s.logger.WarnContext(ctx, "device token request with bad secret",
			"device_id", deviceID.String())
		return "", time.Time{}, dErrors.New(dErrors.CodeUnauthorized, "invalid device secret")
	}

	now := requestcontext.Now(ctx)
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  device.ID.String(),
		"name": device.Name,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign device token")
	}
	return signed, expiresAt, nil
}

// ValidateToken implements middleware.DeviceTokenValidator.
func (s *DeviceService) ValidateToken(tokenString string) (*middleware.DeviceClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid device token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid device token claims")
	}
	sub, _ := claims["sub"].(string)
	deviceID, err := id.ParseDeviceID(sub)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid device token subject")
	}
	name, _ := claims["name"].(string)
	return &middleware.DeviceClaims{
		DeviceID: deviceID,
		Actor:    "device:" + name,
	}, nil
}

// GetDevice returns one device.
func (s *DeviceService) GetDevice(ctx context.Context, deviceID id.DeviceID) (*models.Device, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "device not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "device store failure")
	}
	return device, nil
}

// ListDevices returns every registered device, oldest first.
func (s *DeviceService) ListDevices(ctx context.Context) ([]*models.Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "device store failure")
	}
	return devices, nil
}

// Deactivate revokes a device. Idempotent.
func (s *DeviceService) Deactivate(ctx context.Context, deviceID id.DeviceID) (*models.Device, error) {
	var before deviceSnapshot
	alreadyInactive := false
	updated, err := s.devices.Execute(ctx, deviceID,
		func(d *models.Device) error {
			before = snapshot(d)
			alreadyInactive = !d.Active
			return nil
		},
		func(d *models.Device) {
			if !alreadyInactive {
				d.Deactivate(requestcontext.Now(ctx))
			}
		})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "device not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "device store failure")
	}
	if alreadyInactive {
		return updated, nil
	}

	if err := s.recorder.Record(ctx, audit.TableDevices, deviceID.String(), audit.ActionDeactivate, before, snapshot(updated)); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "device deactivated",
		"device_id", deviceID.String(),
		"name", updated.Name)
	return updated, nil
}
