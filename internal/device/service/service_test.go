package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	devicestore "sitegate/internal/device/store"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/requestcontext"
)

type DeviceServiceSuite struct {
	suite.Suite
	ctx      context.Context
	auditLog *auditmemory.InMemoryStore
	service  *DeviceService
}

func TestDeviceServiceSuite(t *testing.T) {
	suite.Run(t, new(DeviceServiceSuite))
}

func (s *DeviceServiceSuite) SetupTest() {
	// Token validation checks expiry against the wall clock, so the pinned
	// time must be the real present.
	s.ctx = requestcontext.WithTime(context.Background(), time.Now())
	s.ctx = requestcontext.WithActor(s.ctx, "admin@hq")

	logger := slog.New(slog.DiscardHandler)
	s.auditLog = auditmemory.NewInMemoryStore()
	s.service = NewDeviceService(devicestore.NewInMemory(), audit.NewRecorder(s.auditLog), logger, "test-signing-key")
}

func (s *DeviceServiceSuite) TestRegister() {
	s.Run("returns the secret exactly once and stores only the hash", func() {
		device, secret, err := s.service.Register(s.ctx, "tablet-north-07")
		s.Require().NoError(err)
		s.NotEmpty(secret)
		s.True(device.Active)
		s.Equal("admin@hq", device.RegisteredBy)
		s.NotContains(string(device.SecretHash), secret)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableDevices, device.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionCreate, entries[0].Action)
		s.NotContains(string(entries[0].NewSnapshot), secret)
	})

	s.Run("duplicate names conflict", func() {
		_, _, err := s.service.Register(s.ctx, "tablet-a")
		s.Require().NoError(err)
		_, _, err = s.service.Register(s.ctx, "tablet-a")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("empty name rejected", func() {
		_, _, err := s.service.Register(s.ctx, "   ")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *DeviceServiceSuite) TestTokenLifecycle() {
	device, secret, err := s.service.Register(s.ctx, "tablet-east-02")
	s.Require().NoError(err)

	s.Run("secret exchanges for a token that validates", func() {
		token, expiresAt, err := s.service.IssueToken(s.ctx, device.ID, secret)
		s.Require().NoError(err)
		s.NotEmpty(token)
		s.True(expiresAt.After(time.Now()))

		claims, err := s.service.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(device.ID, claims.DeviceID)
		s.Equal("device:tablet-east-02", claims.Actor)
	})

	s.Run("wrong secret is refused", func() {
		_, _, err := s.service.IssueToken(s.ctx, device.ID, "not-the-secret")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("tokens from a different signing key are refused", func() {
		other := NewDeviceService(devicestore.NewInMemory(), audit.NewRecorder(auditmemory.NewInMemoryStore()),
			slog.New(slog.DiscardHandler), "other-key")
		otherDevice, otherSecret, err := other.Register(s.ctx, "tablet-east-02")
		s.Require().NoError(err)
		token, _, err := other.IssueToken(s.ctx, otherDevice.ID, otherSecret)
		s.Require().NoError(err)

		_, err = s.service.ValidateToken(token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("garbage token is refused", func() {
		_, err := s.service.ValidateToken("not.a.jwt")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *DeviceServiceSuite) TestDeactivate() {
	device, secret, err := s.service.Register(s.ctx, "tablet-west-11")
	s.Require().NoError(err)

	deactivated, err := s.service.Deactivate(s.ctx, device.ID)
	s.Require().NoError(err)
	s.False(deactivated.Active)

	s.Run("deactivated devices cannot get new tokens", func() {
		_, _, err := s.service.IssueToken(s.ctx, device.ID, secret)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("deactivation is idempotent", func() {
		again, err := s.service.Deactivate(s.ctx, device.ID)
		s.Require().NoError(err)
		s.False(again.Active)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableDevices, device.ID.String())
		s.Require().NoError(err)
		s.Len(entries, 2) // create + first deactivate only
	})
}
