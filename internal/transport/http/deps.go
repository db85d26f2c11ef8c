package http

import (
	"github.com/go-broker-agent/internal/application/connection"
	"github.com/go-broker-agent/internal/application/notification"
	"github.com/go-broker-agent/internal/application/request"
	"github.com/go-broker-agent/internal/application/validator"
	jwtinfra "github.com/go-broker-agent/internal/infrastructure/jwt"
	"github.com/go-broker-agent/internal/stream"
)

// Deps holds the wired application services the router exposes. Services are
// built once in main and shared with the scheduler, so the router receives
// them ready-made instead of constructing its own.
type Deps struct {
	ConnectionSvc   connection.Service
	NotificationSvc notification.Service
	RequestSvc      request.Service
	Validator       *validator.Service
	Hub             *stream.Hub
	JWTProvider     *jwtinfra.Provider
}
