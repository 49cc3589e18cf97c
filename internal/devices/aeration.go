package devices

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"vivarium/pkg/logging"
)

// Fan is the part of FanController the aeration system uses.
type Fan interface {
	Name() string
	SetSpeed(ctx context.Context, speed float64) error
	Cleanup() error
}

// AerationSpeeds holds the duty cycles used by the aeration presets.
type AerationSpeeds struct {
	Default float64
	Max     float64
}

// AerationController runs the intake and exhaust fans together.
type AerationController struct {
	intake  Fan
	exhaust Fan
	speeds  AerationSpeeds
	logger  logging.Logger
}

func NewAerationController(intake, exhaust Fan, speeds AerationSpeeds, logger logging.Logger) *AerationController {
	return &AerationController{
		intake:  intake,
		exhaust: exhaust,
		speeds:  speeds,
		logger:  logger,
	}
}

// SetSpeed sets both fans. The exhaust is still attempted when the intake
// fails.
func (a *AerationController) SetSpeed(ctx context.Context, speed float64) error {
	var result *multierror.Error
	for _, f := range []Fan{a.intake, a.exhaust} {
		if f == nil {
			result = multierror.Append(result, ErrNotInitialized)
			continue
		}
		if err := f.SetSpeed(ctx, speed); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SetDefaultSpeed runs both fans at the configured default level.
func (a *AerationController) SetDefaultSpeed(ctx context.Context) error {
	a.logger.Info(ctx, "[AERATION_DEFAULT] Setting fans to default speed", logging.Fields{
		"speed": a.speeds.Default,
	})
	return a.SetSpeed(ctx, a.speeds.Default)
}

// SetMaxSpeed runs both fans flat out.
func (a *AerationController) SetMaxSpeed(ctx context.Context) error {
	a.logger.Info(ctx, "[AERATION_MAX] Setting fans to max speed", logging.Fields{
		"speed": a.speeds.Max,
	})
	return a.SetSpeed(ctx, a.speeds.Max)
}

func (a *AerationController) Off(ctx context.Context) error {
	a.logger.Info(ctx, "[AERATION_OFF] Turning fans off", logging.Fields{})
	return a.SetSpeed(ctx, 0)
}

// Cleanup releases both fans and reports every failure.
func (a *AerationController) Cleanup() error {
	var result *multierror.Error
	for _, f := range []Fan{a.intake, a.exhaust} {
		if f == nil {
			continue
		}
		if err := f.Cleanup(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
