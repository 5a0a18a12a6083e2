package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// GuardedProvisioner fails new sessions fast while browser launches keep
// failing, instead of letting every connection wait out the launch timeout.
type GuardedProvisioner struct {
	next    session.Provisioner
	breaker *resilience.Breaker
}

// NewGuardedProvisioner wraps next with a breaker built from settings.
// State changes are logged on logger.
func NewGuardedProvisioner(next session.Provisioner, settings resilience.Settings, logger *zap.Logger) *GuardedProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("browser launch breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	return &GuardedProvisioner{
		next:    next,
		breaker: resilience.New("browser-launch", settings),
	}
}

// Provision implements session.Provisioner.
func (g *GuardedProvisioner) Provision(ctx context.Context, sessionID id.SessionID, viewport session.Viewport) (session.BrowserSession, error) {
	var browser session.BrowserSession
	err := g.breaker.Do(func() error {
		var err error
		browser, err = g.next.Provision(ctx, sessionID, viewport)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("provision %s: %w", sessionID, err)
	}
	return browser, nil
}

// State reports the breaker state.
func (g *GuardedProvisioner) State() resilience.State {
	return g.breaker.State()
}
