package actions

import (
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
)

// Dependencies are the collaborators the built-in actions need. Nil
// collaborators leave the action registered but failing at execution.
type Dependencies struct {
	Entities      EntityStore
	Notifications NotificationSink
	Approvals     ApprovalService
	Engines       *expressions.Engines
	HTTP          HTTPConfig
	MaxLoopItems  int
	Now           func() time.Time
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, deps Dependencies) error {
	all := []Action{
		NewNotificationAction(deps.Notifications, deps.Now),
		NewUpdateFieldAction(deps.Entities),
		NewApprovalAction(deps.Approvals, deps.Now),
		NewHTTPRequestAction(deps.HTTP),
		NewScriptAction(deps.Engines),
		NewForEachAction(reg, deps.MaxLoopItems),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
