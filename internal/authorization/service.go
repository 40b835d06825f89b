// Package authorization enforces role-based access to engine operations.
package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor        = errors.New("invalid actor")
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidObject       = errors.New("invalid object")
	ErrInvalidAction       = errors.New("invalid action")
	ErrForbidden           = errors.New("forbidden")
)

const (
	ObjectBackfill       = "backfill"
	ObjectAttribution    = "attribution"
	ObjectReconciliation = "reconciliation"
	ObjectMismatch       = "mismatch"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionBackfillTrigger = "backfill.trigger"
	ActionBackfillCancel  = "backfill.cancel"
	ActionBackfillView    = "backfill.view"

	ActionAttributionMatch    = "attribution.match"
	ActionAttributionBackfill = "attribution.backfill"

	ActionReconciliationRun = "reconciliation.run"

	ActionMismatchDetect = "mismatch.detect"

	ActionAuditLogView = "audit_log.view"
)

type Service interface {
	// Authorize rejects with ErrForbidden unless the actor's role in the
	// organization permits the (object, action) pair. Actors are
	// "system", "scheduler", or "user:<id>".
	Authorize(ctx context.Context, actor, orgID, object, action string) error
}
