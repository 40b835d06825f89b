// Package correlator links a donation to a causally-prior marketing
// touchpoint and classifies the linkage strength.
package correlator

import (
	"context"

	"github.com/groundsignal/groundsignal/internal/attribution/domain"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
)

const (
	confidenceClickID = 0.95
	confidenceCookie  = 0.90
	confidenceEmail   = 0.60
)

// Correlation is the outcome of touchpoint correlation for one transaction.
// Mismatch marks an identifier hit whose donor disagrees with the
// transaction's donor; donor identity is the ground truth, so a mismatch is
// a finding for the detector, never a valid correlation.
type Correlation struct {
	Touchpoint *ledgerdomain.Touchpoint
	Method     string
	Confidence float64
	Mismatch   bool
}

// Found reports whether a valid correlation was established.
func (c Correlation) Found() bool { return c.Method != "" && c.Method != domain.MethodNone }

type Correlator struct {
	ledger ledgerdomain.Repository
}

func New(ledger ledgerdomain.Repository) *Correlator {
	return &Correlator{ledger: ledger}
}

// Correlate tries, in order: exact click-identifier match, exact
// browser-cookie match, then donor-email match against the most recent
// touchpoint before the donation.
func (c *Correlator) Correlate(ctx context.Context, tx *ledgerdomain.Transaction) (Correlation, error) {
	if tx.ClickID != "" {
		tp, err := c.ledger.FindTouchpointByClickID(ctx, tx.OrgID, tx.ClickID)
		if err != nil {
			return Correlation{}, err
		}
		if tp != nil {
			return c.classify(tx, tp, domain.MethodClickID, confidenceClickID), nil
		}

		tp, err = c.ledger.FindTouchpointByCookie(ctx, tx.OrgID, tx.ClickID)
		if err != nil {
			return Correlation{}, err
		}
		if tp != nil {
			return c.classify(tx, tp, domain.MethodFBCLID, confidenceCookie), nil
		}
	}

	if tx.DonorEmail != "" {
		tp, err := c.ledger.FindLatestTouchpointByEmail(ctx, tx.OrgID, tx.DonorEmail, tx.OccurredAt)
		if err != nil {
			return Correlation{}, err
		}
		if tp != nil {
			return Correlation{Touchpoint: tp, Method: domain.MethodEmail, Confidence: confidenceEmail}, nil
		}
	}

	return Correlation{Method: domain.MethodNone}, nil
}

func (c *Correlator) classify(tx *ledgerdomain.Transaction, tp *ledgerdomain.Touchpoint, method string, confidence float64) Correlation {
	if tp.DonorEmail != "" && tx.DonorEmail != "" && tp.DonorEmail != tx.DonorEmail {
		return Correlation{Touchpoint: tp, Method: domain.MethodNone, Mismatch: true}
	}
	return Correlation{Touchpoint: tp, Method: method, Confidence: confidence}
}
