package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// INTAKE - grain arriving at the elevator
// =============================================================================
// An intake is the only way grain enters stock from outside. Company grain
// lands in own stock. Farmer grain lands in farmer stock and is credited to
// the farmer's balance. Intakes waiting for a lab result credit nothing
// until their quality is resolved.

var hundred = decimal.NewFromInt(100)

type IntakeInput struct {
	FarmerID        string
	CultureID       string
	IsOwnGrain      bool
	NetWeightKg     decimal.Decimal
	ImpurityPercent decimal.Decimal
	PendingQuality  bool
	Note            string
}

// acceptedKg is the net weight less impurity.
func acceptedKg(net, impurity decimal.Decimal) decimal.Decimal {
	return generic.RoundKg(net.Mul(hundred.Sub(impurity)).Div(hundred))
}

func validImpurity(impurity decimal.Decimal) error {
	if impurity.IsNegative() || impurity.GreaterThanOrEqual(hundred) {
		return invalid("impurity_percent", "must be in [0, 100)")
	}
	return nil
}

// postIntake credits (qty > 0) or withdraws (qty < 0) an intake's grain.
func (o *op) postIntake(ctx context.Context, in *Intake, qty decimal.Decimal, reason string) error {
	if qty.IsZero() {
		return nil
	}
	stockAcc := ownStockAccount(in.CultureID)
	if !in.IsOwnGrain {
		stockAcc = farmerStockAccount(in.CultureID)
	}
	entries := []generic.Entry{{Account: stockAcc, Delta: generic.NewAmount(qty, generic.UnitKg)}}
	if !in.IsOwnGrain {
		entries = append(entries, generic.Entry{Account: farmerAccount(in.FarmerID, in.CultureID), Delta: generic.NewAmount(qty, generic.UnitKg)})
	}

	var posted []generic.Entry
	for _, e := range entries {
		e.ReferenceID = in.ID
		e.Reason = reason
		e.CreatedBy = o.actor
		var err error
		if qty.IsNegative() {
			e.Type = generic.EntryAdjustment
			e, err = o.ledger.Withdraw(ctx, e)
		} else {
			e.Type = generic.EntryCredit
			e, err = o.ledger.Append(ctx, e)
		}
		if err != nil {
			return err
		}
		posted = append(posted, e)
	}
	return o.checkStock(ctx, posted)
}

// RecordIntake weighs grain in.
func (s *Service) RecordIntake(ctx context.Context, req IntakeInput) (*Intake, error) {
	var in Intake
	err := s.write(ctx, "record_intake", func(o *op) error {
		net, err := positiveKg("net_weight_kg", req.NetWeightKg)
		if err != nil {
			return err
		}
		if err := validImpurity(req.ImpurityPercent); err != nil {
			return err
		}
		if req.IsOwnGrain && req.FarmerID != "" {
			return invalid("farmer_id", "must be empty for own grain")
		}
		if !req.IsOwnGrain {
			if req.FarmerID == "" {
				return invalid("farmer_id", "is required")
			}
			if _, err := o.tx.GetFarmer(ctx, req.FarmerID); err != nil {
				return err
			}
		}
		if _, err := o.tx.GetCulture(ctx, req.CultureID); err != nil {
			return err
		}

		in = Intake{
			ID:              uuid.NewString(),
			FarmerID:        req.FarmerID,
			CultureID:       req.CultureID,
			IsOwnGrain:      req.IsOwnGrain,
			NetWeightKg:     net,
			ImpurityPercent: req.ImpurityPercent,
			AcceptedKg:      acceptedKg(net, req.ImpurityPercent),
			PendingQuality:  req.PendingQuality,
			Note:            strings.TrimSpace(req.Note),
			CreatedBy:       o.actor,
			CreatedAt:       o.now,
		}
		if err := o.tx.InsertIntake(ctx, in); err != nil {
			return err
		}
		if in.PendingQuality {
			return nil
		}
		return o.postIntake(ctx, &in, in.AcceptedKg, "intake")
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "intake recorded",
		"intake_id", in.ID, "farmer_id", in.FarmerID, "culture_id", in.CultureID,
		"accepted_kg", in.AcceptedKg, "pending_quality", in.PendingQuality)
	return &in, nil
}

// ResolveIntakeQuality sets the final impurity of an intake. A pending
// intake is confirmed and credited; a confirmed one is re-graded by the
// difference in accepted kg.
func (s *Service) ResolveIntakeQuality(ctx context.Context, id string, impurityPercent decimal.Decimal) (*Intake, error) {
	var in *Intake
	var delta decimal.Decimal
	err := s.write(ctx, "resolve_intake_quality", func(o *op) error {
		if err := validImpurity(impurityPercent); err != nil {
			return err
		}
		var err error
		in, err = o.tx.GetIntake(ctx, id)
		if err != nil {
			return err
		}

		accepted := acceptedKg(in.NetWeightKg, impurityPercent)
		reason := "intake quality resolved"
		if in.PendingQuality {
			delta = accepted
		} else {
			delta = accepted.Sub(in.AcceptedKg)
			reason = fmt.Sprintf("intake regraded %s%% -> %s%%", in.ImpurityPercent, impurityPercent)
		}
		in.ImpurityPercent = impurityPercent
		in.AcceptedKg = accepted
		in.PendingQuality = false
		if err := o.postIntake(ctx, in, delta, reason); err != nil {
			return err
		}
		return o.tx.UpdateIntake(ctx, *in)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "intake quality resolved", "intake_id", in.ID, "accepted_kg", in.AcceptedKg, "delta_kg", delta)
	return in, nil
}

func (s *Service) GetIntake(ctx context.Context, id string) (*Intake, error) {
	return s.repo.GetIntake(ctx, id)
}

func (s *Service) ListIntakes(ctx context.Context, filter IntakeFilter) ([]Intake, error) {
	return s.repo.ListIntakes(ctx, filter)
}
