package engine

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/event"
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// requiredGuarantors is how many active guarantees back a credit whose
// holder's stage requires them.
const requiredGuarantors = 2

// GuaranteeManager pledges, releases and executes guarantor savings.
type GuaranteeManager struct {
	*core
	logger *slog.Logger
}

// Create pledges two guarantors for a credit that is not yet disbursed. Each
// guarantor gets a freeze of the policy percentage of the principal; either
// both guarantees are created or neither is.
func (g *GuaranteeManager) Create(ctx context.Context, creditID uuid.UUID, guarantorIDs []uuid.UUID) ([]*guarantee.Guarantee, error) {
	if len(guarantorIDs) != requiredGuarantors {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument,
			"exactly %d guarantors are required, got %d", requiredGuarantors, len(guarantorIDs))
	}
	if guarantorIDs[0] == guarantorIDs[1] {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "guarantors must be distinct")
	}

	var created []*guarantee.Guarantee
	err := g.run(ctx, "create_guarantees", creditKeys(creditID), func(w *work) error {
		cr, err := w.tx.GetCredit(w.ctx, creditID)
		if err != nil {
			return err
		}
		switch cr.Status {
		case credit.StatusRequested, credit.StatusInReview, credit.StatusApproved:
		default:
			return apperrors.StateConflict(apperrors.CodeStateConflict,
				"credit %s is %s, guarantees are pledged before disbursement", cr.ID, cr.Status)
		}
		existing, err := w.tx.ListGuaranteesByCredit(w.ctx, cr.ID)
		if err != nil {
			return err
		}
		if n := len(guarantee.Active(existing)); n > 0 {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "credit %s already has %d active guarantees", cr.ID, n)
		}

		freeze := money.Percent(cr.Principal, g.policy.GuaranteeFreezePercent)
		guarantors := make([]*member.Member, 0, len(guarantorIDs))
		for _, id := range guarantorIDs {
			m, err := g.eligibleGuarantor(w, cr, id, freeze)
			if err != nil {
				return err
			}
			guarantors = append(guarantors, m)
		}

		for _, m := range guarantors {
			pledged, err := g.pledge(w, cr, m, freeze)
			if err != nil {
				return err
			}
			created = append(created, pledged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "Guarantees created", "creditID", creditID, "count", len(created))
	return created, nil
}

// ReplaceGuarantor pledges a new guarantor on a credit left short of
// guarantees, typically after a guarantor died. The replacement flag clears
// once the credit is fully backed again.
func (g *GuaranteeManager) ReplaceGuarantor(ctx context.Context, creditID, guarantorID uuid.UUID) (*guarantee.Guarantee, error) {
	var pledged *guarantee.Guarantee
	err := g.run(ctx, "replace_guarantor", creditKeys(creditID), func(w *work) error {
		cr, err := w.tx.GetCredit(w.ctx, creditID)
		if err != nil {
			return err
		}
		if !cr.Status.IsOpen() {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "credit %s is %s", cr.ID, cr.Status)
		}
		existing, err := w.tx.ListGuaranteesByCredit(w.ctx, cr.ID)
		if err != nil {
			return err
		}
		active := guarantee.Active(existing)
		if len(active) >= requiredGuarantors {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "credit %s already has %d active guarantees", cr.ID, len(active))
		}
		for _, a := range active {
			if a.GuarantorID == guarantorID {
				return apperrors.BusinessRule(apperrors.CodeGuarantorIneligible,
					"member %s already guarantees credit %s", guarantorID, cr.ID)
			}
		}

		freeze := money.Percent(cr.Principal, g.policy.GuaranteeFreezePercent)
		m, err := g.eligibleGuarantor(w, cr, guarantorID, freeze)
		if err != nil {
			return err
		}
		if pledged, err = g.pledge(w, cr, m, freeze); err != nil {
			return err
		}
		if len(active)+1 >= requiredGuarantors && cr.RequiresGuarantorReplacement {
			cr.RequiresGuarantorReplacement = false
			return w.saveCredit(cr)
		}
		return nil
	})
	return pledged, err
}

// RequestRelease asks for a guarantor to be released early. The credit must
// be active with at most the policy share of its principal outstanding, the
// guarantor must be free of delinquency and no other request may be pending.
func (g *GuaranteeManager) RequestRelease(ctx context.Context, guaranteeID uuid.UUID, requestedBy string) (*guarantee.ReleaseRequest, error) {
	creditID, err := g.creditOfGuarantee(ctx, guaranteeID)
	if err != nil {
		return nil, err
	}

	var request *guarantee.ReleaseRequest
	err = g.run(ctx, "request_release", creditKeys(creditID), func(w *work) error {
		gu, err := w.tx.GetGuarantee(w.ctx, guaranteeID)
		if err != nil {
			return err
		}
		if !gu.IsActive() {
			return notEligible("guarantee %s is %s", gu.ID, gu.Status)
		}
		cr, err := w.tx.GetCredit(w.ctx, gu.CreditID)
		if err != nil {
			return err
		}
		if cr.Status != credit.StatusActive {
			return notEligible("credit %s is %s", cr.ID, cr.Status)
		}
		threshold := money.Percent(cr.Principal, g.policy.ReleaseThresholdPercent)
		if cr.OutstandingBalance.GreaterThan(threshold) {
			return notEligible("credit %s still owes %s, release requires at most %s", cr.ID, cr.OutstandingBalance, threshold)
		}
		open, err := w.tx.GetOpenDelinquency(w.ctx, gu.GuarantorID)
		if err != nil {
			return err
		}
		if open != nil {
			return notEligible("guarantor %s has an open delinquency", gu.GuarantorID)
		}
		requests, err := w.tx.ListReleaseRequests(w.ctx, gu.ID)
		if err != nil {
			return err
		}
		for _, r := range requests {
			if r.IsPending() {
				return notEligible("guarantee %s already has pending request %s", gu.ID, r.ID)
			}
		}

		if requestedBy == "" {
			requestedBy = gu.GuarantorID.String()
		}
		request = guarantee.NewReleaseRequest(gu.ID, requestedBy, w.now)
		if err := w.tx.InsertReleaseRequest(w.ctx, request); err != nil {
			return err
		}
		w.emit(event.GuaranteeReleaseRequest, cr.ID, gu.GuarantorID, map[string]any{
			"guaranteeId": gu.ID.String(),
			"requestId":   request.ID.String(),
		})
		return nil
	})
	return request, err
}

// ApproveRelease approves a pending request and frees the guarantor's savings.
func (g *GuaranteeManager) ApproveRelease(ctx context.Context, requestID uuid.UUID, approver string) (*guarantee.ReleaseRequest, error) {
	if approver == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "approver is required")
	}
	return g.decideRelease(ctx, "approve_release", requestID, func(w *work, r *guarantee.ReleaseRequest, gu *guarantee.Guarantee) error {
		if err := r.Approve(approver, w.now); err != nil {
			return err
		}
		if !gu.IsActive() {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "guarantee %s is %s", gu.ID, gu.Status)
		}
		if err := g.releaseGuarantee(w, gu); err != nil {
			return err
		}
		return r.MarkProcessed(w.now)
	})
}

// RejectRelease rejects a pending request; the reason is mandatory.
func (g *GuaranteeManager) RejectRelease(ctx context.Context, requestID uuid.UUID, decidedBy, reason string) (*guarantee.ReleaseRequest, error) {
	if err := requireText(reason, "rejection reason"); err != nil {
		return nil, err
	}
	return g.decideRelease(ctx, "reject_release", requestID, func(w *work, r *guarantee.ReleaseRequest, gu *guarantee.Guarantee) error {
		if err := r.Reject(decidedBy, reason, w.now); err != nil {
			return err
		}
		w.emit(event.GuaranteeReleaseRejected, gu.CreditID, gu.GuarantorID, map[string]any{
			"requestId": r.ID.String(),
			"reason":    reason,
		})
		return nil
	})
}

// Execute applies the guarantee's frozen savings to the credit as a GARANTIA
// payment. Executing it again returns it unchanged.
func (g *GuaranteeManager) Execute(ctx context.Context, guaranteeID uuid.UUID) (*guarantee.Guarantee, error) {
	creditID, err := g.creditOfGuarantee(ctx, guaranteeID)
	if err != nil {
		return nil, err
	}

	var executed *guarantee.Guarantee
	err = g.run(ctx, "execute_guarantee", creditKeys(creditID), func(w *work) error {
		cr, installments, err := w.loadCredit(creditID)
		if err != nil {
			return err
		}
		gu, err := w.tx.GetGuarantee(w.ctx, guaranteeID)
		if err != nil {
			return err
		}
		payment, err := g.executeGuarantee(w, cr, installments, gu)
		if err != nil {
			return err
		}
		executed = gu
		if payment == nil {
			return nil
		}
		_, err = g.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: installments})
		return err
	})
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "Guarantee executed", "guaranteeID", executed.ID, "amount", executed.ExecutedAmount)
	return executed, nil
}

func (g *GuaranteeManager) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]*guarantee.Guarantee, error) {
	var guarantees []*guarantee.Guarantee
	err := g.read(ctx, func(w *work) (err error) {
		guarantees, err = w.tx.ListGuaranteesByCredit(w.ctx, creditID)
		return err
	})
	return guarantees, err
}

func (g *GuaranteeManager) decideRelease(ctx context.Context, op string, requestID uuid.UUID,
	decide func(w *work, r *guarantee.ReleaseRequest, gu *guarantee.Guarantee) error) (*guarantee.ReleaseRequest, error) {
	var creditID uuid.UUID
	err := g.read(ctx, func(w *work) error {
		r, err := w.tx.GetReleaseRequest(w.ctx, requestID)
		if err != nil {
			return err
		}
		gu, err := w.tx.GetGuarantee(w.ctx, r.GuaranteeID)
		if err != nil {
			return err
		}
		creditID = gu.CreditID
		return nil
	})
	if err != nil {
		return nil, err
	}

	var request *guarantee.ReleaseRequest
	err = g.run(ctx, op, creditKeys(creditID), func(w *work) error {
		r, err := w.tx.GetReleaseRequest(w.ctx, requestID)
		if err != nil {
			return err
		}
		gu, err := w.tx.GetGuarantee(w.ctx, r.GuaranteeID)
		if err != nil {
			return err
		}
		if err := decide(w, r, gu); err != nil {
			return err
		}
		if err := w.tx.UpdateReleaseRequest(w.ctx, r); err != nil {
			return err
		}
		request = r
		return nil
	})
	return request, err
}

func (g *GuaranteeManager) creditOfGuarantee(ctx context.Context, guaranteeID uuid.UUID) (uuid.UUID, error) {
	var creditID uuid.UUID
	err := g.read(ctx, func(w *work) error {
		gu, err := w.tx.GetGuarantee(w.ctx, guaranteeID)
		if err != nil {
			return err
		}
		creditID = gu.CreditID
		return nil
	})
	return creditID, err
}

// eligibleGuarantor checks every guarantor rule except the savings check,
// which Freeze performs.
func (g *GuaranteeManager) eligibleGuarantor(w *work, cr *credit.Credit, id uuid.UUID, freeze decimal.Decimal) (*member.Member, error) {
	if id == cr.MemberID {
		return nil, apperrors.BusinessRule(apperrors.CodeGuarantorIneligible, "the debtor cannot guarantee their own credit")
	}
	m, err := w.member(id)
	if err != nil {
		return nil, err
	}
	switch {
	case !m.IsActive():
		return nil, apperrors.BusinessRule(apperrors.CodeGuarantorIneligible, "guarantor %s is %s", m.ID, m.State)
	case m.Stage != g.policy.GuarantorStage:
		return nil, apperrors.BusinessRule(apperrors.CodeGuarantorIneligible,
			"guarantor %s is stage %d, stage %d required", m.ID, m.Stage, g.policy.GuarantorStage)
	case m.GuaranteedCredits >= g.policy.MaxGuaranteedPerGuarantor:
		return nil, apperrors.BusinessRule(apperrors.CodeGuarantorIneligible,
			"guarantor %s already backs %d credits", m.ID, m.GuaranteedCredits)
	case m.Available().LessThan(freeze):
		return nil, apperrors.BusinessRule(apperrors.CodeInsufficientAvailableSavings,
			"guarantor %s has %s available, %s required", m.ID, m.Available(), freeze)
	}
	return m, nil
}

func (g *GuaranteeManager) pledge(w *work, cr *credit.Credit, m *member.Member, freeze decimal.Decimal) (*guarantee.Guarantee, error) {
	if err := m.Freeze(freeze); err != nil {
		return nil, err
	}
	m.AddGuaranteedCredit()
	if err := w.saveMember(m); err != nil {
		return nil, err
	}
	pledged := guarantee.New(cr.ID, m.ID, freeze, w.now)
	if err := w.tx.InsertGuarantee(w.ctx, pledged); err != nil {
		return nil, err
	}
	w.emit(event.GuaranteeFrozen, cr.ID, m.ID, map[string]any{
		"guaranteeId": pledged.ID.String(),
		"amount":      freeze.String(),
	})
	return pledged, nil
}

func notEligible(format string, args ...any) error {
	return apperrors.BusinessRule(apperrors.CodeReleaseNotEligible, format, args...)
}
