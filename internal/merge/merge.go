// Package merge combines two partially-populated instrument records into one
// under explicit precedence rules, producing an audit trail of every override.
package merge

import (
	"github.com/glarus-data/instrument-cli/internal/model"
)

// Merge combines primary and secondary into a new record. Inputs are never
// mutated and the function is total over any two well-formed records.
//
// Per attribute:
//   - list attributes are taken wholesale from secondary only when primary's
//     list is empty; lists are never merged element-by-element
//   - an absent primary field adopts secondary's field verbatim, with no
//     audit entry (an absence is filled, not replaced)
//   - when both are present and differ, secondary wins only if the attribute
//     name is in preferSecondary; the override is recorded in the audit trail
//
// The override set is an explicit allow-list, not a confidence comparison:
// callers mark specific attributes (coupon/barrier terms from a termsheet,
// typically) as authoritative from the secondary source.
func Merge(primary, secondary *model.Instrument, preferSecondary map[string]bool) (*model.Instrument, []model.AuditEntry) {
	if preferSecondary == nil {
		preferSecondary = map[string]bool{}
	}

	out := *primary
	out.AuditTrail = append([]model.AuditEntry(nil), primary.AuditTrail...)

	sink := &auditSink{}

	// List-valued attributes.
	out.Underlyings = mergeList(primary.Underlyings, secondary.Underlyings)
	out.CouponSchedule = mergeList(primary.CouponSchedule, secondary.CouponSchedule)
	out.CallObservationDates = mergeList(primary.CallObservationDates, secondary.CallObservationDates)
	out.CallSettlementDates = mergeList(primary.CallSettlementDates, secondary.CallSettlementDates)
	out.SellingRestrictions = mergeList(primary.SellingRestrictions, secondary.SellingRestrictions)

	// Document bookkeeping.
	mergeField("source_file_name", &out.SourceFileName, secondary.SourceFileName, preferSecondary, sink)
	mergeField("source_file_hash_sha256", &out.SourceFileHash, secondary.SourceFileHash, preferSecondary, sink)
	mergeField("document_language", &out.DocumentLanguage, secondary.DocumentLanguage, preferSecondary, sink)
	mergeField("document_timestamp", &out.DocumentStamp, secondary.DocumentStamp, preferSecondary, sink)
	mergeField("document_type", &out.DocumentType, secondary.DocumentType, preferSecondary, sink)
	mergeField("parse_version", &out.ParseVersion, secondary.ParseVersion, preferSecondary, sink)
	mergeField("parse_confidence", &out.ParseConfidence, secondary.ParseConfidence, preferSecondary, sink)

	// Issuer and venue metadata.
	mergeField("issuer_name", &out.IssuerName, secondary.IssuerName, preferSecondary, sink)
	mergeField("issuer_lei", &out.IssuerLEI, secondary.IssuerLEI, preferSecondary, sink)
	mergeField("issuer_rating", &out.IssuerRating, secondary.IssuerRating, preferSecondary, sink)
	mergeField("issuer_regulator", &out.IssuerRegulator, secondary.IssuerRegulator, preferSecondary, sink)
	mergeField("calculation_agent", &out.CalculationAgent, secondary.CalculationAgent, preferSecondary, sink)
	mergeField("paying_agent", &out.PayingAgent, secondary.PayingAgent, preferSecondary, sink)
	mergeField("lead_manager", &out.LeadManager, secondary.LeadManager, preferSecondary, sink)
	mergeField("governing_law", &out.GoverningLaw, secondary.GoverningLaw, preferSecondary, sink)
	mergeField("jurisdiction", &out.Jurisdiction, secondary.Jurisdiction, preferSecondary, sink)
	mergeField("risk_disclosure_flags", &out.RiskDisclosureFlags, secondary.RiskDisclosureFlags, preferSecondary, sink)

	// Identification.
	mergeField("product_name", &out.ProductName, secondary.ProductName, preferSecondary, sink)
	mergeField("product_type", &out.ProductType, secondary.ProductType, preferSecondary, sink)
	mergeField("sspa_category", &out.SSPACategory, secondary.SSPACategory, preferSecondary, sink)
	mergeField("valor_number", &out.ValorNumber, secondary.ValorNumber, preferSecondary, sink)
	mergeField("isin", &out.ISIN, secondary.ISIN, preferSecondary, sink)
	mergeField("wkn", &out.WKN, secondary.WKN, preferSecondary, sink)
	mergeField("ticker_six", &out.TickerSIX, secondary.TickerSIX, preferSecondary, sink)
	mergeField("listing_venue", &out.ListingVenue, secondary.ListingVenue, preferSecondary, sink)

	// Monetary terms.
	mergeField("currency", &out.Currency, secondary.Currency, preferSecondary, sink)
	mergeField("quanto", &out.Quanto, secondary.Quanto, preferSecondary, sink)
	mergeField("fx_risk_flag", &out.FXRiskFlag, secondary.FXRiskFlag, preferSecondary, sink)
	mergeField("issue_price_pct", &out.IssuePricePct, secondary.IssuePricePct, preferSecondary, sink)
	mergeField("denomination", &out.Denomination, secondary.Denomination, preferSecondary, sink)
	mergeField("min_investment", &out.MinInvestment, secondary.MinInvestment, preferSecondary, sink)
	mergeField("trade_unit", &out.TradeUnit, secondary.TradeUnit, preferSecondary, sink)
	mergeField("ter_pct", &out.TERPct, secondary.TERPct, preferSecondary, sink)
	mergeField("iev_pct", &out.IEVPct, secondary.IEVPct, preferSecondary, sink)
	mergeField("distribution_fee_pct", &out.DistributionFeePct, secondary.DistributionFeePct, preferSecondary, sink)
	mergeField("market_expectation", &out.MarketExpectation, secondary.MarketExpectation, preferSecondary, sink)
	mergeField("yield_to_maturity_pct_pa", &out.YieldToMaturity, secondary.YieldToMaturity, preferSecondary, sink)
	mergeField("worst_to_yield_pct_pa", &out.WorstToYield, secondary.WorstToYield, preferSecondary, sink)

	// Coupon terms.
	mergeField("coupon_rate_pct_pa", &out.CouponRatePctPA, secondary.CouponRatePctPA, preferSecondary, sink)
	mergeField("coupon_frequency", &out.CouponFrequency, secondary.CouponFrequency, preferSecondary, sink)
	mergeField("coupon_type", &out.CouponType, secondary.CouponType, preferSecondary, sink)
	mergeField("coupon_is_guaranteed", &out.CouponIsGuaranteed, secondary.CouponIsGuaranteed, preferSecondary, sink)
	mergeField("tax_coupon_split", &out.TaxCouponSplit, secondary.TaxCouponSplit, preferSecondary, sink)
	mergeField("interest_component_pct_pa", &out.InterestComponent, secondary.InterestComponent, preferSecondary, sink)
	mergeField("premium_component_pct_pa", &out.PremiumComponent, secondary.PremiumComponent, preferSecondary, sink)

	// Lifecycle dates.
	mergeField("subscription_start", &out.SubscriptionStart, secondary.SubscriptionStart, preferSecondary, sink)
	mergeField("subscription_end", &out.SubscriptionEnd, secondary.SubscriptionEnd, preferSecondary, sink)
	mergeField("initial_fixing_date", &out.InitialFixingDate, secondary.InitialFixingDate, preferSecondary, sink)
	mergeField("settlement_date", &out.SettlementDate, secondary.SettlementDate, preferSecondary, sink)
	mergeField("final_fixing_date", &out.FinalFixingDate, secondary.FinalFixingDate, preferSecondary, sink)
	mergeField("maturity_date", &out.MaturityDate, secondary.MaturityDate, preferSecondary, sink)
	mergeField("redemption_date", &out.RedemptionDate, secondary.RedemptionDate, preferSecondary, sink)
	mergeField("last_trading_day", &out.LastTradingDay, secondary.LastTradingDay, preferSecondary, sink)

	// Barrier terms.
	mergeField("barrier_type", &out.BarrierType, secondary.BarrierType, preferSecondary, sink)
	mergeField("barrier_observation_start", &out.BarrierObservationStart, secondary.BarrierObservationStart, preferSecondary, sink)
	mergeField("barrier_observation_end", &out.BarrierObservationEnd, secondary.BarrierObservationEnd, preferSecondary, sink)
	mergeField("barrier_trigger_condition", &out.BarrierTrigger, secondary.BarrierTrigger, preferSecondary, sink)
	mergeField("worst_of", &out.WorstOf, secondary.WorstOf, preferSecondary, sink)
	mergeField("worst_of_definition", &out.WorstOfDefinition, secondary.WorstOfDefinition, preferSecondary, sink)

	mergeField("cap_level_pct", &out.CapLevelPct, secondary.CapLevelPct, preferSecondary, sink)
	mergeField("participation_rate_pct", &out.ParticipationPct, secondary.ParticipationPct, preferSecondary, sink)

	// Call terms.
	mergeField("is_callable", &out.IsCallable, secondary.IsCallable, preferSecondary, sink)
	mergeField("call_style", &out.CallStyle, secondary.CallStyle, preferSecondary, sink)
	mergeField("call_first_possible_after", &out.CallFirstPossible, secondary.CallFirstPossible, preferSecondary, sink)
	mergeField("call_redemption_amount_rule", &out.CallRedemptionRule, secondary.CallRedemptionRule, preferSecondary, sink)

	// Settlement.
	mergeField("settlement_type", &out.SettlementType, secondary.SettlementType, preferSecondary, sink)
	mergeField("settlement_currency", &out.SettlementCurrency, secondary.SettlementCurrency, preferSecondary, sink)
	mergeField("redemption_rules", &out.RedemptionRules, secondary.RedemptionRules, preferSecondary, sink)
	mergeField("physical_delivery", &out.PhysicalDelivery, secondary.PhysicalDelivery, preferSecondary, sink)
	mergeField("payoff_summary_text", &out.PayoffSummaryText, secondary.PayoffSummaryText, preferSecondary, sink)

	// Secondary market.
	mergeField("secondary_market_intent", &out.SecondaryMarketIntent, secondary.SecondaryMarketIntent, preferSecondary, sink)
	mergeField("pricing_convention", &out.PricingConvention, secondary.PricingConvention, preferSecondary, sink)
	mergeField("custodian_depository", &out.Custodian, secondary.Custodian, preferSecondary, sink)
	mergeField("clearing_settlement", &out.ClearingSettlement, secondary.ClearingSettlement, preferSecondary, sink)

	// Tax.
	mergeField("swiss_tax_classification", &out.SwissTaxClassification, secondary.SwissTaxClassification, preferSecondary, sink)
	mergeField("withholding_tax_interest_component", &out.WithholdingTaxInterest, secondary.WithholdingTaxInterest, preferSecondary, sink)
	mergeField("stamp_duty_secondary_market", &out.StampDutySecondary, secondary.StampDutySecondary, preferSecondary, sink)
	mergeField("tax_notes_snippet", &out.TaxNotesSnippet, secondary.TaxNotesSnippet, preferSecondary, sink)

	// Risk flags.
	mergeField("capital_protection", &out.CapitalProtection, secondary.CapitalProtection, preferSecondary, sink)
	mergeField("max_loss_description", &out.MaxLossDescription, secondary.MaxLossDescription, preferSecondary, sink)
	mergeField("issuer_credit_risk", &out.IssuerCreditRisk, secondary.IssuerCreditRisk, preferSecondary, sink)
	mergeField("liquidity_risk_flag", &out.LiquidityRiskFlag, secondary.LiquidityRiskFlag, preferSecondary, sink)
	mergeField("risk_summary", &out.RiskSummary, secondary.RiskSummary, preferSecondary, sink)

	out.AuditTrail = append(out.AuditTrail, sink.entries...)
	return &out, sink.entries
}

type auditSink struct {
	entries []model.AuditEntry
}

// mergeField applies the scalar-field precedence rules to a single attribute.
// dst points into the output record and already holds primary's field.
func mergeField[T any](name string, dst *model.Field[T], sec model.Field[T], prefer map[string]bool, sink *auditSink) {
	if dst.Absent() {
		if !sec.Absent() {
			*dst = sec
		}
		return
	}
	if sec.Absent() || dst.ValueEqual(sec) {
		return
	}
	if !prefer[name] {
		return
	}
	sink.entries = append(sink.entries, model.AuditEntry{
		Field:  name,
		From:   dst.Origin(),
		To:     sec.Origin(),
		Reason: model.AuditReasonHigherConfidence,
	})
	*dst = sec
}

// mergeList keeps primary's list unless it is empty and secondary's is not,
// in which case secondary's list is taken wholesale.
func mergeList[T any](primary, secondary []T) []T {
	if len(primary) == 0 && len(secondary) > 0 {
		return append([]T(nil), secondary...)
	}
	return append([]T(nil), primary...)
}
