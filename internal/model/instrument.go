package model

import "reflect"

// AuditEntry records a single merge override decision. The audit trail is
// append-only; merge concatenates, it never rewrites history.
type AuditEntry struct {
	Field  string `json:"field"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// AuditReasonHigherConfidence marks an allow-listed override by the
// secondary source during merge.
const AuditReasonHigherConfidence = "higher_confidence"

// CouponScheduleItem is one entry of a product's coupon payment schedule.
type CouponScheduleItem struct {
	Date     Field[string]  `json:"date"`
	Amount   Field[float64] `json:"amount"`
	Currency Field[string]  `json:"currency"`
}

// Underlying describes one underlying asset of a structured product.
type Underlying struct {
	Name              Field[string]  `json:"name"`
	ISIN              Field[string]  `json:"isin"`
	RICCode           Field[string]  `json:"ric_code"`
	BloombergTicker   Field[string]  `json:"bloomberg_ticker"`
	Exchange          Field[string]  `json:"exchange"`
	ReferenceCurrency Field[string]  `json:"reference_currency"`
	InitialLevel      Field[float64] `json:"initial_level"`
	StrikeLevel       Field[float64] `json:"strike_level"`
	StrikePctOfInit   Field[float64] `json:"strike_pct_of_initial"`
	BarrierLevel      Field[float64] `json:"barrier_level"`
	BarrierPctOfInit  Field[float64] `json:"barrier_pct_of_initial"`
	WeightPct         Field[float64] `json:"weight_pct"`
}

// Instrument is the normalized record describing one financial instrument as
// assembled from one or more ingestion sources. Every attribute carries its
// own confidence and provenance; ID is assigned at first persistence and
// never reassigned.
type Instrument struct {
	ID string `json:"id,omitempty"`

	// Document bookkeeping.
	SourceFileName   Field[string]  `json:"source_file_name"`
	SourceFileHash   Field[string]  `json:"source_file_hash_sha256"`
	DocumentLanguage Field[string]  `json:"document_language"`
	DocumentStamp    Field[string]  `json:"document_timestamp"`
	DocumentType     Field[string]  `json:"document_type"`
	ParseVersion     Field[string]  `json:"parse_version"`
	ParseConfidence  Field[float64] `json:"parse_confidence"`

	// Issuer and venue metadata.
	IssuerName          Field[string]          `json:"issuer_name"`
	IssuerLEI           Field[string]          `json:"issuer_lei"`
	IssuerRating        Field[string]          `json:"issuer_rating"`
	IssuerRegulator     Field[string]          `json:"issuer_regulator"`
	CalculationAgent    Field[string]          `json:"calculation_agent"`
	PayingAgent         Field[string]          `json:"paying_agent"`
	LeadManager         Field[string]          `json:"lead_manager"`
	GoverningLaw        Field[string]          `json:"governing_law"`
	Jurisdiction        Field[string]          `json:"jurisdiction"`
	RiskDisclosureFlags Field[map[string]bool] `json:"risk_disclosure_flags"`

	// Identification.
	ProductName  Field[string] `json:"product_name"`
	ProductType  Field[string] `json:"product_type"`
	SSPACategory Field[string] `json:"sspa_category"`
	ValorNumber  Field[string] `json:"valor_number"`
	ISIN         Field[string] `json:"isin"`
	WKN          Field[string] `json:"wkn"`
	TickerSIX    Field[string] `json:"ticker_six"`
	ListingVenue Field[string] `json:"listing_venue"`

	// Monetary terms.
	Currency           Field[string]  `json:"currency"`
	Quanto             Field[bool]    `json:"quanto"`
	FXRiskFlag         Field[bool]    `json:"fx_risk_flag"`
	IssuePricePct      Field[float64] `json:"issue_price_pct"`
	Denomination       Field[float64] `json:"denomination"`
	MinInvestment      Field[float64] `json:"min_investment"`
	TradeUnit          Field[float64] `json:"trade_unit"`
	TERPct             Field[float64] `json:"ter_pct"`
	IEVPct             Field[float64] `json:"iev_pct"`
	DistributionFeePct Field[float64] `json:"distribution_fee_pct"`
	MarketExpectation  Field[string]  `json:"market_expectation"`
	YieldToMaturity    Field[float64] `json:"yield_to_maturity_pct_pa"`
	WorstToYield       Field[float64] `json:"worst_to_yield_pct_pa"`

	// Coupon terms.
	CouponRatePctPA     Field[float64]            `json:"coupon_rate_pct_pa"`
	CouponFrequency     Field[string]             `json:"coupon_frequency"`
	CouponType          Field[string]             `json:"coupon_type"`
	CouponIsGuaranteed  Field[bool]               `json:"coupon_is_guaranteed"`
	CouponSchedule      []CouponScheduleItem      `json:"coupon_schedule"`
	TaxCouponSplit      Field[map[string]float64] `json:"tax_coupon_split"`
	InterestComponent   Field[float64]            `json:"interest_component_pct_pa"`
	PremiumComponent    Field[float64]            `json:"premium_component_pct_pa"`

	// Lifecycle dates (ISO-8601 strings as delivered by providers).
	SubscriptionStart Field[string] `json:"subscription_start"`
	SubscriptionEnd   Field[string] `json:"subscription_end"`
	InitialFixingDate Field[string] `json:"initial_fixing_date"`
	SettlementDate    Field[string] `json:"settlement_date"`
	FinalFixingDate   Field[string] `json:"final_fixing_date"`
	MaturityDate      Field[string] `json:"maturity_date"`
	RedemptionDate    Field[string] `json:"redemption_date"`
	LastTradingDay    Field[string] `json:"last_trading_day"`

	Underlyings []Underlying `json:"underlyings"`

	// Barrier terms.
	BarrierType             Field[string] `json:"barrier_type"`
	BarrierObservationStart Field[string] `json:"barrier_observation_start"`
	BarrierObservationEnd   Field[string] `json:"barrier_observation_end"`
	BarrierTrigger          Field[string] `json:"barrier_trigger_condition"`
	WorstOf                 Field[bool]   `json:"worst_of"`
	WorstOfDefinition       Field[string] `json:"worst_of_definition"`

	CapLevelPct      Field[float64] `json:"cap_level_pct"`
	ParticipationPct Field[float64] `json:"participation_rate_pct"`

	// Call terms.
	IsCallable            Field[bool]     `json:"is_callable"`
	CallStyle             Field[string]   `json:"call_style"`
	CallFirstPossible     Field[string]   `json:"call_first_possible_after"`
	CallObservationDates  []Field[string] `json:"call_observation_dates"`
	CallSettlementDates   []Field[string] `json:"call_settlement_dates"`
	CallRedemptionRule    Field[string]   `json:"call_redemption_amount_rule"`

	// Settlement.
	SettlementType     Field[string]             `json:"settlement_type"`
	SettlementCurrency Field[string]             `json:"settlement_currency"`
	RedemptionRules    Field[map[string]string]  `json:"redemption_rules"`
	PhysicalDelivery   Field[map[string]string]  `json:"physical_delivery"`
	PayoffSummaryText  Field[string]             `json:"payoff_summary_text"`

	// Secondary market.
	SecondaryMarketIntent Field[string] `json:"secondary_market_intent"`
	PricingConvention     Field[string] `json:"pricing_convention"`
	Custodian             Field[string] `json:"custodian_depository"`
	ClearingSettlement    Field[string] `json:"clearing_settlement"`

	// Tax.
	SwissTaxClassification Field[string]   `json:"swiss_tax_classification"`
	WithholdingTaxInterest Field[bool]     `json:"withholding_tax_interest_component"`
	StampDutySecondary     Field[bool]     `json:"stamp_duty_secondary_market"`
	SellingRestrictions    []Field[string] `json:"selling_restrictions"`
	TaxNotesSnippet        Field[string]   `json:"tax_notes_snippet"`

	// Risk flags.
	CapitalProtection  Field[bool]   `json:"capital_protection"`
	MaxLossDescription Field[string] `json:"max_loss_description"`
	IssuerCreditRisk   Field[bool]   `json:"issuer_credit_risk"`
	LiquidityRiskFlag  Field[bool]   `json:"liquidity_risk_flag"`
	RiskSummary        Field[string] `json:"risk_summary"`

	AuditTrail []AuditEntry `json:"audit_trail"`
}

// NewInstrument returns an empty record with every field absent.
func NewInstrument() *Instrument {
	return &Instrument{}
}

// StructurallyEqual reports whether two records hold the same field values,
// ignoring ID and the audit trail.
func StructurallyEqual(a, b *Instrument) bool {
	if a == nil || b == nil {
		return a == b
	}
	ca, cb := *a, *b
	ca.ID, cb.ID = "", ""
	ca.AuditTrail, cb.AuditTrail = nil, nil
	return reflect.DeepEqual(ca, cb)
}
