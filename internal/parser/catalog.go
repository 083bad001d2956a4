package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/glarus-data/instrument-cli/internal/model"
)

// SourceProviderAPI tags fields extracted from the provider catalog API.
const SourceProviderAPI = "provider_api"

// ErrMissingISIN marks a catalog item without the one identifier every
// record must carry. Callers count these as item errors and move on.
var ErrMissingISIN = eris.New("parser: catalog item missing isin")

// catalogItem mirrors the provider's search result JSON.
type catalogItem struct {
	Identifiers struct {
		ISIN   string          `json:"isin"`
		Valor  json.RawMessage `json:"valor"`
		Symbol string          `json:"symbol"`
		WKN    string          `json:"wkn"`
	} `json:"identifiers"`
	Underlying struct {
		ShortName  string `json:"shortName"`
		Components []struct {
			Name            string   `json:"name"`
			ISIN            string   `json:"isin"`
			RICCode         string   `json:"ricCode"`
			BloombergTicker string   `json:"bloombergTicker"`
			Currency        string   `json:"currency"`
			Weight          *float64 `json:"weight"`
		} `json:"underlyingComponents"`
	} `json:"underlying"`
	ProductType struct {
		Name         string `json:"name"`
		SSPACategory string `json:"sspaCategory"`
	} `json:"productType"`
	Issuer struct {
		Name string `json:"name"`
		LEI  string `json:"lei"`
	} `json:"issuer"`
	Currency     string          `json:"currency"`
	Denomination json.RawMessage `json:"denomination"`
	Calendar     struct {
		FinalFixingDate       string `json:"finalFixingDate"`
		IssueDateTime         string `json:"issueDateTime"`
		InitialFixingDate     string `json:"initialFixingDate"`
		SubscriptionStartDate string `json:"subscriptionStartDate"`
		SubscriptionEndDate   string `json:"subscriptionEndDate"`
	} `json:"calendar"`
	Listings struct {
		Markets []struct {
			MarketVenue string `json:"marketVenue"`
		} `json:"markets"`
	} `json:"listings"`
	Levels struct {
		StrikeLevelAbs  *float64 `json:"strikeLevelAbs"`
		BarrierLevelAbs *float64 `json:"barrierLevelAbs"`
		KnockInLevelAbs *float64 `json:"knockInLevelAbs"`
	} `json:"levels"`
	Coupon struct {
		Rate      *float64 `json:"rate"`
		Frequency string   `json:"frequency"`
		Type      string   `json:"type"`
	} `json:"coupon"`
	Settlement struct {
		Type     string `json:"type"`
		Currency string `json:"currency"`
	} `json:"settlement"`
	Payoff struct {
		ParticipationRate *float64 `json:"participationRate"`
	} `json:"payoff"`
}

// ParseCatalogItem maps one provider search result to a normalized record.
// Returns ErrMissingISIN when the item carries no ISIN.
func ParseCatalogItem(raw json.RawMessage) (*model.Instrument, error) {
	var item catalogItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, eris.Wrap(err, "parser: decode catalog item")
	}

	if item.Identifiers.ISIN == "" {
		return nil, ErrMissingISIN
	}

	const src = SourceProviderAPI
	rec := model.NewInstrument()

	isin := item.Identifiers.ISIN
	rec.ISIN = model.NewField(isin, 0.9, src,
		TruncateExcerpt(fmt.Sprintf("identifiers.isin: %s", isin), excerptMaxLen))

	if valor := rawScalar(item.Identifiers.Valor); valor != "" {
		rec.ValorNumber = model.NewField(valor, 0.9, src,
			TruncateExcerpt(fmt.Sprintf("identifiers.valor: %s", valor), excerptMaxLen))
	}
	if item.Identifiers.Symbol != "" {
		rec.TickerSIX = model.NewField(item.Identifiers.Symbol, 0.8, src, "")
	}
	if item.Identifiers.WKN != "" {
		rec.WKN = model.NewField(item.Identifiers.WKN, 0.8, src, "")
	}

	if item.Underlying.ShortName != "" {
		rec.ProductName = model.NewField(item.Underlying.ShortName, 0.8, src, "")
	}
	if item.ProductType.Name != "" {
		rec.ProductType = model.NewField(item.ProductType.Name, 0.8, src, "")
	}
	if item.ProductType.SSPACategory != "" {
		rec.SSPACategory = model.NewField(item.ProductType.SSPACategory, 0.8, src, "")
	}

	if item.Issuer.Name != "" {
		rec.IssuerName = model.NewField(item.Issuer.Name, 0.9, src, "")
	}
	if item.Issuer.LEI != "" {
		rec.IssuerLEI = model.NewField(item.Issuer.LEI, 0.9, src, "")
	}

	if item.Currency != "" {
		rec.Currency = model.NewField(item.Currency, 0.9, src, "")
	}
	if denom, ok := rawNumber(item.Denomination); ok {
		rec.Denomination = model.NewField(denom, 0.9, src, "")
	}

	if item.Calendar.FinalFixingDate != "" {
		rec.MaturityDate = model.NewField(item.Calendar.FinalFixingDate, 0.9, src, "")
	}
	if item.Calendar.IssueDateTime != "" {
		rec.SettlementDate = model.NewField(item.Calendar.IssueDateTime, 0.8, src, "")
	}
	if item.Calendar.InitialFixingDate != "" {
		rec.InitialFixingDate = model.NewField(item.Calendar.InitialFixingDate, 0.8, src, "")
	}
	if item.Calendar.SubscriptionStartDate != "" {
		rec.SubscriptionStart = model.NewField(item.Calendar.SubscriptionStartDate, 0.8, src, "")
	}
	if item.Calendar.SubscriptionEndDate != "" {
		rec.SubscriptionEnd = model.NewField(item.Calendar.SubscriptionEndDate, 0.8, src, "")
	}

	var venues []string
	for _, m := range item.Listings.Markets {
		if m.MarketVenue != "" {
			venues = append(venues, m.MarketVenue)
		}
	}
	if len(venues) > 0 {
		rec.ListingVenue = model.NewField(strings.Join(venues, ", "), 0.7, src, "")
	}

	rec.Underlyings = parseUnderlyings(&item)

	if item.Coupon.Rate != nil {
		rec.CouponRatePctPA = model.NewField(*item.Coupon.Rate, 0.8, src, "")
	}
	if item.Coupon.Frequency != "" {
		rec.CouponFrequency = model.NewField(item.Coupon.Frequency, 0.8, src, "")
	}
	if item.Coupon.Type != "" {
		rec.CouponType = model.NewField(item.Coupon.Type, 0.7, src, "")
	}

	if item.Settlement.Type != "" {
		rec.SettlementType = model.NewField(item.Settlement.Type, 0.7, src, "")
	}
	if item.Settlement.Currency != "" {
		rec.SettlementCurrency = model.NewField(item.Settlement.Currency, 0.8, src, "")
	}

	if item.Payoff.ParticipationRate != nil {
		rec.ParticipationPct = model.NewField(*item.Payoff.ParticipationRate*100, 0.7, src, "")
	}

	return rec, nil
}

// parseUnderlyings builds the underlying list from the component array,
// falling back to a single synthetic underlying built from top-level data.
// Product-level strike/barrier levels backfill components that carry none
// of their own, at reduced confidence.
func parseUnderlyings(item *catalogItem) []model.Underlying {
	const src = SourceProviderAPI
	var list []model.Underlying

	for _, comp := range item.Underlying.Components {
		var u model.Underlying
		if comp.Name != "" {
			u.Name = model.NewField(comp.Name, 0.9, src, "")
		}
		if comp.ISIN != "" {
			u.ISIN = model.NewField(comp.ISIN, 0.9, src, "")
		}
		if comp.RICCode != "" {
			u.RICCode = model.NewField(comp.RICCode, 0.8, src, "")
		}
		if comp.BloombergTicker != "" {
			u.BloombergTicker = model.NewField(comp.BloombergTicker, 0.8, src, "")
		}
		if comp.Currency != "" {
			u.ReferenceCurrency = model.NewField(comp.Currency, 0.8, src, "")
		}
		if comp.Weight != nil {
			u.WeightPct = model.NewField(*comp.Weight*100, 0.8, src, "")
		}
		list = append(list, u)
	}

	levels := item.Levels
	if len(list) == 0 {
		var u model.Underlying
		if item.Underlying.ShortName != "" {
			u.Name = model.NewField(item.Underlying.ShortName, 0.8, src, "")
		}
		if levels.StrikeLevelAbs != nil {
			u.StrikeLevel = model.NewField(*levels.StrikeLevelAbs, 0.7, src, "")
		}
		if levels.BarrierLevelAbs != nil {
			u.BarrierLevel = model.NewField(*levels.BarrierLevelAbs, 0.7, src, "")
		} else if levels.KnockInLevelAbs != nil {
			u.BarrierLevel = model.NewField(*levels.KnockInLevelAbs, 0.7, src, "")
		}
		if !u.Name.Absent() || !u.StrikeLevel.Absent() || !u.BarrierLevel.Absent() {
			list = append(list, u)
		}
	}

	for i := range list {
		if list[i].StrikeLevel.Absent() && levels.StrikeLevelAbs != nil {
			list[i].StrikeLevel = model.NewField(*levels.StrikeLevelAbs, 0.6, src, "")
		}
		if list[i].BarrierLevel.Absent() {
			if levels.BarrierLevelAbs != nil {
				list[i].BarrierLevel = model.NewField(*levels.BarrierLevelAbs, 0.6, src, "")
			} else if levels.KnockInLevelAbs != nil {
				list[i].BarrierLevel = model.NewField(*levels.KnockInLevelAbs, 0.6, src, "")
			}
		}
	}

	return list
}

// rawNumber reads a JSON scalar that the provider delivers as either a
// number or a localized string ("1'000.50"); strings go through
// ParseSwissNumber.
func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseSwissNumber(s)
	}
	return 0, false
}

// rawScalar renders a JSON scalar (string or number) as its string form.
// The provider sends valor numbers as either type.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f json.Number
	if err := json.Unmarshal(raw, &f); err == nil {
		return f.String()
	}
	return ""
}
