package providers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

// NormalizedLine is the canonical shape of one order line, free of provider field names.
type NormalizedLine struct {
	Provider           enums.Provider
	ExternalOrderID    string
	ExternalLineItemID string
	ExternalProductID  string
	ProductName        string
	UnitPrice          decimal.Decimal
	Quantity           int
	TotalAmount        decimal.Decimal
	Currency           string
	MarketplaceStatus  string
	Status             enums.OrderStatus
	PurchaseDecided    bool
	OrderedAt          time.Time
	CampaignTag        string
	UTMSource          string
	UTMMedium          string
}

// Settlement is the canonical payout record for one order or order line.
type Settlement struct {
	ExternalOrderID    string
	ExternalLineItemID string
	Commission         *decimal.Decimal
	SettlementAmount   *decimal.Decimal
	Status             string
	SettledAt          *time.Time
}

// Normalize maps one raw order payload onto canonical lines using the provider mapping.
// Any missing identifier, unknown status or unparsable amount is a data error.
func Normalize(m Mapping, raw []byte) ([]NormalizedLine, error) {
	if !gjson.ValidBytes(raw) {
		return nil, dataError(m, "order payload is not valid json")
	}
	order := gjson.ParseBytes(raw)

	orderID := strings.TrimSpace(order.Get(m.OrderIDPath).String())
	if orderID == "" {
		return nil, dataError(m, "order id missing")
	}

	orderedAt, err := parseTime(order.Get(m.OrderedAtPath).String(), m.orderedAtLayout())
	if err != nil {
		return nil, dataError(m, fmt.Sprintf("order %s: ordered at: %v", orderID, err))
	}

	currency := m.DefaultCurrency
	if m.CurrencyPath != "" {
		if c := strings.TrimSpace(order.Get(m.CurrencyPath).String()); c != "" {
			currency = strings.ToUpper(c)
		}
	}

	source, medium, campaign := attributionParams(m, order)

	lines := []gjson.Result{order}
	if m.LineItemsPath != "" {
		lines = order.Get(m.LineItemsPath).Array()
		if len(lines) == 0 {
			return nil, dataError(m, fmt.Sprintf("order %s has no line items", orderID))
		}
	}

	out := make([]NormalizedLine, 0, len(lines))
	for _, line := range lines {
		normalized, err := normalizeLine(m, order, line, orderID)
		if err != nil {
			return nil, err
		}
		normalized.OrderedAt = orderedAt
		normalized.Currency = currency
		normalized.CampaignTag = campaign
		normalized.UTMSource = source
		normalized.UTMMedium = medium
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeLine(m Mapping, order, line gjson.Result, orderID string) (NormalizedLine, error) {
	lineID := strings.TrimSpace(line.Get(m.LineIDPath).String())
	if lineID == "" {
		return NormalizedLine{}, dataError(m, fmt.Sprintf("order %s: line id missing", orderID))
	}

	rawStatus := firstString(line, m.StatusPaths)
	if rawStatus == "" && m.LineItemsPath != "" {
		rawStatus = firstString(order, m.StatusPaths)
	}
	status, decided, ok := m.canonicalStatus(rawStatus)
	if !ok {
		return NormalizedLine{}, dataError(m, fmt.Sprintf("order %s: unknown status %q", orderID, rawStatus))
	}

	quantity := 1
	if q := line.Get(m.QuantityPath); m.QuantityPath != "" && q.Exists() {
		parsed, err := strconv.Atoi(strings.TrimSpace(q.String()))
		if err != nil || parsed <= 0 {
			return NormalizedLine{}, dataError(m, fmt.Sprintf("order %s line %s: invalid quantity %q", orderID, lineID, q.String()))
		}
		quantity = parsed
	}

	unitPrice, err := parseAmount(line.Get(m.UnitPricePath))
	if err != nil {
		return NormalizedLine{}, dataError(m, fmt.Sprintf("order %s line %s: unit price: %v", orderID, lineID, err))
	}

	total := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if m.LineTotalPath != "" {
		if t := line.Get(m.LineTotalPath); t.Exists() {
			total, err = parseAmount(t)
			if err != nil {
				return NormalizedLine{}, dataError(m, fmt.Sprintf("order %s line %s: total: %v", orderID, lineID, err))
			}
		}
	}

	return NormalizedLine{
		Provider:           m.Provider,
		ExternalOrderID:    orderID,
		ExternalLineItemID: lineID,
		ExternalProductID:  strings.TrimSpace(line.Get(m.ProductIDPath).String()),
		ProductName:        strings.TrimSpace(line.Get(m.ProductNamePath).String()),
		UnitPrice:          unitPrice,
		Quantity:           quantity,
		TotalAmount:        total,
		MarketplaceStatus:  rawStatus,
		Status:             status,
		PurchaseDecided:    decided,
	}, nil
}

// SplitPage extracts the raw orders and the body cursor from one list response.
func SplitPage(m Mapping, body []byte) ([][]byte, string, error) {
	if !gjson.ValidBytes(body) {
		return nil, "", dataError(m, "order page is not valid json")
	}
	page := gjson.ParseBytes(body)
	items := page.Get(m.OrdersPath)
	if !items.Exists() {
		return nil, "", nil
	}
	if !items.IsArray() {
		return nil, "", dataError(m, "orders path is not an array")
	}

	orders := [][]byte{}
	items.ForEach(func(_, value gjson.Result) bool {
		orders = append(orders, []byte(value.Raw))
		return true
	})

	cursor := ""
	if m.CursorPath != "" {
		cursor = strings.TrimSpace(page.Get(m.CursorPath).String())
	}
	return orders, cursor, nil
}

// ParseSettlements maps a settlement response body onto canonical settlements.
func ParseSettlements(m Mapping, body []byte) ([]Settlement, error) {
	if !gjson.ValidBytes(body) {
		return nil, dataError(m, "settlement payload is not valid json")
	}

	out := []Settlement{}
	var parseErr error
	gjson.GetBytes(body, m.SettlementsPath).ForEach(func(_, item gjson.Result) bool {
		orderID := strings.TrimSpace(item.Get(m.SettlementOrderPath).String())
		if orderID == "" {
			parseErr = dataError(m, "settlement order id missing")
			return false
		}
		s := Settlement{
			ExternalOrderID: orderID,
			Status:          strings.TrimSpace(item.Get(m.SettlementStatusPath).String()),
		}
		if m.SettlementLinePath != "" {
			s.ExternalLineItemID = strings.TrimSpace(item.Get(m.SettlementLinePath).String())
		}
		if s.Commission, parseErr = optionalAmount(item.Get(m.CommissionPath)); parseErr != nil {
			parseErr = dataError(m, fmt.Sprintf("settlement %s: commission: %v", orderID, parseErr))
			return false
		}
		if s.SettlementAmount, parseErr = optionalAmount(item.Get(m.SettlementAmountPath)); parseErr != nil {
			parseErr = dataError(m, fmt.Sprintf("settlement %s: amount: %v", orderID, parseErr))
			return false
		}
		if raw := strings.TrimSpace(item.Get(m.SettledAtPath).String()); raw != "" {
			at, err := parseTime(raw, m.settledAtLayout())
			if err != nil {
				parseErr = dataError(m, fmt.Sprintf("settlement %s: settled at: %v", orderID, err))
				return false
			}
			s.SettledAt = &at
		}
		out = append(out, s)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func attributionParams(m Mapping, order gjson.Result) (source, medium, campaign string) {
	source = firstString(order, m.UTMSourcePaths)
	medium = firstString(order, m.UTMMediumPaths)
	campaign = firstString(order, m.CampaignTagPaths)

	if m.LandingURLPath == "" {
		return source, medium, campaign
	}
	landing := strings.TrimSpace(order.Get(m.LandingURLPath).String())
	if landing == "" {
		return source, medium, campaign
	}
	parsed, err := url.Parse(landing)
	if err != nil {
		return source, medium, campaign
	}
	q := parsed.Query()
	if source == "" {
		source = strings.TrimSpace(q.Get(m.LandingParams[0]))
	}
	if medium == "" {
		medium = strings.TrimSpace(q.Get(m.LandingParams[1]))
	}
	if campaign == "" {
		campaign = strings.TrimSpace(q.Get(m.LandingParams[2]))
	}
	return source, medium, campaign
}

func firstString(value gjson.Result, paths []string) string {
	for _, path := range paths {
		if s := strings.TrimSpace(value.Get(path).String()); s != "" {
			return s
		}
	}
	return ""
}

func parseAmount(value gjson.Result) (decimal.Decimal, error) {
	raw := strings.TrimSpace(value.String())
	if !value.Exists() || raw == "" {
		return decimal.Zero, fmt.Errorf("missing")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", raw)
	}
	return amount, nil
}

func optionalAmount(value gjson.Result) (*decimal.Decimal, error) {
	if !value.Exists() || value.Type == gjson.Null || strings.TrimSpace(value.String()) == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(value.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", value.String())
	}
	return &amount, nil
}

func parseTime(raw, layout string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		if fallback, ferr := time.Parse(time.RFC3339, raw); ferr == nil {
			return fallback.UTC(), nil
		}
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func dataError(m Mapping, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s: %s", m.Provider, msg))
}
