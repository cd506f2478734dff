package providers

import (
	"strings"
	"time"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// Endpoints describes how a provider's HTTP API is addressed. Paths are relative to
// the configured base URL.
type Endpoints struct {
	OrdersPath          string
	SinceParam          string
	SinceLayout         string
	CursorParam         string
	PageSizeParam       string
	CursorFromLink      bool
	SettlementsPath     string
	SettlementIDsParam  string
	SettlementIDsJoiner string
}

// Mapping is the declarative description of one provider's payloads. Every path is a
// gjson path; line paths are evaluated against a line item, order paths against the
// order. Adding a storefront is a new Mapping value, never a new branch.
type Mapping struct {
	Provider  enums.Provider
	Endpoints Endpoints

	OrdersPath string
	CursorPath string

	OrderIDPath     string
	OrderedAtPath   string
	OrderedAtLayout string
	CurrencyPath    string
	DefaultCurrency string

	// LineItemsPath empty means every order element is itself a single line.
	LineItemsPath   string
	LineIDPath      string
	ProductIDPath   string
	ProductNamePath string
	UnitPricePath   string
	QuantityPath    string
	LineTotalPath   string

	// StatusPaths are tried on the line first, then on the order; first non-empty wins.
	StatusPaths     []string
	StatusTable     map[string]enums.OrderStatus
	PurchaseDecided []string

	CampaignTagPaths []string
	UTMSourcePaths   []string
	UTMMediumPaths   []string
	LandingURLPath   string
	LandingParams    [3]string

	SettlementsPath      string
	SettlementOrderPath  string
	SettlementLinePath   string
	CommissionPath       string
	SettlementAmountPath string
	SettlementStatusPath string
	SettledAtPath        string
	SettledAtLayout      string
}

func (m Mapping) orderedAtLayout() string {
	if m.OrderedAtLayout == "" {
		return time.RFC3339
	}
	return m.OrderedAtLayout
}

func (m Mapping) settledAtLayout() string {
	if m.SettledAtLayout == "" {
		return m.orderedAtLayout()
	}
	return m.SettledAtLayout
}

// canonicalStatus maps a marketplace status string. The bool reports a purchase decision.
func (m Mapping) canonicalStatus(raw string) (enums.OrderStatus, bool, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	for _, decided := range m.PurchaseDecided {
		if strings.ToUpper(decided) == key {
			return enums.OrderStatusDelivered, true, true
		}
	}
	for candidate, status := range m.StatusTable {
		if strings.ToUpper(candidate) == key {
			return status, false, true
		}
	}
	return "", false, false
}

// SmartstoreMapping reads the seller product-order API. Each element is one line.
var SmartstoreMapping = Mapping{
	Provider: enums.ProviderSmartstore,
	Endpoints: Endpoints{
		OrdersPath:          "/v1/pay-order/seller/product-orders",
		SinceParam:          "from",
		SinceLayout:         "2006-01-02T15:04:05.000Z07:00",
		CursorParam:         "moreSequence",
		PageSizeParam:       "limitCount",
		SettlementsPath:     "/v1/pay-settle/settle/daily/product-orders",
		SettlementIDsParam:  "productOrderIds",
		SettlementIDsJoiner: ",",
	},
	OrdersPath:      "data.contents",
	CursorPath:      "data.more.moreSequence",
	OrderIDPath:     "content.order.orderId",
	OrderedAtPath:   "content.order.orderDate",
	OrderedAtLayout: "2006-01-02T15:04:05.000Z07:00",
	DefaultCurrency: "KRW",
	LineIDPath:      "productOrderId",
	ProductIDPath:   "content.productOrder.productId",
	ProductNamePath: "content.productOrder.productName",
	UnitPricePath:   "content.productOrder.unitPrice",
	QuantityPath:    "content.productOrder.quantity",
	LineTotalPath:   "content.productOrder.totalPaymentAmount",
	StatusPaths:     []string{"content.productOrder.productOrderStatus"},
	StatusTable: map[string]enums.OrderStatus{
		"PAYMENT_WAITING":   enums.OrderStatusPending,
		"PAYED":             enums.OrderStatusPaid,
		"DELIVERING":        enums.OrderStatusShipping,
		"DELIVERED":         enums.OrderStatusDelivered,
		"CANCELED":          enums.OrderStatusCancelled,
		"CANCELED_BY_NOPAY": enums.OrderStatusCancelled,
		"RETURNED":          enums.OrderStatusReturned,
		"EXCHANGED":         enums.OrderStatusExchanged,
	},
	PurchaseDecided:      []string{"PURCHASE_DECIDED"},
	CampaignTagPaths:     []string{"content.productOrder.inflowPathAdd.nt_detail", "content.productOrder.inflowPathAdd.utm_campaign"},
	UTMSourcePaths:       []string{"content.productOrder.inflowPathAdd.nt_source", "content.productOrder.inflowPathAdd.utm_source"},
	UTMMediumPaths:       []string{"content.productOrder.inflowPathAdd.nt_medium", "content.productOrder.inflowPathAdd.utm_medium"},
	SettlementsPath:      "data.elements",
	SettlementOrderPath:  "orderId",
	SettlementLinePath:   "productOrderId",
	CommissionPath:       "commissionAmount",
	SettlementAmountPath: "settleExpectAmount",
	SettlementStatusPath: "settleType",
	SettledAtPath:        "settleCompleteDate",
	SettledAtLayout:      "2006-01-02",
}

// ShopifyMapping reads the Admin REST orders resource; pagination rides the Link header.
var ShopifyMapping = Mapping{
	Provider: enums.ProviderShopify,
	Endpoints: Endpoints{
		OrdersPath:          "/admin/api/2024-10/orders.json",
		SinceParam:          "updated_at_min",
		SinceLayout:         time.RFC3339,
		CursorParam:         "page_info",
		PageSizeParam:       "limit",
		CursorFromLink:      true,
		SettlementsPath:     "/admin/api/2024-10/shopify_payments/balance/transactions.json",
		SettlementIDsParam:  "source_order_id",
		SettlementIDsJoiner: ",",
	},
	OrdersPath:      "orders",
	OrderIDPath:     "id",
	OrderedAtPath:   "created_at",
	CurrencyPath:    "currency",
	LineItemsPath:   "line_items",
	LineIDPath:      "id",
	ProductIDPath:   "product_id",
	ProductNamePath: "title",
	UnitPricePath:   "price",
	QuantityPath:    "quantity",
	StatusPaths:     []string{"fulfillment_status", "financial_status"},
	StatusTable: map[string]enums.OrderStatus{
		"pending":            enums.OrderStatusPending,
		"authorized":         enums.OrderStatusPending,
		"paid":               enums.OrderStatusPaid,
		"partially_paid":     enums.OrderStatusPaid,
		"partially_refunded": enums.OrderStatusPaid,
		"partial":            enums.OrderStatusShipping,
		"fulfilled":          enums.OrderStatusDelivered,
		"refunded":           enums.OrderStatusReturned,
		"voided":             enums.OrderStatusCancelled,
		"restocked":          enums.OrderStatusReturned,
	},
	LandingURLPath:       "landing_site",
	LandingParams:        [3]string{"utm_source", "utm_medium", "utm_campaign"},
	SettlementsPath:      "transactions",
	SettlementOrderPath:  "source_order_id",
	CommissionPath:       "fee",
	SettlementAmountPath: "net",
	SettlementStatusPath: "type",
	SettledAtPath:        "processed_at",
}
