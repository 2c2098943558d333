package capability

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	ActionAnalyzeInventory = "analyze_inventory"
	ActionPredictDemand    = "predict_demand"
	ActionOptimizeReorder  = "optimize_reorder"
	ActionCheckExpiry      = "check_expiry"
	ActionHandleLowStock   = "handle_low_stock"
	ActionAnalyzeQATests   = "analyze_qa_tests"
	ActionSuggestTransfers = "suggest_transfers"
)

var inventorySchemas = mustCompileSchemas(map[string]string{
	ActionAnalyzeInventory: `{
		"type": "object",
		"properties": {
			"inventories": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["sku", "quantity", "reorderPoint", "reorderQty"],
					"properties": {
						"sku": {"type": "string"},
						"quantity": {"type": "number"},
						"reorderPoint": {"type": "number"},
						"reorderQty": {"type": "number"},
						"expiryDate": {"type": "string"},
						"qaStatus": {"type": "string"}
					}
				}
			}
		}
	}`,
	ActionCheckExpiry: `{
		"type": "object",
		"properties": {
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["sku", "quantity"],
					"properties": {
						"sku": {"type": "string"},
						"quantity": {"type": "number"},
						"unitCost": {"type": "number"},
						"expiryDate": {"type": "string"}
					}
				}
			}
		}
	}`,
	ActionAnalyzeQATests: `{
		"type": "object",
		"properties": {
			"tests": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"required": ["status"],
					"properties": {"status": {"type": "string"}}
				}
			}
		}
	}`,
	ActionSuggestTransfers: `{
		"type": "object",
		"properties": {
			"warehouses": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "name"],
					"properties": {
						"inventory": {
							"type": "array",
							"items": {
								"type": "object",
								"required": ["sku", "quantity", "reorderPoint"],
								"properties": {
									"sku": {"type": "string"},
									"quantity": {"type": "number"},
									"reorderPoint": {"type": "number"}
								}
							}
						}
					}
				}
			}
		}
	}`,
})

// Inventory — агент управления запасами.
type Inventory struct {
	now func() time.Time
}

func NewInventory(now func() time.Time) *Inventory {
	return &Inventory{now: now}
}

func (inv *Inventory) Type() string { return TypeInventory }

func (inv *Inventory) Actions() []string {
	return []string{
		ActionAnalyzeInventory, ActionPredictDemand, ActionOptimizeReorder, ActionCheckExpiry,
		ActionHandleLowStock, ActionAnalyzeQATests, ActionSuggestTransfers,
	}
}

func (inv *Inventory) Lookup(action string) (Handler, bool) {
	var h Handler
	switch action {
	case ActionAnalyzeInventory:
		h = inv.analyzeInventory
	case ActionPredictDemand:
		h = inv.predictDemand
	case ActionOptimizeReorder:
		h = inv.optimizeReorder
	case ActionCheckExpiry:
		h = inv.checkExpiry
	case ActionHandleLowStock:
		h = inv.handleLowStock
	case ActionAnalyzeQATests:
		h = inv.analyzeQATests
	case ActionSuggestTransfers:
		h = inv.suggestTransfers
	default:
		return nil, false
	}
	return validated(inventorySchemas, action, h), true
}

// validated добавляет проверку схемы перед вызовом обработчика.
func validated(schemas schemaSet, action string, h Handler) Handler {
	if _, ok := schemas[action]; !ok {
		return h
	}
	return func(ctx context.Context, params, actx map[string]interface{}) (domain.ActionResult, error) {
		if err := schemas.validate(action, params); err != nil {
			return domain.ActionResult{}, err
		}
		return h(ctx, params, actx)
	}
}

type LowStockItem struct {
	SKU              string  `json:"sku"`
	Current          float64 `json:"current"`
	ReorderPoint     float64 `json:"reorder_point"`
	Urgency          string  `json:"urgency"`
	RecommendedOrder float64 `json:"recommended_order"`
}

type OverstockItem struct {
	SKU            string  `json:"sku"`
	Current        float64 `json:"current"`
	Excess         float64 `json:"excess"`
	Recommendation string  `json:"recommendation"`
}

type ExpiringItem struct {
	SKU      string  `json:"sku"`
	DaysLeft int     `json:"days_left"`
	Quantity float64 `json:"quantity"`
	Action   string  `json:"action"`
}

type QAHold struct {
	SKU          string      `json:"sku"`
	Batch        interface{} `json:"batch"`
	HoldDuration interface{} `json:"hold_duration"`
}

type Opportunity struct {
	Type             string `json:"type"`
	Description      string `json:"description"`
	PotentialSavings string `json:"potential_savings"`
}

type InventoryInsights struct {
	LowStockItems             []LowStockItem  `json:"low_stock_items"`
	OverstockedItems          []OverstockItem `json:"overstocked_items"`
	ExpiringSoon              []ExpiringItem  `json:"expiring_soon"`
	QAHolds                   []QAHold        `json:"qa_holds"`
	OptimizationOpportunities []Opportunity   `json:"optimization_opportunities"`
}

func (inv *Inventory) analyzeInventory(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	items := listOf(params["inventories"])
	insights := InventoryInsights{
		LowStockItems:             []LowStockItem{},
		OverstockedItems:          []OverstockItem{},
		ExpiringSoon:              []ExpiringItem{},
		QAHolds:                   []QAHold{},
		OptimizationOpportunities: []Opportunity{},
	}
	now := inv.now()

	for _, item := range items {
		sku := stringOr(item, "sku", "")
		qty := floatOr(item, "quantity", 0)
		rp := floatOr(item, "reorderPoint", 0)
		rq := floatOr(item, "reorderQty", 0)

		if qty <= rp {
			low := LowStockItem{SKU: sku, Current: qty, ReorderPoint: rp, Urgency: "high", RecommendedOrder: rq}
			if qty < rp*0.5 {
				low.Urgency = "critical"
				low.RecommendedOrder = rq * 2
			}
			insights.LowStockItems = append(insights.LowStockItems, low)
		}

		if qty > rp*3 {
			insights.OverstockedItems = append(insights.OverstockedItems, OverstockItem{
				SKU:            sku,
				Current:        qty,
				Excess:         qty - rp*2,
				Recommendation: "Consider promotion or transfer",
			})
		}

		if raw := stringOr(item, "expiryDate", ""); raw != "" {
			expiry, err := parseDate(raw)
			if err != nil {
				return domain.ActionResult{}, &domain.ValidationError{Field: "expiryDate", Message: err.Error()}
			}
			if days := daysUntil(now, expiry); days <= 30 {
				action := "Promotion"
				if days < 7 {
					action = "Flash sale"
				}
				insights.ExpiringSoon = append(insights.ExpiringSoon, ExpiringItem{SKU: sku, DaysLeft: days, Quantity: qty, Action: action})
			}
		}

		if stringOr(item, "qaStatus", "") == "qa_hold" {
			hold := item["holdDuration"]
			if hold == nil {
				hold = "Unknown"
			}
			insights.QAHolds = append(insights.QAHolds, QAHold{SKU: sku, Batch: item["batchNumber"], HoldDuration: hold})
		}
	}

	if len(insights.LowStockItems) > 5 {
		insights.OptimizationOpportunities = append(insights.OptimizationOpportunities, Opportunity{
			Type:             "bulk_ordering",
			Description:      "Combine orders for better pricing",
			PotentialSavings: "$2,500",
		})
	}

	return domain.ActionResult{
		Success:    true,
		Data:       insights,
		Confidence: 0.925,
		Reasoning:  fmt.Sprintf("Analyzed %d items with %d requiring attention", len(items), len(insights.LowStockItems)),
	}, nil
}

type DemandForecast struct {
	SKU            interface{} `json:"sku"`
	Predictions    []float64   `json:"predictions"`
	TotalPredicted float64     `json:"total_predicted"`
	PeakDay        int         `json:"peak_day"`
	AverageDaily   float64     `json:"average_daily"`
}

func (inv *Inventory) predictDemand(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	horizon := intOr(params, "horizon_days", 30)
	if horizon <= 0 {
		return domain.ActionResult{}, &domain.ValidationError{Field: "horizon_days", Message: "must be positive"}
	}
	history := listOf(params["historical_data"])
	quantities := make([]float64, len(history))
	for i, d := range history {
		quantities[i] = floatOr(d, "quantity", 0)
	}

	var predictions []float64
	if len(quantities) < 30 {
		avg := 10.0
		if len(quantities) > 0 {
			avg = mean(quantities[max(0, len(quantities)-7):])
		}
		predictions = make([]float64, horizon)
		for i := range predictions {
			predictions[i] = avg
		}
	} else {
		predictions = smoothedForecast(quantities, horizon)
	}

	peak, total := 0, 0.0
	for i, p := range predictions {
		total += p
		if p > predictions[peak] {
			peak = i
		}
	}

	return domain.ActionResult{
		Success: true,
		Data: DemandForecast{
			SKU:            params["sku"],
			Predictions:    predictions,
			TotalPredicted: total,
			PeakDay:        peak,
			AverageDaily:   total / float64(len(predictions)),
		},
		Confidence: math.Min(85+float64(len(history))/10, 95) / 100,
		Reasoning:  fmt.Sprintf("Predicted demand for %d days based on %d historical data points", horizon, len(history)),
	}, nil
}

// smoothedForecast — экспоненциальное сглаживание к базовой линии последней недели.
func smoothedForecast(quantities []float64, horizon int) []float64 {
	const alpha = 0.3
	last := quantities[len(quantities)-1]
	baseline := last
	if len(quantities) >= 7 {
		baseline = mean(quantities[len(quantities)-7:])
	}
	out := make([]float64, 0, horizon)
	out = append(out, last)
	for len(out) < horizon {
		prev := out[len(out)-1]
		out = append(out, alpha*prev+(1-alpha)*baseline)
	}
	return out
}

type ReorderPlan struct {
	SKU                   interface{} `json:"sku"`
	OptimalReorderPoint   int         `json:"optimal_reorder_point"`
	SafetyStock           int         `json:"safety_stock"`
	EconomicOrderQuantity int         `json:"economic_order_quantity"`
	AverageDemand         float64     `json:"average_demand"`
	DemandVariability     float64     `json:"demand_variability"`
}

func (inv *Inventory) optimizeReorder(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	demand := listOf(params["demand_data"])
	if len(demand) == 0 {
		return domain.Failure("No demand data provided"), nil
	}
	leadTime := floatOr(params, "lead_time", 3)
	serviceLevel := floatOr(params, "service_level", 0.95)
	if serviceLevel <= 0 || serviceLevel >= 1 {
		return domain.ActionResult{}, &domain.ValidationError{Field: "service_level", Message: "must be between 0 and 1"}
	}
	holdingCost := floatOr(params, "holding_cost", 1)
	if holdingCost <= 0 {
		return domain.ActionResult{}, &domain.ValidationError{Field: "holding_cost", Message: "must be positive"}
	}
	orderingCost := floatOr(params, "ordering_cost", 100)

	daily := make([]float64, len(demand))
	for i, d := range demand {
		daily[i] = floatOr(d, "quantity", 0)
	}
	avg, std := mean(daily), stddev(daily)

	safety := normPPF(serviceLevel) * std * math.Sqrt(leadTime)
	reorderPoint := avg*leadTime + safety
	eoq := math.Sqrt((2 * avg * 365 * orderingCost) / holdingCost)

	variability := 0.0
	if avg != 0 {
		variability = std / avg
	}

	return domain.ActionResult{
		Success: true,
		Data: ReorderPlan{
			SKU:                   params["sku"],
			OptimalReorderPoint:   int(math.Ceil(reorderPoint)),
			SafetyStock:           int(math.Ceil(safety)),
			EconomicOrderQuantity: int(math.Ceil(eoq)),
			AverageDemand:         avg,
			DemandVariability:     variability,
		},
		Confidence: 0.885,
		Reasoning:  fmt.Sprintf("Optimized for %.0f%% service level with %g day lead time", serviceLevel*100, leadTime),
	}, nil
}

type ExpiryRisk struct {
	SKU               string  `json:"sku"`
	DaysToExpiry      int     `json:"days_to_expiry"`
	Quantity          float64 `json:"quantity"`
	ValueAtRisk       float64 `json:"value_at_risk"`
	RecommendedAction string  `json:"recommended_action"`
}

type ExpiryReport struct {
	RiskAnalysis            map[string][]ExpiryRisk `json:"risk_analysis"`
	TotalValueAtRisk        float64                 `json:"total_value_at_risk"`
	ItemsAtRisk             int                     `json:"items_at_risk"`
	ImmediateActionRequired int                     `json:"immediate_action_required"`
}

func (inv *Inventory) checkExpiry(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	items := listOf(params["items"])
	buckets := map[string][]ExpiryRisk{"critical": {}, "high": {}, "medium": {}, "low": {}}
	now := inv.now()
	var atRisk float64

	for _, item := range items {
		raw := stringOr(item, "expiryDate", "")
		if raw == "" {
			continue
		}
		expiry, err := parseDate(raw)
		if err != nil {
			return domain.ActionResult{}, &domain.ValidationError{Field: "expiryDate", Message: err.Error()}
		}
		days := daysUntil(now, expiry)
		qty := floatOr(item, "quantity", 0)
		risk := ExpiryRisk{
			SKU:               stringOr(item, "sku", ""),
			DaysToExpiry:      days,
			Quantity:          qty,
			ValueAtRisk:       qty * floatOr(item, "unitCost", 10),
			RecommendedAction: expiryAction(days),
		}

		var bucket string
		switch {
		case days < 7:
			bucket = "critical"
		case days < 14:
			bucket = "high"
		case days < 30:
			bucket = "medium"
		default:
			bucket = "low"
		}
		buckets[bucket] = append(buckets[bucket], risk)
		if days < 30 {
			atRisk += risk.ValueAtRisk
		}
	}

	return domain.ActionResult{
		Success: true,
		Data: ExpiryReport{
			RiskAnalysis:            buckets,
			TotalValueAtRisk:        atRisk,
			ItemsAtRisk:             len(buckets["critical"]) + len(buckets["high"]),
			ImmediateActionRequired: len(buckets["critical"]),
		},
		Confidence: 0.942,
		Reasoning:  fmt.Sprintf("Analyzed %d items for expiry risk", len(items)),
	}, nil
}

func expiryAction(days int) string {
	switch {
	case days < 3:
		return "Immediate clearance - 70% discount"
	case days < 7:
		return "Flash sale - 50% discount"
	case days < 14:
		return "Promotion - 30% discount"
	case days < 30:
		return "Feature in weekly deals"
	default:
		return "Monitor"
	}
}

type Replenishment struct {
	SKU                      interface{}              `json:"sku"`
	Urgency                  string                   `json:"urgency"`
	RecommendedOrderQuantity int                      `json:"recommended_order_quantity"`
	Alternatives             []map[string]interface{} `json:"alternatives"`
	EstimatedStockoutDays    float64                  `json:"estimated_stockout_days"`
}

func (inv *Inventory) handleLowStock(_ context.Context, params, actx map[string]interface{}) (domain.ActionResult, error) {
	item := mapOf(params["inventory"])
	sku := item["sku"]
	current := floatOr(item, "quantity", 0)
	rp := floatOr(item, "reorderPoint", 0)
	rq := floatOr(item, "reorderQty", 0)

	ratio := 0.0
	if rp != 0 {
		ratio = current / rp
	}
	urgency, multiplier := "medium", 1.0
	switch {
	case ratio < 0.25:
		urgency, multiplier = "critical", 2.0
	case ratio < 0.5:
		urgency, multiplier = "high", 1.5
	}
	recommended := int(rq * multiplier)

	alternatives := []map[string]interface{}{}
	for _, wh := range listOf(actx["other_warehouses"]) {
		whQty := floatOr(wh, "quantity", 0)
		if wh["sku"] == sku && whQty > rp*2 {
			alternatives = append(alternatives, map[string]interface{}{
				"action":   "transfer",
				"from":     wh["warehouse_id"],
				"quantity": min(int(whQty)/2, recommended),
				"time":     "1-2 days",
			})
		}
	}
	alternatives = append(alternatives, map[string]interface{}{
		"action":   "emergency_order",
		"supplier": "Express Supplier",
		"quantity": recommended,
		"premium":  "15%",
		"time":     "next day",
	})

	stockout := 0.0
	if rp != 0 {
		stockout = current / (rp / 7)
	}

	return domain.ActionResult{
		Success: true,
		Data: Replenishment{
			SKU:                      sku,
			Urgency:                  urgency,
			RecommendedOrderQuantity: recommended,
			Alternatives:             alternatives,
			EstimatedStockoutDays:    stockout,
		},
		Confidence:       0.913,
		RequiresApproval: urgency == "critical" || float64(recommended) > rq*2,
		Reasoning:        fmt.Sprintf("Stock at %.1f%% of reorder point, %s action required", ratio*100, urgency),
	}, nil
}

type QAAssessment struct {
	Recommendation string   `json:"recommendation"`
	PassedTests    []string `json:"passed_tests"`
	FailedTests    []string `json:"failed_tests"`
	PendingTests   []string `json:"pending_tests"`
	RiskLevel      string   `json:"risk_level"`
}

func (inv *Inventory) analyzeQATests(_ context.Context, params, actx map[string]interface{}) (domain.ActionResult, error) {
	passed, failed, pending := splitTests(mapOf(params["tests"]))

	var confidence float64
	var recommendation, reasoning string
	switch {
	case contains(failed, "microbiological"):
		confidence, recommendation = 95, "reject"
		reasoning = "Microbiological failure poses health risk"
	case len(failed) > 0:
		confidence, recommendation = 75, "retest"
		reasoning = fmt.Sprintf("Failed %s - consider retesting", strings.Join(failed, ", "))
	case len(pending) > 0:
		confidence, recommendation = 60, "wait"
		reasoning = fmt.Sprintf("Waiting for %s results", strings.Join(pending, ", "))
	default:
		confidence, recommendation = 92, "approve"
		reasoning = "All tests passed within acceptable limits"
	}

	historical := 85.0
	if history := mapOf(actx["supplier_history"]); history != nil {
		historical = floatOr(history, "pass_rate", 0.85) * 100
	}

	risk := "low"
	if len(failed) > 0 {
		risk = "high"
	}

	return domain.ActionResult{
		Success: true,
		Data: QAAssessment{
			Recommendation: recommendation,
			PassedTests:    passed,
			FailedTests:    failed,
			PendingTests:   pending,
			RiskLevel:      risk,
		},
		Confidence:       (confidence + historical) / 2 / 100,
		RequiresApproval: recommendation != "approve",
		Reasoning:        reasoning,
	}, nil
}

// splitTests раскладывает тесты по статусам, имена отсортированы.
func splitTests(tests map[string]interface{}) (passed, failed, other []string) {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)

	passed, failed, other = []string{}, []string{}, []string{}
	for _, name := range names {
		switch stringOr(mapOf(tests[name]), "status", "") {
		case "passed":
			passed = append(passed, name)
		case "failed":
			failed = append(failed, name)
		default:
			other = append(other, name)
		}
	}
	return passed, failed, other
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type Transfer struct {
	SKU           string  `json:"sku"`
	FromWarehouse string  `json:"from_warehouse"`
	ToWarehouse   string  `json:"to_warehouse"`
	Quantity      int     `json:"quantity"`
	Urgency       string  `json:"urgency"`
	EstimatedCost float64 `json:"estimated_cost"`
	EstimatedTime string  `json:"estimated_time"`
}

type TransferPlan struct {
	SuggestedTransfers          []Transfer `json:"suggested_transfers"`
	TotalSuggestions            int        `json:"total_suggestions"`
	PotentialStockoutsPrevented int        `json:"potential_stockouts_prevented"`
}

type stockLocation struct {
	name         string
	quantity     float64
	reorderPoint float64
}

func (inv *Inventory) suggestTransfers(_ context.Context, params, _ map[string]interface{}) (domain.ActionResult, error) {
	warehouses := listOf(params["warehouses"])

	var skus []string
	bySKU := make(map[string][]stockLocation)
	for _, wh := range warehouses {
		for _, item := range listOf(wh["inventory"]) {
			sku := stringOr(item, "sku", "")
			if _, seen := bySKU[sku]; !seen {
				skus = append(skus, sku)
			}
			bySKU[sku] = append(bySKU[sku], stockLocation{
				name:         fmt.Sprint(wh["name"]),
				quantity:     floatOr(item, "quantity", 0),
				reorderPoint: floatOr(item, "reorderPoint", 0),
			})
		}
	}

	transfers := []Transfer{}
	for _, sku := range skus {
		locations := bySKU[sku]
		if len(locations) < 2 {
			continue
		}
		for _, short := range locations {
			if short.quantity >= short.reorderPoint {
				continue
			}
			for _, excess := range locations {
				if excess.quantity <= excess.reorderPoint*2 {
					continue
				}
				qty := math.Min(excess.quantity-excess.reorderPoint, short.reorderPoint-short.quantity)
				if qty <= 0 {
					continue
				}
				urgency := "medium"
				if short.quantity < short.reorderPoint*0.5 {
					urgency = "high"
				}
				transfers = append(transfers, Transfer{
					SKU:           sku,
					FromWarehouse: excess.name,
					ToWarehouse:   short.name,
					Quantity:      int(qty),
					Urgency:       urgency,
					EstimatedCost: qty * 0.5,
					EstimatedTime: "1-2 days",
				})
			}
		}
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Urgency == "high" && transfers[j].Urgency != "high"
	})
	high := 0
	for _, t := range transfers {
		if t.Urgency == "high" {
			high++
		}
	}
	top := transfers
	if len(top) > 10 {
		top = top[:10]
	}

	return domain.ActionResult{
		Success: true,
		Data: TransferPlan{
			SuggestedTransfers:          top,
			TotalSuggestions:            len(transfers),
			PotentialStockoutsPrevented: high,
		},
		Confidence: 0.875,
		Reasoning:  fmt.Sprintf("Analyzed %d SKUs across %d warehouses", len(skus), len(warehouses)),
	}, nil
}
