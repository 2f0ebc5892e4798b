package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/careops/internal/models"
)

// Supplier is a vendor the quartermaster can order from
type Supplier struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// SupplyGap is a shortfall of one stocked item against forecast demand
type SupplyGap struct {
	Item     string `json:"item"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
	Current  int    `json:"current"`
	Required int    `json:"required"`
	Shortage int    `json:"shortage"`
}

// StaffingGap is a shortfall of one role against forecast demand
type StaffingGap struct {
	Role       string `json:"role"`
	Department string `json:"department"`
	Current    int    `json:"current"`
	Required   int    `json:"required"`
	Shortage   int    `json:"shortage"`
}

// ResourceReport is the outcome of one resource planning pass
type ResourceReport struct {
	ForecastDate  time.Time                 `json:"forecast_date"`
	PredictedLoad int                       `json:"predicted_load"`
	SupplyGaps    []SupplyGap               `json:"supply_gaps"`
	StaffingGaps  []StaffingGap             `json:"staffing_gaps"`
	Actions       []*models.ExecutionRecord `json:"actions"`
}

type supplyRule struct {
	item, category, unit string
	perPatient           float64
	unitPrice            float64
}

// Consumption per forecast patient
var supplyRules = []supplyRule{
	{item: "oxygen_cylinders", category: "medical_supplies", unit: "cylinders", perPatient: 0.3, unitPrice: 5000},
	{item: "iv_fluids", category: "consumables", unit: "units", perPatient: 2, unitPrice: 200},
	{item: "ppe_kits", category: "consumables", unit: "kits", perPatient: 1.5, unitPrice: 500},
}

var staffRules = []struct {
	role       string
	perPatient float64
}{
	{role: "nurses", perPatient: 0.5},
	{role: "doctors", perPatient: 0.1},
}

const (
	defaultUnitPrice    = 1000.0
	overtimePerShortage = 8
	proposalConcurrency = 4
)

// DefaultSuppliers are the approved vendors
func DefaultSuppliers() map[string]Supplier {
	return map[string]Supplier{
		"vendor_a": {ID: "vendor_a", Name: "MedSupply Co", Contact: "+91-1234567890"},
		"vendor_b": {ID: "vendor_b", Name: "HealthCare Supplies", Contact: "+91-9876543210"},
		"vendor_c": {ID: "vendor_c", Name: "Medical Equipment Pro", Contact: "+91-5555555555"},
	}
}

// Quartermaster turns forecasts into purchase orders and staffing changes.
// It also executes them against the (mock) supplier and HR systems once the
// gate clears them.
type Quartermaster struct {
	gate      Proposer
	suppliers map[string]Supplier

	mu        sync.Mutex
	inventory map[string]int
	staff     map[string]int

	logger *slog.Logger
	now    func() time.Time
}

func NewQuartermaster(g Proposer) *Quartermaster {
	return &Quartermaster{
		gate:      g,
		suppliers: DefaultSuppliers(),
		inventory: map[string]int{"oxygen_cylinders": 50, "iv_fluids": 200, "ppe_kits": 100},
		staff:     map[string]int{"nurses": 20, "doctors": 8},
		logger:    slog.Default().With("component", "quartermaster"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Inventory returns the stocked quantity of item
func (q *Quartermaster) Inventory(item string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inventory[item]
}

// Staff returns the available headcount for role
func (q *Quartermaster) Staff(role string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.staff[role]
}

// SetInventory overrides the stock of item
func (q *Quartermaster) SetInventory(item string, quantity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inventory[item] = quantity
}

// Gaps computes supply and staffing shortfalls for a forecast
func (q *Quartermaster) Gaps(f *models.Forecast) ([]SupplyGap, []StaffingGap) {
	q.mu.Lock()
	defer q.mu.Unlock()

	load := float64(f.PredictedLoad)
	var supply []SupplyGap
	for _, r := range supplyRules {
		current := q.inventory[r.item]
		required := load * r.perPatient
		if float64(current) < required {
			supply = append(supply, SupplyGap{
				Item: r.item, Category: r.category, Unit: r.unit,
				Current: current, Required: int(required), Shortage: int(required - float64(current)),
			})
		}
	}

	var staffing []StaffingGap
	for _, r := range staffRules {
		current := q.staff[r.role]
		required := load * r.perPatient
		if float64(current) < required {
			staffing = append(staffing, StaffingGap{
				Role: r.role, Department: "general",
				Current: current, Required: int(required), Shortage: int(required - float64(current)),
			})
		}
	}
	return supply, staffing
}

// AnalyzeAndAct proposes one action per gap, concurrently. Records come back
// in gap order: supplies first, then staffing.
func (q *Quartermaster) AnalyzeAndAct(ctx context.Context, f *models.Forecast) (*ResourceReport, error) {
	supply, staffing := q.Gaps(f)
	q.logger.Info("resource gaps identified",
		"predicted_load", f.PredictedLoad, "supply_gaps", len(supply), "staffing_gaps", len(staffing))

	actions := make([]models.Action, 0, len(supply)+len(staffing))
	for _, gap := range supply {
		actions = append(actions, q.purchaseOrder(gap, f.PredictedLoad))
	}
	for _, gap := range staffing {
		actions = append(actions, staffingChange(gap, f.PredictedLoad))
	}

	records := make([]*models.ExecutionRecord, len(actions))
	var g errgroup.Group
	g.SetLimit(proposalConcurrency)
	for i, a := range actions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records[i] = q.gate.Propose(ctx, QuartermasterName, a, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ResourceReport{
		ForecastDate:  f.Date,
		PredictedLoad: f.PredictedLoad,
		SupplyGaps:    supply,
		StaffingGaps:  staffing,
		Actions:       records,
	}, nil
}

func (q *Quartermaster) purchaseOrder(gap SupplyGap, load int) models.Action {
	sup := q.supplierFor(gap.Item)
	price := defaultUnitPrice
	for _, r := range supplyRules {
		if r.item == gap.Item {
			price = r.unitPrice
		}
	}
	a := models.NewAction(&models.PurchaseOrder{
		Item:         gap.Item,
		ItemCategory: gap.Category,
		Quantity:     gap.Shortage,
		Unit:         gap.Unit,
		Cost:         price * float64(gap.Shortage),
		Vendor:       sup.ID,
		VendorName:   sup.Name,
	}, fmt.Sprintf("Supply gap identified: %d %s of %s needed for predicted load of %d patients",
		gap.Shortage, gap.Unit, gap.Item, load))
	a.Urgency = "MEDIUM"
	if gap.Shortage > 50 {
		a.Urgency = "HIGH"
	}
	return a
}

func staffingChange(gap StaffingGap, load int) models.Action {
	a := models.NewAction(&models.StaffingChange{
		Role:           gap.Role,
		Department:     gap.Department,
		Shortage:       gap.Shortage,
		OvertimeHours:  gap.Shortage * overtimePerShortage,
		TempStaffCount: gap.Shortage,
	}, fmt.Sprintf("Staffing gap identified: %d %s needed for predicted load of %d patients",
		gap.Shortage, gap.Role, load))
	a.Urgency = "MEDIUM"
	if gap.Shortage > 5 {
		a.Urgency = "HIGH"
	}
	return a
}

func (q *Quartermaster) supplierFor(item string) Supplier {
	item = strings.ToLower(item)
	switch {
	case strings.Contains(item, "oxygen"):
		return q.suppliers["vendor_a"]
	case strings.Contains(item, "iv"), strings.Contains(item, "fluid"):
		return q.suppliers["vendor_b"]
	default:
		return q.suppliers["vendor_c"]
	}
}

// RequestTransfer proposes moving stock between departments
func (q *Quartermaster) RequestTransfer(ctx context.Context, item string, quantity int, value float64, from, to string) *models.ExecutionRecord {
	a := models.NewAction(&models.InventoryTransfer{
		Item:           item,
		Quantity:       quantity,
		Value:          value,
		FromDepartment: from,
		ToDepartment:   to,
	}, fmt.Sprintf("Rebalance %d %s from %s to %s", quantity, item, from, to))
	return q.gate.Propose(ctx, QuartermasterName, a, q)
}

// Execute places the order or schedules the staff change
func (q *Quartermaster) Execute(ctx context.Context, a models.Action) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stamp := q.now().Format("20060102150405")

	switch a.Type {
	case models.ActionPurchaseOrder:
		po, ok := a.PurchaseOrder()
		if !ok {
			return nil, fmt.Errorf("purchase order payload missing")
		}
		if po.Quantity <= 0 {
			return nil, fmt.Errorf("purchase order quantity must be positive")
		}
		orderID := fmt.Sprintf("PO_%s_%s", stamp, uuid.NewString()[:8])
		q.mu.Lock()
		q.inventory[po.Item] += po.Quantity
		q.mu.Unlock()
		q.logger.Info("purchase order placed", "order_id", orderID, "item", po.Item, "quantity", po.Quantity, "vendor", po.Vendor, "cost", po.Cost)
		return map[string]any{
			"order_id":           orderID,
			"status":             "PLACED",
			"item":               po.Item,
			"quantity":           po.Quantity,
			"cost":               po.Cost,
			"vendor":             po.Vendor,
			"estimated_delivery": q.now().Add(24 * time.Hour).Format(time.RFC3339),
		}, nil

	case models.ActionStaffingChange:
		sc, ok := a.StaffingChange()
		if !ok {
			return nil, fmt.Errorf("staffing change payload missing")
		}
		changeID := fmt.Sprintf("STAFF_%s_%s", stamp, uuid.NewString()[:8])
		q.mu.Lock()
		q.staff[sc.Role] += sc.TempStaffCount
		q.mu.Unlock()
		q.logger.Info("staffing change scheduled", "change_id", changeID, "role", sc.Role, "overtime_hours", sc.OvertimeHours, "temp_staff", sc.TempStaffCount)
		return map[string]any{
			"change_id":        changeID,
			"status":           "SCHEDULED",
			"role":             sc.Role,
			"overtime_hours":   sc.OvertimeHours,
			"temp_staff_count": sc.TempStaffCount,
		}, nil

	case models.ActionInventoryTransfer:
		it, ok := a.InventoryTransfer()
		if !ok {
			return nil, fmt.Errorf("inventory transfer payload missing")
		}
		transferID := fmt.Sprintf("TRF_%s_%s", stamp, uuid.NewString()[:8])
		q.logger.Info("inventory transfer booked", "transfer_id", transferID, "item", it.Item, "from", it.FromDepartment, "to", it.ToDepartment)
		return map[string]any{
			"transfer_id": transferID,
			"status":      "BOOKED",
			"item":        it.Item,
			"quantity":    it.Quantity,
		}, nil

	default:
		return nil, fmt.Errorf("quartermaster cannot execute %s", a.Type)
	}
}

// Verify confirms delivery by the reference the supplier or HR system issued
func (q *Quartermaster) Verify(_ context.Context, a models.Action, result map[string]any) (models.Verification, error) {
	v := models.Verification{VerifiedAt: q.now()}
	for _, key := range []string{"order_id", "change_id", "transfer_id"} {
		if ref, _ := result[key].(string); ref != "" {
			v.Success = true
			v.Notes = fmt.Sprintf("%s %s verified", strings.ToLower(string(a.Type)), ref)
			v.Metrics = map[string]any{key: ref}
			return v, nil
		}
	}
	v.Notes = fmt.Sprintf("%s verification failed - no reference", strings.ToLower(string(a.Type)))
	return v, nil
}
