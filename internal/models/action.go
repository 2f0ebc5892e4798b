package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ActionType is the discriminator of an Action
type ActionType string

const (
	ActionPurchaseOrder     ActionType = "PURCHASE_ORDER"
	ActionStaffingChange    ActionType = "STAFFING_CHANGE"
	ActionPatientAdvisory   ActionType = "PATIENT_ADVISORY"
	ActionInventoryTransfer ActionType = "INVENTORY_TRANSFER"
)

// KnownActionTypes lists the types the risk policy has rules for by default
var KnownActionTypes = []ActionType{
	ActionPurchaseOrder,
	ActionStaffingChange,
	ActionPatientAdvisory,
	ActionInventoryTransfer,
}

// Action is a proposed operational change. Details holds one of the variant
// payloads; the flat JSON form carries the type discriminator alongside the
// variant fields.
type Action struct {
	ID        string     `json:"action_id,omitempty"`
	Type      ActionType `json:"type"`
	Reasoning string     `json:"reasoning,omitempty"`
	Urgency   string     `json:"urgency,omitempty"`
	Details   Details    `json:"-"`
}

// Details is implemented by every action variant
type Details interface {
	actionType() ActionType
}

type PurchaseOrder struct {
	Item         string  `json:"item"`
	ItemCategory string  `json:"item_category"`
	Quantity     int     `json:"quantity"`
	Unit         string  `json:"unit,omitempty"`
	Cost         float64 `json:"cost"`
	Vendor       string  `json:"vendor"`
	VendorName   string  `json:"vendor_name,omitempty"`
}

type StaffingChange struct {
	Role           string `json:"role"`
	Department     string `json:"department"`
	Shortage       int    `json:"shortage"`
	OvertimeHours  int    `json:"overtime_hours"`
	TempStaffCount int    `json:"temp_staff_count"`
}

type PatientAdvisory struct {
	AdvisoryType   string   `json:"advisory_type"`
	MessageContent string   `json:"message_content"`
	RecipientCount int      `json:"recipient_count"`
	Recipients     []string `json:"recipient_list,omitempty"` // audit sample, capped by the drafter
	Severity       string   `json:"severity,omitempty"`
	Channel        string   `json:"channel,omitempty"`
}

type InventoryTransfer struct {
	Item           string  `json:"item"`
	Quantity       int     `json:"quantity"`
	Value          float64 `json:"value"`
	FromDepartment string  `json:"from_department"`
	ToDepartment   string  `json:"to_department"`
}

// UnknownDetails keeps the raw fields of an unrecognised action type
type UnknownDetails struct {
	Name   ActionType
	Fields map[string]any
}

func (*PurchaseOrder) actionType() ActionType     { return ActionPurchaseOrder }
func (*StaffingChange) actionType() ActionType    { return ActionStaffingChange }
func (*PatientAdvisory) actionType() ActionType   { return ActionPatientAdvisory }
func (*InventoryTransfer) actionType() ActionType { return ActionInventoryTransfer }
func (u *UnknownDetails) actionType() ActionType  { return u.Name }

// NewAction builds an action whose Type matches its payload
func NewAction(details Details, reasoning string) Action {
	return Action{Type: details.actionType(), Reasoning: reasoning, Details: details}
}

// PurchaseOrder returns the payload when Type is PURCHASE_ORDER
func (a Action) PurchaseOrder() (*PurchaseOrder, bool) {
	d, ok := a.Details.(*PurchaseOrder)
	return d, ok && d != nil
}

func (a Action) StaffingChange() (*StaffingChange, bool) {
	d, ok := a.Details.(*StaffingChange)
	return d, ok && d != nil
}

func (a Action) PatientAdvisory() (*PatientAdvisory, bool) {
	d, ok := a.Details.(*PatientAdvisory)
	return d, ok && d != nil
}

func (a Action) InventoryTransfer() (*InventoryTransfer, bool) {
	d, ok := a.Details.(*InventoryTransfer)
	return d, ok && d != nil
}

// WithID returns a copy carrying the given id. Details are shared.
func (a Action) WithID(id string) Action {
	a.ID = id
	return a
}

// MarshalJSON writes the flat form: envelope fields plus variant fields
func (a Action) MarshalJSON() ([]byte, error) {
	out := map[string]any{}

	switch d := a.Details.(type) {
	case nil:
	case *UnknownDetails:
		for k, v := range d.Fields {
			out[k] = v
		}
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal %s details: %w", a.Type, err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("flatten %s details: %w", a.Type, err)
		}
	}

	out["type"] = string(a.Type)
	if a.ID != "" {
		out["action_id"] = a.ID
	}
	if a.Reasoning != "" {
		out["reasoning"] = a.Reasoning
	}
	if a.Urgency != "" {
		out["urgency"] = a.Urgency
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat form. It never rejects a well-formed JSON
// object: missing or mistyped fields decode to their zero value.
func (a *Action) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = ActionFromMap(m)
	return nil
}

// ActionFromMap decodes a loosely typed mapping (as produced by agents,
// HTTP bodies or stored JSON) into an Action. Absent numbers are 0, absent
// strings "", absent lists empty.
func ActionFromMap(m map[string]any) Action {
	a := Action{
		ID:        str(m, "action_id"),
		Type:      ActionType(str(m, "type")),
		Reasoning: str(m, "reasoning"),
		Urgency:   str(m, "urgency"),
	}

	switch a.Type {
	case ActionPurchaseOrder:
		a.Details = &PurchaseOrder{
			Item:         str(m, "item"),
			ItemCategory: str(m, "item_category"),
			Quantity:     integer(m, "quantity"),
			Unit:         str(m, "unit"),
			Cost:         number(m, "cost"),
			Vendor:       str(m, "vendor"),
			VendorName:   str(m, "vendor_name"),
		}
	case ActionStaffingChange:
		a.Details = &StaffingChange{
			Role:           str(m, "role"),
			Department:     str(m, "department"),
			Shortage:       integer(m, "shortage"),
			OvertimeHours:  integer(m, "overtime_hours"),
			TempStaffCount: integer(m, "temp_staff_count"),
		}
	case ActionPatientAdvisory:
		a.Details = &PatientAdvisory{
			AdvisoryType:   str(m, "advisory_type"),
			MessageContent: str(m, "message_content"),
			RecipientCount: integer(m, "recipient_count"),
			Recipients:     stringList(m, "recipient_list"),
			Severity:       str(m, "severity"),
			Channel:        str(m, "channel"),
		}
	case ActionInventoryTransfer:
		a.Details = &InventoryTransfer{
			Item:           str(m, "item"),
			Quantity:       integer(m, "quantity"),
			Value:          number(m, "value"),
			FromDepartment: str(m, "from_department"),
			ToDepartment:   str(m, "to_department"),
		}
	default:
		fields := make(map[string]any, len(m))
		for k, v := range m {
			switch k {
			case "type", "action_id", "reasoning", "urgency":
				continue
			}
			fields[k] = v
		}
		a.Details = &UnknownDetails{Name: a.Type, Fields: fields}
	}

	return a
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// number reads a numeric field. NaN decodes to +Inf so a malformed value
// trips every threshold instead of none.
func number(m map[string]any, key string) float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		f = n
	default:
		return 0
	}
	if math.IsNaN(f) {
		return math.Inf(1)
	}
	return f
}

// integer saturates at the int range and rounds fractions up, so a count
// never decodes smaller than the value that was sent
func integer(m map[string]any, key string) int {
	f := number(m, key)
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(math.Ceil(f))
}

func stringList(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
