// Package functions provides the built-in rental-counter tool set: location
// listing, availability, reservations, credit card maintenance, and the
// credit card knowledge base. Each function returns validation problems as
// part of its result rather than as an error, so the model hears about them
// and can ask the caller to correct the input.
package functions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soracall/voicebridge"
	"github.com/soracall/voicebridge/knowledge"
	"github.com/soracall/voicebridge/store"
)

// fn is a Function built from a schema and a closure.
type fn struct {
	name        string
	description string
	parameters  map[string]any
	exec        func(ctx context.Context, args map[string]any) (any, error)
}

func (f *fn) Name() string               { return f.name }
func (f *fn) Description() string        { return f.description }
func (f *fn) Parameters() map[string]any { return f.parameters }
func (f *fn) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.exec(ctx, args)
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// RegisterAll registers the full tool set against the given store and
// knowledge base.
func RegisterAll(reg *voicebridge.Registry, st store.Store, kb *knowledge.Base) {
	reg.Register(ListLocations(st))
	reg.Register(GetAvailability(st))
	reg.Register(CreateReservation(st))
	reg.Register(GetReservationStatus(st))
	reg.Register(ChangeCreditCardInfo())
	reg.Register(GetCreditCardKnowledge(kb))
}

// ListLocations returns every rental branch.
func ListLocations(st store.Store) voicebridge.Function {
	return &fn{
		name:        "list_locations",
		description: "List all rental car locations with name, address and phone number.",
		parameters:  objectSchema(nil, map[string]any{}),
		exec: func(ctx context.Context, _ map[string]any) (any, error) {
			locs, err := st.ListLocations(ctx)
			if err != nil {
				return map[string]any{"error": err.Error()}, nil
			}
			return map[string]any{"locations": locs}, nil
		},
	}
}

// GetAvailability lists the vehicles available at a location for a date
// range, optionally filtered by vehicle type.
func GetAvailability(st store.Store) voicebridge.Function {
	return &fn{
		name:        "get_availability",
		description: "Check vehicle availability at a location for a date range, optionally filtered by vehicle type.",
		parameters: objectSchema([]string{"locationId", "startDate", "endDate"}, map[string]any{
			"locationId":  strProp("Location identifier, e.g. loc1"),
			"startDate":   strProp("Rental start date, ISO format"),
			"endDate":     strProp("Rental end date, ISO format"),
			"vehicleType": strProp("Optional vehicle type filter, e.g. コンパクト or SUV"),
		}),
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			locationID := strArg(args, "locationId")
			if locationID == "" || strArg(args, "startDate") == "" || strArg(args, "endDate") == "" {
				return map[string]any{"error": "locationId, startDate and endDate are required"}, nil
			}
			loc, err := st.GetLocation(ctx, locationID)
			if err != nil {
				return map[string]any{"error": err.Error()}, nil
			}
			var inv []store.Vehicle
			if loc != nil {
				inv = loc.Inventory
			}
			vehicleType := strArg(args, "vehicleType")
			filtered := make([]store.Vehicle, 0, len(inv))
			for _, v := range inv {
				if vehicleType == "" || v.VehicleType == vehicleType {
					filtered = append(filtered, v)
				}
			}
			return map[string]any{"count": len(filtered), "vehicles": filtered}, nil
		},
	}
}

// CreateReservation books a vehicle at a location.
func CreateReservation(st store.Store) voicebridge.Function {
	return &fn{
		name:        "create_reservation",
		description: "Create a rental reservation for a customer at a location.",
		parameters: objectSchema([]string{"locationId", "startDate", "endDate", "customerName"}, map[string]any{
			"locationId":      strProp("Location identifier"),
			"startDate":       strProp("Rental start date, ISO format"),
			"endDate":         strProp("Rental end date, ISO format"),
			"customerName":    strProp("Name the reservation is held under"),
			"customerContact": strProp("Optional contact phone or email"),
			"vehicleType":     strProp("Optional vehicle type"),
			"vehicleId":       strProp("Optional specific vehicle identifier"),
		}),
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			r := store.Reservation{
				LocationID:      strArg(args, "locationId"),
				StartDate:       strArg(args, "startDate"),
				EndDate:         strArg(args, "endDate"),
				CustomerName:    strArg(args, "customerName"),
				CustomerContact: strArg(args, "customerContact"),
				VehicleType:     strArg(args, "vehicleType"),
				VehicleID:       strArg(args, "vehicleId"),
			}
			if r.LocationID == "" || r.StartDate == "" || r.EndDate == "" || r.CustomerName == "" {
				return map[string]any{"error": "Missing required fields"}, nil
			}
			created, err := st.CreateReservation(ctx, r)
			if err != nil {
				return map[string]any{"error": err.Error()}, nil
			}
			return map[string]any{"success": true, "reservation": created}, nil
		},
	}
}

// GetReservationStatus looks up reservations held under a customer name.
func GetReservationStatus(st store.Store) voicebridge.Function {
	return &fn{
		name:        "get_reservation_status",
		description: "Look up existing reservations by customer name.",
		parameters: objectSchema([]string{"customerName"}, map[string]any{
			"customerName": strProp("Name the reservation is held under"),
		}),
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			name := strArg(args, "customerName")
			if name == "" {
				return map[string]any{"error": "customerName required"}, nil
			}
			matches, err := st.ReservationsByCustomer(ctx, name)
			if err != nil {
				return map[string]any{"error": err.Error()}, nil
			}
			if matches == nil {
				matches = []store.Reservation{}
			}
			return map[string]any{"count": len(matches), "results": matches}, nil
		},
	}
}

// changeTypeNames maps the accepted change types to their display names.
var changeTypeNames = map[string]string{
	"address": "住所",
	"phone":   "電話番号",
	"email":   "メールアドレス",
}

// ChangeCreditCardInfo updates contact details attached to a credit card.
// The update itself is simulated; the interesting part is the validation
// surface presented to the model, with user-facing messages in Japanese.
func ChangeCreditCardInfo() voicebridge.Function {
	return &fn{
		name:        "change_credit_card_info",
		description: "Change the address, phone number or email address registered to a credit card.",
		parameters: objectSchema([]string{"cardNumber", "changeType", "newValue"}, map[string]any{
			"cardNumber": strProp("Credit card number, at minimum the last 4 digits"),
			"changeType": map[string]any{
				"type":        "string",
				"enum":        []string{"address", "phone", "email"},
				"description": "Which registered detail to change",
			},
			"newValue": strProp("The new value for the selected detail"),
		}),
		exec: func(_ context.Context, args map[string]any) (any, error) {
			cardNumber := strArg(args, "cardNumber")
			changeType := strArg(args, "changeType")
			newValue := strArg(args, "newValue")

			if cardNumber == "" || changeType == "" || newValue == "" {
				return map[string]any{"error": "カード番号、変更種別、新しい値はすべて必須です"}, nil
			}
			display, ok := changeTypeNames[changeType]
			if !ok {
				return map[string]any{"error": "変更種別は address, phone, email のいずれかである必要があります"}, nil
			}
			if len(cardNumber) < 4 {
				return map[string]any{"error": "カード番号は最低4桁必要です"}, nil
			}

			last4 := cardNumber[len(cardNumber)-4:]
			shown := newValue
			if changeType == "phone" {
				shown = maskPhoneNumber(newValue)
			}
			return map[string]any{
				"success": true,
				"message": fmt.Sprintf("カード番号下4桁 %s の%sを正常に変更しました", last4, display),
				"details": map[string]any{
					"cardNumberLast4": last4,
					"changeType":      display,
					"newValue":        shown,
					"timestamp":       time.Now().UTC().Format(time.RFC3339),
				},
			}, nil
		},
	}
}

// GetCreditCardKnowledge returns the credit card FAQ content for the model
// to answer questions from. No account data is touched.
func GetCreditCardKnowledge(kb *knowledge.Base) voicebridge.Function {
	return &fn{
		name:        "get_credit_card_knowledge",
		description: "Retrieve credit card FAQ knowledge to answer customer questions. Performs no account operations.",
		parameters: objectSchema(nil, map[string]any{
			"query": strProp("The customer's question, used for future filtering"),
		}),
		exec: func(_ context.Context, _ map[string]any) (any, error) {
			content, err := kb.Load()
			if err != nil {
				return map[string]any{
					"success": false,
					"error":   "ナレッジベースの読み込みに失敗しました。",
					"message": "この件につきましては、有人オペレーターにおつなぎする必要があります。",
				}, nil
			}
			return map[string]any{
				"success":   true,
				"knowledge": content,
				"category":  "credit_card",
				"message":   "クレジットカード関連の知識を取得しました。",
			}, nil
		},
	}
}

func maskPhoneNumber(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
