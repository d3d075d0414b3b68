package operation

import (
	"fmt"
)

// Payload is the typed view of an operation's data. The raw map stays the
// audited form; payloads exist so callers get field-level validation.
type Payload interface {
	OperationType() Type
	Amount() Decimal
}

// Withdrawal moves funds out of the platform.
type Withdrawal struct {
	Value       Decimal `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Destination string  `json:"destination"`
}

func (Withdrawal) OperationType() Type { return TypeWithdrawal }
func (w Withdrawal) Amount() Decimal   { return w.Value }

// Transfer moves funds between two accounts.
type Transfer struct {
	Value    Decimal `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	From     string  `json:"from"`
	To       string  `json:"to"`
}

func (Transfer) OperationType() Type { return TypeTransfer }
func (t Transfer) Amount() Decimal   { return t.Value }

// DomainPurchase acquires a domain name.
type DomainPurchase struct {
	Value      Decimal `json:"amount"`
	DomainName string  `json:"domainName"`
	Registrar  string  `json:"registrar,omitempty"`
}

func (DomainPurchase) OperationType() Type { return TypeDomainPurchase }
func (d DomainPurchase) Amount() Decimal   { return d.Value }

// Generic covers every other catalog type; only the amount is interpreted.
type Generic struct {
	Kind   Type           `json:"operationType"`
	Value  Decimal        `json:"amount"`
	Fields map[string]any `json:"fields"`
}

func (g Generic) OperationType() Type { return g.Kind }
func (g Generic) Amount() Decimal     { return g.Value }

// Decode builds the typed payload for t, validating required fields.
func Decode(t Type, data map[string]any) (Payload, error) {
	if data == nil {
		return nil, ErrMissingData
	}
	amount, err := ParseAmount(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeWithdrawal:
		dest, err := requireString(data, "destination")
		if err != nil {
			return nil, err
		}
		return Withdrawal{Value: amount, Currency: optString(data, "currency"), Destination: dest}, nil
	case TypeTransfer:
		from, err := requireString(data, "from")
		if err != nil {
			return nil, err
		}
		to, err := requireString(data, "to")
		if err != nil {
			return nil, err
		}
		return Transfer{Value: amount, Currency: optString(data, "currency"), From: from, To: to}, nil
	case TypeDomainPurchase:
		name, err := requireString(data, "domainName")
		if err != nil {
			return nil, err
		}
		return DomainPurchase{Value: amount, DomainName: name, Registrar: optString(data, "registrar")}, nil
	default:
		if !t.Known() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
		}
		return Generic{Kind: t, Value: amount, Fields: data}, nil
	}
}

func requireString(data map[string]any, key string) (string, error) {
	s := optString(data, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return s, nil
}

func optString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
