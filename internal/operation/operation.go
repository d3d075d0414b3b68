// Package operation defines the request vocabulary shared by every
// control-plane component: the operation catalog, the request envelope,
// amount handling and risk tiers.
package operation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrMissingType   = errors.New("operation type is required")
	ErrMissingData   = errors.New("operation data is required")
	ErrUnknownType   = errors.New("unknown operation type")
	ErrInvalidAmount = errors.New("amount must be a non-negative number")
	ErrMissingField  = errors.New("required field missing")
)

// Type tags an operation from the catalog.
type Type string

const (
	TypeWithdrawal     Type = "WITHDRAWAL"
	TypeTransfer       Type = "TRANSFER"
	TypeDomainPurchase Type = "DOMAIN_PURCHASE"
	TypePayment        Type = "PAYMENT"
	TypeRefund         Type = "REFUND"
	TypeAccountUpdate  Type = "ACCOUNT_UPDATE"
	TypeDataExport     Type = "DATA_EXPORT"
	TypeGeneric        Type = "GENERIC"
)

var catalog = map[Type]bool{
	TypeWithdrawal:     true,
	TypeTransfer:       true,
	TypeDomainPurchase: true,
	TypePayment:        true,
	TypeRefund:         true,
	TypeAccountUpdate:  true,
	TypeDataExport:     true,
	TypeGeneric:        true,
}

// Catalog lists every known operation type.
func Catalog() []Type {
	return []Type{
		TypeWithdrawal, TypeTransfer, TypeDomainPurchase, TypePayment,
		TypeRefund, TypeAccountUpdate, TypeDataExport, TypeGeneric,
	}
}

// Known reports whether t is part of the catalog.
func (t Type) Known() bool {
	return catalog[t]
}

// Success is the audit type recorded after a successful execution.
func (t Type) Success() Type {
	return t + "_success"
}

// Failed is the audit type recorded after a failed execution.
func (t Type) Failed() Type {
	return t + "_failed"
}

// ParseType normalizes s and checks it against the catalog.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingType
	}
	t := Type(strings.ToUpper(s))
	if !t.Known() {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, s)
	}
	return t, nil
}

// TypeSet is a set of operation types.
type TypeSet map[Type]struct{}

// NewTypeSet builds a set from the given types.
func NewTypeSet(types ...Type) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s TypeSet) Has(t Type) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the members in name order.
func (s TypeSet) Sorted() []Type {
	out := make([]Type, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// DefaultCriticalTypes are the operations that always trigger a sovereign
// notification regardless of amount.
func DefaultCriticalTypes() TypeSet {
	return NewTypeSet(TypeWithdrawal, TypeTransfer, TypeDomainPurchase)
}

// ParseTypeList parses a comma separated list of types, skipping unknown entries.
// The unknown entries are returned so callers can warn about them.
func ParseTypeList(csv string) (TypeSet, []string) {
	set := make(TypeSet)
	var unknown []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := ParseType(part)
		if err != nil {
			unknown = append(unknown, part)
			continue
		}
		set[t] = struct{}{}
	}
	return set, unknown
}

// Actor identifies who requested an operation.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Context carries request metadata.
type Context struct {
	RequestedAt   time.Time `json:"requestedAt"`
	Domain        string    `json:"domain,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
}

// Request is the unit of work submitted to the control plane.
type Request struct {
	Type    Type           `json:"operationType"`
	Data    map[string]any `json:"operationData"`
	Actor   Actor          `json:"actor"`
	Context Context        `json:"context"`
}

// CheckRequired verifies the fields every component depends on.
func (r *Request) CheckRequired() error {
	if r == nil || r.Type == "" {
		return ErrMissingType
	}
	if r.Data == nil {
		return ErrMissingData
	}
	return nil
}

// Validate is the boundary check for externally submitted requests: it
// requires a catalog type, a payload and a well formed amount.
func (r *Request) Validate() error {
	if err := r.CheckRequired(); err != nil {
		return err
	}
	if !r.Type.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownType, r.Type)
	}
	if _, err := ParseAmount(r.Data); err != nil {
		return err
	}
	return nil
}

// Amount returns the request amount, zero when absent or unusable.
func (r *Request) Amount() Decimal {
	if r == nil {
		return Zero
	}
	return AmountOf(r.Data)
}

// WithOutcome derives the post-execution request recorded after the body ran.
func (r *Request) WithOutcome(t Type, extra map[string]any) *Request {
	data := make(map[string]any, len(r.Data)+len(extra))
	for k, v := range r.Data {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}
	return &Request{Type: t, Data: data, Actor: r.Actor, Context: r.Context}
}
