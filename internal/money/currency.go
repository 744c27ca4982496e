package money

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Currency is an ISO-4217 currency with its minor-unit precision.
type Currency struct {
	code     string
	decimals int32
}

// NewCurrency creates a Currency. Code is upper-cased.
func NewCurrency(code string, decimals int32) Currency {
	return Currency{code: strings.ToUpper(code), decimals: decimals}
}

// Code returns the ISO code.
func (c Currency) Code() string { return c.code }

// Decimals returns the number of minor-unit digits.
func (c Currency) Decimals() int32 { return c.decimals }

// IsZero reports whether c is the zero Currency.
func (c Currency) IsZero() bool { return c.code == "" }

func (c Currency) String() string { return c.code }

// Well-known currencies.
var (
	USD = NewCurrency("USD", 2)
	EUR = NewCurrency("EUR", 2)
	GBP = NewCurrency("GBP", 2)
	CAD = NewCurrency("CAD", 2)
	AUD = NewCurrency("AUD", 2)
	JPY = NewCurrency("JPY", 0)
)

// Registry is a thread-safe set of supported currencies.
type Registry struct {
	mu     sync.RWMutex
	byCode map[string]Currency
}

// NewRegistry creates a registry holding the given currencies.
func NewRegistry(currencies ...Currency) *Registry {
	r := &Registry{byCode: make(map[string]Currency, len(currencies))}
	for _, c := range currencies {
		r.Register(c)
	}
	return r
}

// DefaultRegistry returns a registry with every well-known currency.
func DefaultRegistry() *Registry {
	return NewRegistry(USD, EUR, GBP, CAD, AUD, JPY)
}

// RegistryFromCodes builds a registry restricted to codes, resolving precision
// from the well-known set. Unknown codes default to 2 decimals.
func RegistryFromCodes(codes []string) *Registry {
	known := DefaultRegistry()
	r := NewRegistry()
	for _, code := range codes {
		c, ok := known.Lookup(code)
		if !ok {
			c = NewCurrency(code, 2)
		}
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any currency with the same code.
func (r *Registry) Register(c Currency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[c.code] = c
}

// Lookup finds a currency by code, case-insensitive.
func (r *Registry) Lookup(code string) (Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCode[strings.ToUpper(code)]
	return c, ok
}

// MustLookup is Lookup that panics on unknown codes.
func (r *Registry) MustLookup(code string) Currency {
	c, ok := r.Lookup(code)
	if !ok {
		panic(fmt.Sprintf("money: currency %s not registered", code))
	}
	return c
}

// Supports reports whether code is registered.
func (r *Registry) Supports(code string) bool {
	_, ok := r.Lookup(code)
	return ok
}

// Codes returns the registered codes sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}
