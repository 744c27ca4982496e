package money_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/internal/money"
)

func usd(s string) money.Money {
	m, err := money.FromString(s, money.USD)
	if err != nil {
		panic(err)
	}
	return m
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		cur     money.Currency
		wantErr error
	}{
		{name: "valid", amount: "350.00", cur: money.USD},
		{name: "negative", amount: "-1", cur: money.USD, wantErr: money.ErrNegativeAmount},
		{name: "too precise", amount: "1.005", cur: money.USD, wantErr: money.ErrTooManyDecimals},
		{name: "yen has no cents", amount: "10.5", cur: money.JPY, wantErr: money.ErrTooManyDecimals},
		{name: "no currency", amount: "1", cur: money.Currency{}, wantErr: money.ErrNoCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := money.New(decimal.RequireFromString(tt.amount), tt.cur)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMoney_SplitFee(t *testing.T) {
	tests := []struct {
		amount  string
		rate    string
		wantFee string
		wantNet string
	}{
		{amount: "300.00", rate: "0.05", wantFee: "15.00 USD", wantNet: "285.00 USD"},
		{amount: "333.33", rate: "0.05", wantFee: "16.67 USD", wantNet: "316.66 USD"},
		{amount: "100.00", rate: "0", wantFee: "0.00 USD", wantNet: "100.00 USD"},
	}

	for _, tt := range tests {
		t.Run(tt.amount+"@"+tt.rate, func(t *testing.T) {
			m := usd(tt.amount)
			fee, net, err := m.SplitFee(decimal.RequireFromString(tt.rate))
			if err != nil {
				t.Fatalf("SplitFee: %v", err)
			}
			if fee.String() != tt.wantFee || net.String() != tt.wantNet {
				t.Errorf("fee/net = %s/%s, want %s/%s", fee, net, tt.wantFee, tt.wantNet)
			}
			sum, _ := fee.Add(net)
			if !sum.Equal(m) {
				t.Errorf("fee + net = %s, want %s", sum, m)
			}
		})
	}

	if _, _, err := usd("1").SplitFee(decimal.NewFromInt(2)); !errors.Is(err, money.ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

func TestMoney_ArithmeticAndCompare(t *testing.T) {
	a, b := usd("200"), usd("350")

	if !a.LessThan(b) || !b.GreaterThan(a) {
		t.Error("comparison failed")
	}
	if _, err := a.Sub(b); !errors.Is(err, money.ErrNegativeResult) {
		t.Errorf("expected ErrNegativeResult, got %v", err)
	}

	eur := money.MustNew(decimal.NewFromInt(1), money.EUR)
	if _, err := a.Add(eur); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Errorf("expected ErrCurrencyMismatch, got %v", err)
	}
	if a.GreaterThan(eur) || a.LessThan(eur) {
		t.Error("cross-currency comparison must be false")
	}

	if got := usd("12.34").Minor(); got != 1234 {
		t.Errorf("Minor() = %d, want 1234", got)
	}
	m, _ := money.FromMinor(1234, money.USD)
	if m.String() != "12.34 USD" {
		t.Errorf("FromMinor = %s", m)
	}
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(usd("350"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"amount":"350.00","currency":"USD"}` {
		t.Errorf("json = %s", data)
	}

	var back money.Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(usd("350")) {
		t.Errorf("round trip = %s", back)
	}
}

func TestRegistry(t *testing.T) {
	r := money.RegistryFromCodes([]string{"usd", "EUR"})

	if !r.Supports("USD") || !r.Supports("eur") {
		t.Error("expected USD and EUR supported")
	}
	if r.Supports("GBP") {
		t.Error("GBP should not be supported")
	}
	if got := r.Codes(); len(got) != 2 || got[0] != "EUR" || got[1] != "USD" {
		t.Errorf("Codes() = %v", got)
	}
}
