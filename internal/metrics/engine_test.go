package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundlens/fundlens/internal/storage"
)

type fakeStore struct {
	fund storage.Fund
	txns []storage.Transaction
}

func (f *fakeStore) GetFund(id string) (storage.Fund, error) {
	if f.fund.ID != id {
		return storage.Fund{}, storage.ErrNotFound
	}
	return f.fund, nil
}

func (f *fakeStore) ListTransactionsByFund(fundID string) ([]storage.Transaction, error) {
	return f.txns, nil
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestCalculateAllMetrics(t *testing.T) {
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.NewFromInt(500)},
		txns: []storage.Transaction{
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(1000), Date: date(2020, 1, 1)},
			{Type: storage.TxnDistribution, Amount: decimal.NewFromInt(600), Date: date(2022, 1, 1)},
			{Type: storage.TxnAdjustment, Amount: decimal.NewFromInt(200), IsContributionAdjustment: true, Date: date(2020, 6, 1)},
			{Type: storage.TxnAdjustment, Amount: decimal.NewFromInt(999), IsContributionAdjustment: false},
		},
	}
	e := NewEngine(store)

	m, err := e.CalculateAllMetrics(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateAllMetrics: %v", err)
	}

	// PIC = 1000 call + 200 contribution adjustment. The non-contribution
	// adjustment is excluded.
	if m["pic"] != 1200 {
		t.Errorf("pic = %v, want 1200", m["pic"])
	}
	if m["total_distributions"] != 600 {
		t.Errorf("total_distributions = %v, want 600", m["total_distributions"])
	}
	if got, want := m["dpi"], 0.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("dpi = %v, want %v", got, want)
	}
	if got, want := m["rvpi"], 500.0/1200.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("rvpi = %v, want %v", got, want)
	}
	if got, want := m["tvpi"], 0.5+500.0/1200.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("tvpi = %v, want %v", got, want)
	}
	if _, ok := m["irr"]; !ok {
		t.Error("irr missing from metrics")
	}
}

func TestCalculateAllMetrics_ZeroPIC(t *testing.T) {
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.NewFromInt(100)},
		txns: []storage.Transaction{
			{Type: storage.TxnDistribution, Amount: decimal.NewFromInt(50), Date: date(2023, 1, 1)},
		},
	}
	e := NewEngine(store)

	m, err := e.CalculateAllMetrics(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateAllMetrics: %v", err)
	}
	if m["pic"] != 0 {
		t.Errorf("pic = %v, want 0", m["pic"])
	}
	for _, k := range []string{"dpi", "rvpi", "tvpi"} {
		if _, ok := m[k]; ok {
			t.Errorf("%s present with zero paid-in capital", k)
		}
	}
}

func TestCalculateAllMetrics_FundNotFound(t *testing.T) {
	e := NewEngine(&fakeStore{fund: storage.Fund{ID: "other"}})

	if _, err := e.CalculateAllMetrics(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown fund")
	}
}

func TestCalculateIRR_KnownRate(t *testing.T) {
	// 1000 out, 2000 back exactly 5 years later, no residual NAV.
	// IRR solves 1000*(1+r)^5 = 2000, r = 2^(1/5)-1.
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.Zero},
		txns: []storage.Transaction{
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(1000), Date: date(2015, 1, 1)},
			{Type: storage.TxnDistribution, Amount: decimal.NewFromInt(2000), Date: date(2020, 1, 1)},
		},
	}
	e := NewEngine(store)

	irr, err := e.CalculateIRR(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateIRR: %v", err)
	}
	if irr == nil {
		t.Fatal("CalculateIRR returned nil")
	}
	want := math.Pow(2, 1.0/5.0) - 1
	if math.Abs(*irr-want) > 1e-3 {
		t.Errorf("irr = %v, want %v", *irr, want)
	}
}

func TestCalculateIRR_NoSignChange(t *testing.T) {
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.Zero},
		txns: []storage.Transaction{
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(1000), Date: date(2020, 1, 1)},
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(500), Date: date(2021, 1, 1)},
		},
	}
	e := NewEngine(store)

	irr, err := e.CalculateIRR(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateIRR: %v", err)
	}
	if irr != nil {
		t.Errorf("irr = %v for all-outflow series, want nil", *irr)
	}
}

func TestCalculateIRR_UndatedOnly(t *testing.T) {
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.NewFromInt(100)},
		txns: []storage.Transaction{
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(1000)},
		},
	}
	e := NewEngine(store)

	irr, err := e.CalculateIRR(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateIRR: %v", err)
	}
	if irr != nil {
		t.Errorf("irr = %v with only undated transactions, want nil", *irr)
	}
}

func TestCalculateIRR_NAVAsTerminalValue(t *testing.T) {
	// No distributions at all; the residual NAV alone makes the fund whole.
	store := &fakeStore{
		fund: storage.Fund{ID: "f1", NAV: decimal.NewFromInt(3000)},
		txns: []storage.Transaction{
			{Type: storage.TxnCapitalCall, Amount: decimal.NewFromInt(1000), Date: date(2018, 1, 1)},
		},
	}
	e := NewEngine(store)

	irr, err := e.CalculateIRR(context.Background(), "f1")
	if err != nil {
		t.Fatalf("CalculateIRR: %v", err)
	}
	if irr == nil {
		t.Fatal("CalculateIRR returned nil despite NAV inflow")
	}
	if *irr <= 0 {
		t.Errorf("irr = %v, want positive (0.3x paid in, 3x residual)", *irr)
	}
}
