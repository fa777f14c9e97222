package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMoneyDisplay(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		major   string
		display string
	}{
		{"INR", INR(24900), "249.00", "₹249.00"},
		{"INR paise", INR(5), "0.05", "₹0.05"},
		{"USD", USD(4900), "49.00", "$49.00"},
		{"negative", INR(-150), "-1.50", "₹-1.50"},
		{"zero decimal", Money{Amount: 100, Currency: "JPY"}, "100", "¥100"},
		{"unknown currency", Money{Amount: 1000, Currency: "chf"}, "10.00", "CHF 10.00"},
		{"Zero", Zero("inr"), "0.00", "₹0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.major {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.major)
			}
			if got := tt.money.String(); got != tt.display {
				t.Errorf("String: got %s, want %s", got, tt.display)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	if !INR(0).IsZero() || INR(1).IsZero() {
		t.Error("IsZero mismatch")
	}
	if !INR(1).IsPositive() || INR(-1).IsPositive() || INR(0).IsPositive() {
		t.Error("IsPositive mismatch")
	}
	if !INR(100).Equal(Money{Amount: 100, Currency: "inr"}) {
		t.Error("Equal should ignore currency case")
	}
	if INR(100).Equal(USD(100)) {
		t.Error("Equal should compare currency")
	}
	if got := INR(100).Add(INR(250)); !got.Equal(INR(350)) {
		t.Errorf("Add: got %v", got)
	}
}

func TestMoneyAddCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	_ = INR(100).Add(USD(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(INR(24900))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["display"] != "₹249.00" {
		t.Errorf("display: got %v", raw["display"])
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(INR(24900)) {
		t.Errorf("round trip: got %v", back)
	}

	if err := json.Unmarshal([]byte(`"oops"`), &back); err == nil {
		t.Error("expected error for non-object money")
	}
}

func TestEntityTimestamps(t *testing.T) {
	at := time.Date(2024, 2, 29, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	e := NewEntityAt(at)
	if e.CreatedAt.Location() != time.UTC || !e.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt: got %v", e.CreatedAt)
	}
	later := at.Add(time.Hour)
	e.Touch(later)
	if !e.UpdatedAt.Equal(later) || !e.CreatedAt.Equal(at) {
		t.Errorf("Touch: got %+v", e)
	}
}
