package repository

import "testing"

func TestSplitFunds(t *testing.T) {
	tests := []struct {
		name        string
		feeCents    int64
		creditCents int64
		wantCredits int64
		wantBalance int64
	}{
		{
			// balance 500 + credit 700 paying a 1000 fee: credit is
			// drained to zero, balance covers the remaining 300.
			name:        "credits first then balance",
			feeCents:    1000,
			creditCents: 700,
			wantCredits: 700,
			wantBalance: 300,
		},
		{
			name:        "credits cover the whole fee",
			feeCents:    1000,
			creditCents: 1500,
			wantCredits: 1000,
			wantBalance: 0,
		},
		{
			name:        "no credits",
			feeCents:    1000,
			creditCents: 0,
			wantCredits: 0,
			wantBalance: 1000,
		},
		{
			name:        "credits exactly equal the fee",
			feeCents:    1000,
			creditCents: 1000,
			wantCredits: 1000,
			wantBalance: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := splitFunds(tt.feeCents, tt.creditCents)
			if used.credits != tt.wantCredits {
				t.Errorf("credits used = %d, want %d", used.credits, tt.wantCredits)
			}
			if used.balance != tt.wantBalance {
				t.Errorf("balance used = %d, want %d", used.balance, tt.wantBalance)
			}
			if used.credits+used.balance != tt.feeCents {
				t.Errorf("split %d+%d does not cover fee %d", used.credits, used.balance, tt.feeCents)
			}
		})
	}
}

func TestPoolAggregates(t *testing.T) {
	tests := []struct {
		name           string
		prizePoolCents int64
		wantFee        int64
		wantPayout     int64
	}{
		{name: "single entry", prizePoolCents: 1000, wantFee: 100, wantPayout: 900},
		{name: "many entries", prizePoolCents: 250000, wantFee: 25000, wantPayout: 225000},
		{name: "total not divisible by ten", prizePoolCents: 1005, wantFee: 100, wantPayout: 905},
		{name: "empty pool", prizePoolCents: 0, wantFee: 0, wantPayout: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, payout := poolAggregates(tt.prizePoolCents)
			if fee != tt.wantFee {
				t.Errorf("platform fee = %d, want %d", fee, tt.wantFee)
			}
			if payout != tt.wantPayout {
				t.Errorf("winner payout = %d, want %d", payout, tt.wantPayout)
			}
			if fee+payout != tt.prizePoolCents {
				t.Errorf("fee %d + payout %d != prize pool %d", fee, payout, tt.prizePoolCents)
			}
		})
	}
}
