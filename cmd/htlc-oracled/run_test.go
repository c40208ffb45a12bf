package main

import (
	"testing"

	"github.com/atomicbridge/timeoracle/config"
)

func TestConfirmationTiersParsesDecimalMinWei(t *testing.T) {
	tiers := confirmationTiers([]config.ConfirmationTier{
		{MinWei: "0", RequiredConfirmations: 1},
		{MinWei: "1000000000000000000", RequiredConfirmations: 12},
	})
	if len(tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(tiers))
	}
	if tiers[1].MinWei.String() != "1000000000000000000" {
		t.Fatalf("unexpected MinWei: %s", tiers[1].MinWei.String())
	}
	if tiers[1].Confirmations != 12 {
		t.Fatalf("unexpected confirmations: %d", tiers[1].Confirmations)
	}
}

func TestConfirmationTiersSkipsUnparseableEntries(t *testing.T) {
	tiers := confirmationTiers([]config.ConfirmationTier{
		{MinWei: "not-a-number", RequiredConfirmations: 5},
		{MinWei: "42", RequiredConfirmations: 3},
	})
	if len(tiers) != 1 {
		t.Fatalf("expected the malformed tier to be dropped, got %d tiers", len(tiers))
	}
	if tiers[0].MinWei.String() != "42" {
		t.Fatalf("unexpected surviving tier: %s", tiers[0].MinWei.String())
	}
}
