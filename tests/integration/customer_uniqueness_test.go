package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/persistence"
)

// TestCustomerIdentifierUniqueness_Integration verifies the partial unique
// indexes on the live book: at most one active customer per strong identifier
// value, enforced by the store itself.
func TestCustomerIdentifierUniqueness_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormCustomerRepository(testDB.DB)
	ctx := context.Background()

	newCustomer := func(attrs customer.Attributes) *customer.Customer {
		t.Helper()
		if attrs.SourceChannel == "" {
			attrs.SourceChannel = "bank_feed"
		}
		c, err := customer.NewCustomer(attrs)
		require.NoError(t, err)
		return c
	}

	t.Run("second active claim on a tax id is rejected", func(t *testing.T) {
		first := newCustomer(customer.Attributes{TaxID: "UNIQTAX1"})
		require.NoError(t, repo.Create(ctx, first))

		second := newCustomer(customer.Attributes{TaxID: "UNIQTAX1"})
		err := repo.Create(ctx, second)
		assert.ErrorIs(t, err, shared.ErrDuplicateIdentifier)
	})

	t.Run("second active claim on a phone is rejected", func(t *testing.T) {
		first := newCustomer(customer.Attributes{Phone: "4440001111"})
		require.NoError(t, repo.Create(ctx, first))

		second := newCustomer(customer.Attributes{Phone: "4440001111"})
		err := repo.Create(ctx, second)
		assert.ErrorIs(t, err, shared.ErrDuplicateIdentifier)
	})

	t.Run("deactivation releases the identifier claim", func(t *testing.T) {
		retired := newCustomer(customer.Attributes{TaxID: "FREETAX2"})
		require.NoError(t, repo.Create(ctx, retired))
		require.NoError(t, retired.Deactivate())
		require.NoError(t, repo.SaveWithLock(ctx, retired))

		// The value is free again for a new active customer
		successor := newCustomer(customer.Attributes{TaxID: "FREETAX2"})
		require.NoError(t, repo.Create(ctx, successor))

		// Matching resolves to the active claimant only
		found, err := repo.FindByIdentifier(ctx, identity.KindTaxID, "FREETAX2")
		require.NoError(t, err)
		assert.Equal(t, successor.ID, found.ID)
	})

	t.Run("deactivated customers do not match at all", func(t *testing.T) {
		gone := newCustomer(customer.Attributes{TaxID: "GONETAX3"})
		require.NoError(t, repo.Create(ctx, gone))
		require.NoError(t, gone.Deactivate())
		require.NoError(t, repo.SaveWithLock(ctx, gone))

		_, err := repo.FindByIdentifier(ctx, identity.KindTaxID, "GONETAX3")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reactivation reclaims a free identifier", func(t *testing.T) {
		returning := newCustomer(customer.Attributes{TaxID: "BACKTAX5"})
		require.NoError(t, repo.Create(ctx, returning))
		require.NoError(t, returning.Deactivate())
		require.NoError(t, repo.SaveWithLock(ctx, returning))

		require.NoError(t, returning.Activate())
		require.NoError(t, repo.SaveWithLock(ctx, returning))

		found, err := repo.FindByIdentifier(ctx, identity.KindTaxID, "BACKTAX5")
		require.NoError(t, err)
		assert.Equal(t, returning.ID, found.ID)
	})

	t.Run("reactivation into a taken identifier is rejected", func(t *testing.T) {
		loser := newCustomer(customer.Attributes{TaxID: "TAKENTAX6"})
		require.NoError(t, repo.Create(ctx, loser))
		require.NoError(t, loser.Deactivate())
		require.NoError(t, repo.SaveWithLock(ctx, loser))

		winner := newCustomer(customer.Attributes{TaxID: "TAKENTAX6"})
		require.NoError(t, repo.Create(ctx, winner))

		// The winner holds the claim now; the loser cannot come back
		require.NoError(t, loser.Activate())
		err := repo.SaveWithLock(ctx, loser)
		assert.ErrorIs(t, err, shared.ErrDuplicateIdentifier)
	})

	t.Run("absent identifiers never collide", func(t *testing.T) {
		// Neither carries a tax id; the partial index ignores NULL columns
		a := newCustomer(customer.Attributes{Phone: "2220001111"})
		b := newCustomer(customer.Attributes{Phone: "2220002222"})
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Create(ctx, b))
	})

	t.Run("enrichment into a held identifier is rejected", func(t *testing.T) {
		phoneOwner := newCustomer(customer.Attributes{Phone: "3330001111"})
		require.NoError(t, repo.Create(ctx, phoneOwner))

		enriched := newCustomer(customer.Attributes{TaxID: "ENRTAX4"})
		require.NoError(t, repo.Create(ctx, enriched))

		// Filling the phone of another active customer must fail at the store
		filled, changed := enriched.Enrich(customer.Attributes{Phone: "3330001111"})
		require.True(t, changed)
		require.Contains(t, filled, identity.KindPhone)

		err := repo.SaveWithLock(ctx, enriched)
		assert.ErrorIs(t, err, shared.ErrDuplicateIdentifier)
	})

	t.Run("shared weak keys resolve to the earliest customer", func(t *testing.T) {
		birth := time.Date(1985, 2, 20, 0, 0, 0, 0, time.UTC)
		t0 := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

		older := newCustomer(customer.Attributes{GivenName: "Maria", FamilyName: "Costa", Birthdate: &birth})
		older.CreatedAt = t0
		require.NoError(t, repo.Create(ctx, older))

		// The weak key is shared; no uniqueness applies to it
		younger := newCustomer(customer.Attributes{GivenName: "maria", FamilyName: "COSTA", Birthdate: &birth})
		younger.CreatedAt = t0.Add(time.Hour)
		require.NoError(t, repo.Create(ctx, younger))

		key := identity.NameBirthKey(identity.NormalizeName("Maria Costa"), birth)
		found, err := repo.FindByIdentifier(ctx, identity.KindNameBirth, key)
		require.NoError(t, err)
		assert.Equal(t, older.ID, found.ID)
	})
}
