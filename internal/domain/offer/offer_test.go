package offer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOffer(t *testing.T, productType ProductType) *Offer {
	t.Helper()
	o, err := NewOffer(uuid.New(), "branch-upload", "OFF-1001", "REC-1", productType,
		decimal.NewFromInt(50000), "INR", time.Time{}, time.Time{})
	require.NoError(t, err)
	return o
}

func TestNewOffer(t *testing.T) {
	t.Run("creates pending offer with no dedup state", func(t *testing.T) {
		o := newTestOffer(t, TypeTopup)

		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, DedupNone, o.DedupStatus)
		assert.Nil(t, o.CustomerID)
		assert.Nil(t, o.OriginalOfferID)
		assert.True(t, o.IsTopup())
		assert.Len(t, o.GetDomainEvents(), 1)
	})

	t.Run("rejects empty source reference", func(t *testing.T) {
		_, err := NewOffer(uuid.New(), "ch", "", "REC-1", TypeStandard,
			decimal.NewFromInt(1000), "INR", time.Time{}, time.Time{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "source reference")
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := NewOffer(uuid.New(), "ch", "OFF-1", "REC-1", TypeStandard,
			decimal.Zero, "INR", time.Time{}, time.Time{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "positive")
	})

	t.Run("rejects inverted validity window", func(t *testing.T) {
		from := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
		until := from.AddDate(0, -1, 0)

		_, err := NewOffer(uuid.New(), "ch", "OFF-1", "REC-1", TypeStandard,
			decimal.NewFromInt(1000), "INR", from, until)

		assert.Error(t, err)
	})

	t.Run("rejects unknown product type", func(t *testing.T) {
		_, err := NewOffer(uuid.New(), "ch", "OFF-1", "REC-1", ProductType("payday"),
			decimal.NewFromInt(1000), "INR", time.Time{}, time.Time{})

		assert.Error(t, err)
	})
}

func TestOfferAssignCustomer(t *testing.T) {
	t.Run("assigning activates a pending offer", func(t *testing.T) {
		o := newTestOffer(t, TypeStandard)
		customerID := uuid.New()

		require.NoError(t, o.AssignCustomer(customerID))

		require.NotNil(t, o.CustomerID)
		assert.Equal(t, customerID, *o.CustomerID)
		assert.Equal(t, StatusActive, o.Status)
	})

	t.Run("re-assigning to the same customer is idempotent", func(t *testing.T) {
		o := newTestOffer(t, TypeStandard)
		customerID := uuid.New()

		require.NoError(t, o.AssignCustomer(customerID))
		require.NoError(t, o.AssignCustomer(customerID))

		assert.Equal(t, customerID, *o.CustomerID)
	})

	t.Run("re-pointing to a different customer fails", func(t *testing.T) {
		o := newTestOffer(t, TypeStandard)
		require.NoError(t, o.AssignCustomer(uuid.New()))

		err := o.AssignCustomer(uuid.New())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "different customer")
	})

	t.Run("deduped offers are never assigned", func(t *testing.T) {
		o := newTestOffer(t, TypeTopup)
		require.NoError(t, o.MarkSecondary(uuid.New()))

		err := o.AssignCustomer(uuid.New())

		assert.Error(t, err)
	})
}

func TestOfferDedupTriState(t *testing.T) {
	t.Run("secondary points at primary and becomes deduped", func(t *testing.T) {
		primary := newTestOffer(t, TypeTopup)
		secondary := newTestOffer(t, TypeTopup)

		require.NoError(t, primary.MarkPrimary())
		require.NoError(t, secondary.MarkSecondary(primary.ID))

		assert.Equal(t, DedupPrimary, primary.DedupStatus)
		assert.Equal(t, DedupSecondary, secondary.DedupStatus)
		require.NotNil(t, secondary.OriginalOfferID)
		assert.Equal(t, primary.ID, *secondary.OriginalOfferID)
		assert.Equal(t, StatusDeduped, secondary.Status)
	})

	t.Run("no offer is both primary and secondary", func(t *testing.T) {
		o := newTestOffer(t, TypeTopup)

		require.NoError(t, o.MarkPrimary())
		err := o.MarkSecondary(uuid.New())
		assert.Error(t, err)

		o2 := newTestOffer(t, TypeTopup)
		require.NoError(t, o2.MarkSecondary(uuid.New()))
		err = o2.MarkPrimary()
		assert.Error(t, err)
	})

	t.Run("ordinary offers never enter the tri-state", func(t *testing.T) {
		o := newTestOffer(t, TypeStandard)

		assert.Error(t, o.MarkPrimary())
		assert.Error(t, o.MarkSecondary(uuid.New()))
	})

	t.Run("offer cannot reference itself", func(t *testing.T) {
		o := newTestOffer(t, TypeTopup)

		err := o.MarkSecondary(o.ID)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "itself")
	})
}

func TestOfferValidityWindow(t *testing.T) {
	from := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 3, 0)

	o, err := NewOffer(uuid.New(), "ch", "OFF-1", "REC-1", TypeStandard,
		decimal.NewFromInt(1000), "INR", from, until)
	require.NoError(t, err)

	assert.False(t, o.IsValidAt(from.AddDate(0, 0, -1)))
	assert.True(t, o.IsValidAt(from.AddDate(0, 1, 0)))
	assert.False(t, o.IsValidAt(until.AddDate(0, 0, 1)))
}
