package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func fixture() *dispatch.Directory {
	drivers := map[string]orders.Driver{
		"e1": {ID: "e1", LoginID: "u-ravi", Name: "Ravi", Phone: "111", Status: orders.DriverActive},
		"e2": {ID: "e2", LoginID: "u-anu", Name: "Anu", Phone: "222", Status: orders.DriverActive},
		"e3": {ID: "e3", LoginID: "u-sam", Name: "Sam", Status: orders.DriverOffline},
		"e4": {ID: "e4", Name: "Noor", Status: orders.DriverActive},
		"e5": {ID: "e5", LoginID: "u-kit", Name: "Kit", Status: orders.DriverActive},
	}
	view := map[string]orders.Order{
		"1001": {ID: "1001", Status: orders.StatusOnTheWay, PartnerID: "u-ravi"},
		"1002": {ID: "1002", Status: orders.StatusReadyForPickup, PartnerID: "u-kit"},
		"0990": {ID: "0990", Status: orders.StatusDelivered, PartnerID: "u-anu",
			LastUpdated: time.Date(2026, 10, 19, 0, 30, 0, 0, ist)},
		"0980": {ID: "0980", Status: orders.StatusDelivered, PartnerID: "u-anu",
			LastUpdated: time.Date(2026, 10, 18, 23, 30, 0, 0, ist)},
		"0970": {ID: "0970", Status: orders.StatusCancelled, PartnerID: "u-anu"},
	}
	return dispatch.NewDirectory(view, drivers)
}

func names(ds []orders.Driver) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

func TestBusyIgnoresTerminalOrders(t *testing.T) {
	t.Parallel()
	d := fixture()

	require.True(t, d.Busy("u-ravi"))
	require.True(t, d.Busy("u-kit"))
	require.False(t, d.Busy("u-anu"))
	require.False(t, d.Busy(""))

	o, ok := d.CurrentOrder("u-ravi")
	require.True(t, ok)
	require.Equal(t, "1001", o.ID)
}

func TestAvailable(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"Anu"}, names(fixture().Available()))
}

func TestBuckets(t *testing.T) {
	t.Parallel()
	b := fixture().Buckets()

	require.Equal(t, []string{"Ravi"}, names(b.OutForDelivery))
	require.Equal(t, []string{"Anu", "Kit", "Noor"}, names(b.Online))
	require.Equal(t, []string{"Sam"}, names(b.Offline))
}

func TestResolve(t *testing.T) {
	t.Parallel()
	d := fixture()

	a, err := d.Resolve("e2")
	require.NoError(t, err)
	require.Equal(t, dispatch.Assignment{Login: "u-anu", Name: "Anu", Phone: "222"}, a)

	_, err = d.Resolve("e4")
	require.ErrorIs(t, err, apperr.ErrNoLoginIdentity)
	_, err = d.Resolve("e1")
	require.ErrorIs(t, err, apperr.ErrConflict)
	_, err = d.Resolve("e3")
	require.ErrorIs(t, err, apperr.ErrConflict)
	_, err = d.Resolve("nobody")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	// login identities are not record keys
	_, err = d.Resolve("u-anu")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeliveredTodayUsesLocalCalendarDay(t *testing.T) {
	t.Parallel()
	d := fixture()

	now := time.Date(2026, 10, 19, 18, 0, 0, 0, ist)
	got := d.DeliveredToday("u-anu", now)
	require.Len(t, got, 1)
	require.Equal(t, "0990", got[0].ID)

	// the same instant seen from UTC is still the 18th for order 0990
	utcNow := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	got = d.DeliveredToday("u-anu", utcNow)
	require.Len(t, got, 2)
	require.Equal(t, "0990", got[0].ID)
}

func TestByLogin(t *testing.T) {
	t.Parallel()
	d := fixture()

	dr, ok := d.ByLogin("u-kit")
	require.True(t, ok)
	require.Equal(t, "e5", dr.ID)
	_, ok = d.ByLogin("")
	require.False(t, ok)
}
