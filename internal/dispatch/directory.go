// Package dispatch answers driver availability questions over the latest
// observed orders and employees, and resolves pickup assignments.
package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Assignment is what a pickup transition writes onto the order.
type Assignment struct {
	Login string
	Name  string
	Phone string
}

// Buckets partitions drivers for the dispatch board.
type Buckets struct {
	OutForDelivery []orders.Driver
	Online         []orders.Driver
	Offline        []orders.Driver
}

// Directory is an immutable view; build a new one per snapshot.
type Directory struct {
	orders  map[string]orders.Order
	drivers map[string]orders.Driver
}

func NewDirectory(view map[string]orders.Order, drivers map[string]orders.Driver) *Directory {
	if view == nil {
		view = map[string]orders.Order{}
	}
	if drivers == nil {
		drivers = map[string]orders.Driver{}
	}
	return &Directory{orders: view, drivers: drivers}
}

// Busy reports whether login holds any non-terminal order.
func (d *Directory) Busy(login string) bool {
	_, ok := d.CurrentOrder(login)
	return ok
}

// CurrentOrder returns the newest non-terminal order assigned to login.
func (d *Directory) CurrentOrder(login string) (orders.Order, bool) {
	if login == "" {
		return orders.Order{}, false
	}
	var (
		best  orders.Order
		found bool
	)
	for _, o := range d.orders {
		if o.PartnerID != login || !o.Status.Active() {
			continue
		}
		if !found || o.ID > best.ID {
			best, found = o, true
		}
	}
	return best, found
}

// Available lists Active drivers with a login identity and no open order.
func (d *Directory) Available() []orders.Driver {
	var out []orders.Driver
	for _, dr := range d.drivers {
		if dr.Status == orders.DriverActive && dr.LoginID != "" && !d.Busy(dr.LoginID) {
			out = append(out, dr)
		}
	}
	sortDrivers(out)
	return out
}

func (d *Directory) Buckets() Buckets {
	var b Buckets
	for _, dr := range d.drivers {
		switch {
		case d.outForDelivery(dr.LoginID):
			b.OutForDelivery = append(b.OutForDelivery, dr)
		case dr.Status == orders.DriverActive:
			b.Online = append(b.Online, dr)
		default:
			b.Offline = append(b.Offline, dr)
		}
	}
	sortDrivers(b.OutForDelivery)
	sortDrivers(b.Online)
	sortDrivers(b.Offline)
	return b
}

func (d *Directory) outForDelivery(login string) bool {
	if login == "" {
		return false
	}
	for _, o := range d.orders {
		if o.PartnerID == login && (o.Status == orders.StatusOnTheWay || o.Status == orders.StatusArrival) {
			return true
		}
	}
	return false
}

// Driver looks a driver up by record key.
func (d *Directory) Driver(recordKey string) (orders.Driver, bool) {
	dr, ok := d.drivers[recordKey]
	return dr, ok
}

// ByLogin looks a driver up by login identity.
func (d *Directory) ByLogin(login string) (orders.Driver, bool) {
	for _, dr := range d.drivers {
		if login != "" && dr.LoginID == login {
			return dr, true
		}
	}
	return orders.Driver{}, false
}

// Resolve turns the operator's pick (a record key) into the login identity
// and contact details written on the order.
func (d *Directory) Resolve(recordKey string) (Assignment, error) {
	dr, ok := d.drivers[recordKey]
	if !ok {
		return Assignment{}, fmt.Errorf("driver %q: %w", recordKey, apperr.ErrNotFound)
	}
	if dr.LoginID == "" {
		return Assignment{}, fmt.Errorf("driver %q: %w", recordKey, apperr.ErrNoLoginIdentity)
	}
	if dr.Status != orders.DriverActive {
		return Assignment{}, fmt.Errorf("driver %q is %s: %w", recordKey, dr.Status, apperr.ErrConflict)
	}
	if d.Busy(dr.LoginID) {
		return Assignment{}, fmt.Errorf("driver %q already has an open order: %w", recordKey, apperr.ErrConflict)
	}
	return Assignment{Login: dr.LoginID, Name: dr.Name, Phone: dr.Phone}, nil
}

// DeliveredToday lists login's Delivered orders whose last update falls on
// now's calendar day in now's location, newest first.
func (d *Directory) DeliveredToday(login string, now time.Time) []orders.Order {
	y, m, day := now.Date()
	var out []orders.Order
	for _, o := range d.orders {
		if o.Status != orders.StatusDelivered || o.PartnerID != login || o.LastUpdated.IsZero() {
			continue
		}
		oy, om, od := o.LastUpdated.In(now.Location()).Date()
		if oy == y && om == m && od == day {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func sortDrivers(ds []orders.Driver) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Name != ds[j].Name {
			return ds[i].Name < ds[j].Name
		}
		return ds[i].ID < ds[j].ID
	})
}
