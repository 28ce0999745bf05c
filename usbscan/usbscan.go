// Package usbscan lists the USB attached motion controllers of a rig, so
// the serial numbers needed for configuration can be read off without the
// vendor tools
package usbscan

import (
	"fmt"

	"github.com/google/gousb"
)

// Known is a USB controller this package recognizes.  A zero Product
// matches every product of the vendor.
type Known struct {
	Vendor  gousb.ID
	Product gousb.ID
	Name    string
}

// Controllers are the USB bridges the drivers in this repository talk through
var Controllers = []Known{
	{Vendor: 0x0403, Product: 0xfaf0, Name: "Thorlabs APT controller (KDC101, BBD103)"},
	{Vendor: 0x0403, Product: 0x6001, Name: "FTDI FT232 serial bridge"},
	{Vendor: 0x0403, Product: 0x6015, Name: "FTDI FT231X serial bridge"},
	{Vendor: 0x10c4, Product: 0xea60, Name: "Silicon Labs CP210x serial bridge (ASI)"},
	{Vendor: 0x1a72, Name: "Physik Instrumente controller"},
}

// Match returns the first entry of known for a vendor and product ID
func Match(known []Known, vid, pid gousb.ID) (Known, bool) {
	for _, k := range known {
		if k.Vendor == vid && (k.Product == 0 || k.Product == pid) {
			return k, true
		}
	}
	return Known{}, false
}

// Device is one attached controller
type Device struct {
	Bus, Address int
	Vendor       gousb.ID
	Product      gousb.ID
	Name         string
	Manufacturer string
	Description  string
	Serial       string
}

func (d Device) String() string {
	s := fmt.Sprintf("bus %03d device %03d  %s:%s  %s", d.Bus, d.Address, d.Vendor, d.Product, d.Name)
	if d.Description != "" {
		s += " (" + d.Manufacturer + " " + d.Description + ")"
	}
	if d.Serial != "" {
		s += "  serial " + d.Serial
	}
	return s
}

// Scan opens every attached device matching known and reads its strings.
// Devices that could be opened are returned even when others failed.
func Scan(ctx *gousb.Context, known []Known) ([]Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := Match(known, desc.Vendor, desc.Product)
		return ok
	})
	out := make([]Device, 0, len(devs))
	for _, dev := range devs {
		k, _ := Match(known, dev.Desc.Vendor, dev.Desc.Product)
		d := Device{
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
			Vendor:  dev.Desc.Vendor,
			Product: dev.Desc.Product,
			Name:    k.Name,
		}
		// string descriptors are optional, a device without them is still listed
		d.Manufacturer, _ = dev.Manufacturer()
		d.Description, _ = dev.Product()
		d.Serial, _ = dev.SerialNumber()
		dev.Close()
		out = append(out, d)
	}
	return out, err
}
