package usbscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	k, ok := Match(Controllers, 0x0403, 0xfaf0)
	assert.True(t, ok)
	assert.Contains(t, k.Name, "APT")

	k, ok = Match(Controllers, 0x1a72, 0x1234)
	assert.True(t, ok, "any PI product")
	assert.Contains(t, k.Name, "Physik")

	_, ok = Match(Controllers, 0x046d, 0xc52b)
	assert.False(t, ok)
}

func TestDeviceString(t *testing.T) {
	d := Device{Bus: 1, Address: 7, Vendor: 0x0403, Product: 0xfaf0, Name: "Thorlabs APT controller (KDC101, BBD103)", Serial: "27000001"}
	assert.Equal(t, "bus 001 device 007  0403:faf0  Thorlabs APT controller (KDC101, BBD103)  serial 27000001", d.String())
}
