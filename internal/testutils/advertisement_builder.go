package testutils

import (
	"github.com/go-ble/ble"
)

// FakeAdvertisement is a ble.Advertisement carrying the fields the go-ble
// bridge reads. Methods it does not override panic through the nil embedded
// interface, which flags unexpected reads in tests.
type FakeAdvertisement struct {
	ble.Advertisement

	name        string
	addr        ble.Addr
	rssi        int
	serviceData []ble.ServiceData
}

func (a *FakeAdvertisement) LocalName() string              { return a.name }
func (a *FakeAdvertisement) RSSI() int                      { return a.rssi }
func (a *FakeAdvertisement) Addr() ble.Addr                 { return a.addr }
func (a *FakeAdvertisement) ServiceData() []ble.ServiceData { return a.serviceData }

// AdvertisementBuilder builds fake BLE advertisements for testing.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	serviceData map[string][]byte
	order       []string
}

// NewAdvertisementBuilder creates a builder with RSSI -50 and no name
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		serviceData: make(map[string][]byte),
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServiceData adds service-specific data for the given service UUID
// (short "180F" or full form).
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	if _, ok := b.serviceData[uuid]; !ok {
		b.order = append(b.order, uuid)
	}
	b.serviceData[uuid] = data
	return b
}

// WithBattery adds Battery Service data reporting level percent
func (b *AdvertisementBuilder) WithBattery(level byte) *AdvertisementBuilder {
	return b.WithServiceData("180F", []byte{level})
}

// Build creates the advertisement. An empty address yields a nil Addr.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := &FakeAdvertisement{
		name: b.name,
		rssi: b.rssi,
	}
	if b.address != "" {
		adv.addr = ble.NewAddr(b.address)
	}
	for _, uuid := range b.order {
		adv.serviceData = append(adv.serviceData, ble.ServiceData{
			UUID: ble.MustParse(uuid),
			Data: b.serviceData[uuid],
		})
	}
	return adv
}
