package bluez

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/dbehnke/companionlink/internal/protocol"
)

type devicePeer struct {
	device bluetooth.Device
}

func (d devicePeer) Address() string   { return d.device.Address.String() }
func (d devicePeer) Disconnect() error { return d.device.Disconnect() }

// hostPeripheral drives the default adapter as a GATT peripheral
type hostPeripheral struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	tx      bluetooth.Characteristic
}

func newHostPeripheral() *hostPeripheral {
	return &hostPeripheral{adapter: bluetooth.DefaultAdapter}
}

func (h *hostPeripheral) Enable() error {
	return h.adapter.Enable()
}

func (h *hostPeripheral) SetConnectHandler(fn func(p peer, connected bool)) {
	h.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		fn(devicePeer{device: device}, connected)
	})
}

func (h *hostPeripheral) AddUARTService(onWrite func(data []byte)) error {
	serviceUUID, err := bluetooth.ParseUUID(protocol.SERVICE_UUID)
	if err != nil {
		return fmt.Errorf("bad service uuid: %w", err)
	}
	rxUUID, err := bluetooth.ParseUUID(protocol.CHARACTERISTIC_UUID_RX)
	if err != nil {
		return fmt.Errorf("bad rx uuid: %w", err)
	}
	txUUID, err := bluetooth.ParseUUID(protocol.CHARACTERISTIC_UUID_TX)
	if err != nil {
		return fmt.Errorf("bad tx uuid: %w", err)
	}

	return h.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  rxUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					// Long writes are not reassembled; frames fit one ATT write
					if offset != 0 {
						return
					}
					onWrite(value)
				},
			},
			{
				Handle: &h.tx,
				UUID:   txUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	})
}

func (h *hostPeripheral) ConfigureAdvertising(localName string) error {
	serviceUUID, err := bluetooth.ParseUUID(protocol.SERVICE_UUID)
	if err != nil {
		return fmt.Errorf("bad service uuid: %w", err)
	}
	if h.adv == nil {
		h.adv = h.adapter.DefaultAdvertisement()
	}
	return h.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    localName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	})
}

func (h *hostPeripheral) StartAdvertising() error {
	if h.adv == nil {
		return protocol.ErrAdapterClosed
	}
	return h.adv.Start()
}

func (h *hostPeripheral) StopAdvertising() error {
	if h.adv == nil {
		return nil
	}
	return h.adv.Stop()
}

func (h *hostPeripheral) Notify(frame []byte) error {
	_, err := h.tx.Write(frame)
	return err
}
