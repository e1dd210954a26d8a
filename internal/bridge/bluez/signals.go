package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
)

const (
	memberInterfacesAdded   = objectManagerIface + ".InterfacesAdded"
	memberInterfacesRemoved = objectManagerIface + ".InterfacesRemoved"
	memberPropertiesChanged = propertiesIface + ".PropertiesChanged"
)

// handleSignal updates the cache from sig and raises the matching raw
// callbacks. Callbacks run after the cache lock is released.
func (b *Bridge) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}

	var notify []func()
	switch sig.Name {
	case memberInterfacesAdded:
		notify = b.interfacesAdded(sig)
	case memberInterfacesRemoved:
		notify = b.interfacesRemoved(sig)
	case memberPropertiesChanged:
		notify = b.propertiesChanged(sig)
	default:
		return
	}

	for _, fn := range notify {
		fn()
	}
}

func (b *Bridge) interfacesAdded(sig *dbus.Signal) []func() {
	if len(sig.Body) < 2 {
		return nil
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
	if path == "" || ifaces == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var notify []func()
	if path == b.adapterPath {
		if props, ok := ifaces[adapterIface]; ok {
			b.adapter = copyProps(props)
			notify = append(notify, b.NotifyAdapterStateChanged)
		}
		return notify
	}
	if !b.ownsDevice(path) {
		return nil
	}

	if props, ok := ifaces[deviceIface]; ok {
		b.devices[path] = copyProps(props)
		if info, ok := peerInfo(props); ok {
			notify = append(notify, func() { b.NotifyPeerDiscovered(info) })
		} else {
			b.logger.WithField("path", path).Debug("Device without address ignored")
		}
	}
	if props, ok := ifaces[batteryIface]; ok {
		if pct, ok := percentage(props); ok {
			b.battery[path] = pct
			if info, ok := peerInfo(b.devices[path]); ok {
				notify = append(notify, func() { b.NotifyBatteryChanged(info, bridge.BatterySingle, pct) })
			}
		}
	}
	return notify
}

func (b *Bridge) interfacesRemoved(sig *dbus.Signal) []func() {
	if len(sig.Body) < 2 {
		return nil
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	removed, _ := sig.Body[1].([]string)

	b.mu.Lock()
	defer b.mu.Unlock()

	var notify []func()
	for _, iface := range removed {
		switch iface {
		case deviceIface:
			props, ok := b.devices[path]
			if !ok {
				continue
			}
			delete(b.devices, path)
			delete(b.battery, path)
			if info, ok := peerInfo(props); ok {
				notify = append(notify, func() { b.NotifyPeerUnpaired(info) })
			}
		case batteryIface:
			delete(b.battery, path)
		case adapterIface:
			if path == b.adapterPath {
				b.adapter = map[string]dbus.Variant{}
				notify = append(notify, b.NotifyAdapterStateChanged)
			}
		}
	}
	return notify
}

func (b *Bridge) propertiesChanged(sig *dbus.Signal) []func() {
	if len(sig.Body) < 2 {
		return nil
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if len(changed) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch iface {
	case adapterIface:
		if sig.Path != b.adapterPath {
			return nil
		}
		return b.adapterChanged(changed)
	case deviceIface:
		if !b.ownsDevice(sig.Path) {
			return nil
		}
		return b.deviceChanged(sig.Path, changed)
	case batteryIface:
		if !b.ownsDevice(sig.Path) {
			return nil
		}
		return b.batteryChanged(sig.Path, changed)
	}
	return nil
}

func (b *Bridge) adapterChanged(changed map[string]dbus.Variant) []func() {
	if b.adapter == nil {
		b.adapter = map[string]dbus.Variant{}
	}
	for k, v := range changed {
		b.adapter[k] = v
	}

	var notify []func()
	if v, ok := changed["Discovering"]; ok {
		state := bridge.InquiryIdle
		if on, _ := v.Value().(bool); on {
			state = bridge.InquiryInquiring
		}
		notify = append(notify, func() { b.NotifyInquiryStateChanged(state) })
	}
	other := false
	for k := range changed {
		if k != "Discovering" {
			other = true
			break
		}
	}
	if other {
		notify = append(notify, b.NotifyAdapterStateChanged)
	}
	return notify
}

func (b *Bridge) deviceChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) []func() {
	props, known := b.devices[path]
	if !known {
		props = map[string]dbus.Variant{}
		b.devices[path] = props
	}
	for k, v := range changed {
		props[k] = v
	}

	info, ok := peerInfo(props)
	if !ok {
		b.logger.WithField("path", path).Debug("Property change for device without address ignored")
		return nil
	}

	var notify []func()
	if v, ok := changed["Paired"]; ok {
		if on, _ := v.Value().(bool); on {
			notify = append(notify, func() { b.NotifyPeerPairingCompleted(info, 0) })
		} else {
			notify = append(notify, func() { b.NotifyPeerUnpaired(info) })
		}
	}
	if v, ok := changed["Connected"]; ok {
		if on, _ := v.Value().(bool); on {
			notify = append(notify, func() { b.NotifyPeerConnected(info, 0) })
		} else {
			notify = append(notify, func() { b.NotifyPeerDisconnected(info, 0) })
		}
	}
	other := false
	for k := range changed {
		if k != "Paired" && k != "Connected" {
			other = true
			break
		}
	}
	if other {
		notify = append(notify, func() { b.NotifyPeerUpdated(info) })
	}

	b.logger.WithFields(logrus.Fields{
		"path":      path,
		"changed":   len(changed),
		"callbacks": len(notify),
	}).Debug("Device properties changed")
	return notify
}

func (b *Bridge) batteryChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) []func() {
	pct, ok := percentage(changed)
	if !ok {
		return nil
	}
	b.battery[path] = pct

	info, ok := peerInfo(b.devices[path])
	if !ok {
		return nil
	}
	return []func(){func() { b.NotifyBatteryChanged(info, bridge.BatterySingle, pct) }}
}

// peerInfo builds the raw identity payload from Device1 properties
func peerInfo(props map[string]dbus.Variant) (bridge.PeerInfo, bool) {
	addrVar, ok := props["Address"]
	if !ok {
		return nil, false
	}
	raw, _ := addrVar.Value().(string)
	addr, err := bridge.NormalizeAddress(raw)
	if err != nil {
		return nil, false
	}

	info := bridge.NewPeerInfo(addr)
	if name, ok := stringProp(props, "Name"); ok {
		info[bridge.KeyName] = name
	} else if alias, ok := stringProp(props, "Alias"); ok {
		info[bridge.KeyName] = alias
	}
	if v, ok := props["Class"]; ok {
		if class, ok := v.Value().(uint32); ok {
			info[bridge.KeyClass] = class
		}
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			info[bridge.KeyRSSI] = int(rssi)
		}
	}
	if v, ok := props["Paired"]; ok {
		if paired, ok := v.Value().(bool); ok {
			info[bridge.KeyPaired] = paired
		}
	}
	if v, ok := props["Connected"]; ok {
		if connected, ok := v.Value().(bool); ok {
			info[bridge.KeyConnected] = connected
		}
	}
	return info, true
}

func stringProp(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok && s != ""
}

// percentage reads Battery1.Percentage (a byte on the wire)
func percentage(props map[string]dbus.Variant) (int, bool) {
	v, ok := props["Percentage"]
	if !ok {
		return 0, false
	}
	switch p := v.Value().(type) {
	case byte:
		return int(p), true
	case int:
		return p, true
	}
	return 0, false
}
