package realtime

// Channel is a named logical partition of event traffic. The set is closed:
// dispatch to anything outside it is a no-op.
type Channel string

const (
	ChannelOrders        Channel = "orders"
	ChannelNotifications Channel = "notifications"
	ChannelSystem        Channel = "system"
	ChannelWaiter        Channel = "waiter"
	ChannelKitchen       Channel = "kitchen"
	ChannelBar           Channel = "bar"
	ChannelCashier       Channel = "cashier"
)

// Station is the operational role of a connected client.
type Station string

const (
	StationWaiter     Station = "waiter"
	StationKitchen    Station = "kitchen"
	StationBar        Station = "bar"
	StationCashier    Station = "cashier"
	StationSupervisor Station = "supervisor"
)

// stationChannels maps each station to its subscription set. Every station
// gets notifications + system; operational stations add their own channel
// plus orders; the supervisor sees every station channel.
var stationChannels = map[Station][]Channel{
	StationWaiter:  {ChannelNotifications, ChannelSystem, ChannelWaiter, ChannelOrders},
	StationKitchen: {ChannelNotifications, ChannelSystem, ChannelKitchen, ChannelOrders},
	StationBar:     {ChannelNotifications, ChannelSystem, ChannelBar, ChannelOrders},
	StationCashier: {ChannelNotifications, ChannelSystem, ChannelCashier, ChannelOrders},
	StationSupervisor: {
		ChannelNotifications, ChannelSystem, ChannelOrders,
		ChannelWaiter, ChannelKitchen, ChannelBar, ChannelCashier,
	},
}

// ParseStation maps a role string to a Station. Unknown roles get no station
// (and therefore only the shared channels), rather than a silently empty
// subscription set.
func ParseStation(role string) (Station, bool) {
	s := Station(role)
	_, ok := stationChannels[s]
	return s, ok
}

// ChannelsForStation returns the subscription set for a station. Unknown
// stations fall back to the shared channels only.
func ChannelsForStation(s Station) []Channel {
	if channels, ok := stationChannels[s]; ok {
		out := make([]Channel, len(channels))
		copy(out, channels)
		return out
	}
	return []Channel{ChannelNotifications, ChannelSystem}
}

// KnownChannel reports whether a channel belongs to the closed set.
func KnownChannel(ch Channel) bool {
	switch ch {
	case ChannelOrders, ChannelNotifications, ChannelSystem,
		ChannelWaiter, ChannelKitchen, ChannelBar, ChannelCashier:
		return true
	}
	return false
}
