package resolver

// DefaultDependencies returns the prerequisites of the built-in collection
// jobs. Parent jobs populate the datasets their dependents read, e.g.
// org_networks needs organizations to know which organizations to query.
func DefaultDependencies() Dependencies {
	return Dependencies{
		// Cisco
		"bgp_neighbors":     {"interface_ip_addresses"},
		"devices_modules":   {"devices_inventory"},
		"interface_summary": {"cam_table", "interface_description", "interface_status"},

		// F5
		"vip_destinations": {"vip_availability"},

		// Infoblox
		"infoblox_get_networks_parent_containers": {"infoblox_get_networks", "infoblox_get_network_containers"},

		// Meraki
		"get_device_statuses":     {"get_organizations"},
		"device_statuses":         {"organizations"},
		"network_appliance_vlans": {"org_networks"},
		"network_device_statuses": {"org_device_statuses"},
		"network_devices":         {"organizations"},
		"org_devices":             {"organizations"},
		"org_device_statuses":     {"org_networks"},
		"org_networks":            {"organizations"},
		"switch_lldp_neighbors":   {"switch_port_statuses"},
		"switch_port_usages":      {"switch_port_statuses"},
		"switch_port_statuses":    {"org_devices", "organizations"},
		"vpn_statuses":            {"organizations"},
	}
}
