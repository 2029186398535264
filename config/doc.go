// Package config loads the deliveryctl TOML configuration.
//
//	[storage]
//	data_dir = "/var/lib/deliverycore"
//
//	[attachments]
//	temp_dir = "/run/user/1000/deliverycore"
//	copy_buffer_size = 4096
//	max_size = 104857600
//
//	[unlock]
//	idle_timeout = "5m"
//
//	[relay]
//	address = "relay.example.org:33445"
//	public_key = "<64 hex chars>"
//	dial_timeout = "10s"
//	listen = ":33445"
//
//	[logging]
//	level = "info"
//	format = "text"
//
// Every key is optional; Default supplies the rest.
package config
