// Package config loads hwlite settings from YAML.
//
// A file only needs to name the values it changes; everything else keeps
// the defaults from Default. Validate checks the merged result before any
// token is touched.
//
// Example:
//
//	secrets:
//	  pin: "000000"
//	  puk: "123456789012"
//	  pairing_password: WalletAppletTest
//	flow:
//	  path: m/44'/60'/0'/0/0
//	  hashes:
//	    - 7468697363...
//	  teardown: false
//	session_timeout: 30s
//	bridge:
//	  listen: 127.0.0.1:7816
package config
