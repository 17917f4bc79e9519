// Package config loads deployment manifests and engine settings.
//
// # Manifests
//
// A manifest declares the chart batch of a deployment and the services of
// the environment. It is written in YAML, or in CUE when the file ends in
// .cue (or when a directory holding a CUE package is given). CUE manifests
// are unified with the built-in #Manifest definition before decoding:
//
//	name: "platform"
//	namespace: "env-42"
//	charts: [{
//	    name: "cert-manager"
//	    namespace: "cert-manager"
//	}, {
//	    name: "coredns"
//	    kind: "config-reload"
//	    config_key: "Corefile"
//	    depends_on: ["cert-manager"]
//	}]
//
// Every manifest is validated with struct tags and cross checks (unique
// chart names, known dependencies, no dependency cycle, routes pointing at
// declared applications). All problems are reported at once:
//
//	m, err := config.Load("platform.yaml")
//	for _, p := range config.Problems(errors.Unwrap(err)) {
//	    fmt.Println(p)
//	}
//
// Levels builds the Level Graph handed to the engine and Services lists
// the services in creation order.
//
// # Watching
//
// Watch reloads a manifest whenever its file changes.
//
// # Settings
//
// Settings are read with viper from $HOME/.froyo/config.yaml (or an
// explicit file) and FROYO_* environment variables.
package config
