// Package deps locates optional external tools.
package deps

import (
	"fmt"
	"os"
	"os/exec"
)

// BrokerClients are the consumer CLIs probed by FindBroker, in order.
var BrokerClients = []string{"kcat", "kafkacat"}

// FindCommand resolves name as a path or a PATH lookup.
func FindCommand(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty command")
	}
	if st, err := os.Stat(name); err == nil && !st.IsDir() {
		return name, nil
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("could not find %q in PATH", name)
	}
	return p, nil
}

// FindBroker returns customPath if given, else the first broker CLI in PATH.
func FindBroker(customPath string) (string, error) {
	if customPath != "" {
		return FindCommand(customPath)
	}
	for _, name := range BrokerClients {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no broker client found in PATH (tried %v); install kcat to stream from a topic", BrokerClients)
}
