package netutil

import (
	"errors"
	"fmt"
	"net"
)

// SelectBindAddr returns the preferred address when it can be listened
// on, otherwise walks the candidate list when autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	tryAddrs := []string{}
	if preferred != "" {
		tryAddrs = append(tryAddrs, preferred)
	}
	if autoFallback || preferred == "" {
		tryAddrs = append(tryAddrs, candidates...)
	}

	for _, addr := range tryAddrs {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
		if addr == preferred && !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	return "", errors.New("no available bind addresses")
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
