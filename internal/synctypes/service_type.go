package synctypes

import (
	"fmt"
	"strings"
)

// ServiceType partitions the store. Each service type has its own files and its own lock.
type ServiceType string

const (
	Contemporary ServiceType = "Contemporary"
	Traditional  ServiceType = "Traditional"
)

var ServiceTypes = []ServiceType{Contemporary, Traditional}

// ParseServiceType accepts a service type name in any case
func ParseServiceType(s string) (ServiceType, error) {
	for _, st := range ServiceTypes {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown service type %q", ErrInvalidManifest, s)
}

func (s ServiceType) Valid() bool {
	_, err := ParseServiceType(string(s))
	return err == nil
}

func (s ServiceType) String() string {
	return string(s)
}
