package commsutil

import (
	"fmt"
	"strings"
)

// Subject layout: one call subject and one metadata subject per service.
// The metadata subject serves the discovery handshake; the call subject
// carries every dispatched call.
const (
	subjectPrefix  = "laz.rpc"
	callSuffix     = "call"
	metadataSuffix = "metadata"
	DefaultService = "default"
)

// BuildCallSubject builds the call subject for a service.
func BuildCallSubject(service string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, safeToken(service), callSuffix)
}

// BuildMetadataSubject builds the discovery subject for a service.
func BuildMetadataSubject(service string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, safeToken(service), metadataSuffix)
}

// safeToken normalizes a service name into a single subject token.
func safeToken(service string) string {
	if service == "" {
		service = DefaultService
	}
	service = strings.ReplaceAll(service, ".", "_")
	return strings.ReplaceAll(service, " ", "_")
}
