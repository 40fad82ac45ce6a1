package autoextract

import (
	"errors"
	"fmt"
	"net/http"
	"os"
)

// EnvAPIKey is the environment variable consulted when no API key is passed
// explicitly to NewClient or APIKey.
const EnvAPIKey = "ZYTE_AUTOEXTRACT_KEY"

// NoApiKey is returned by APIKey when neither an explicit key nor the
// environment variable yields a non-empty value.
var NoApiKey = errors.New("autoextract: no API key: pass one explicitly or set " + EnvAPIKey)

// APIKey resolves the API key to use: explicit if non-empty, otherwise the
// ZYTE_AUTOEXTRACT_KEY environment variable. Returns NoApiKey if neither
// source yields a non-empty string.
func APIKey(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvAPIKey); env != "" {
		return env, nil
	}
	return "", NoApiKey
}

// libVersion is the module's own version string, embedded in the User-Agent.
// Bumped by hand on release; there is no build-time stamping in this repo.
const libVersion = "0.1.0"

// transportNamer is implemented by transports that want to identify
// themselves in the composed User-Agent header. hedgedhttp's RoundTripper
// does not implement this today, so userAgent labels it by its Go type name;
// a custom http.RoundTripper may implement it to be named precisely.
type transportNamer interface {
	TransportName() (name, version string)
}

// userAgent composes "zyte-autoextract/<lib-version> <transport>/<version>".
// When client is nil or its Transport is nil, the transport segment is
// "net/http"; a Transport that does not self-report a name is labeled by its
// Go type (as printed by %T). The "/<version>" suffix is omitted when no
// version is known.
func userAgent(client *http.Client) string {
	name, version := "net/http", ""
	if client != nil {
		if named, ok := client.Transport.(transportNamer); ok {
			name, version = named.TransportName()
		} else if client.Transport != nil {
			name = fmt.Sprintf("%T", client.Transport)
		}
	}
	if version == "" {
		return fmt.Sprintf("zyte-autoextract/%s %s", libVersion, name)
	}
	return fmt.Sprintf("zyte-autoextract/%s %s/%s", libVersion, name, version)
}
