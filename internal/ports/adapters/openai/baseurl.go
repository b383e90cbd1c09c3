package openai

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	// AzureAPIVersion is the first Azure OpenAI API version serving
	// /audio/speech.
	AzureAPIVersion = "2024-02-15-preview"

	azureHostSuffix = ".openai.azure.com"
	speechPath      = "/audio/speech"
)

var defaultAllowedHosts = []string{"api.openai.com"}

// Endpoint is a speech API base URL that passed ValidateBaseURL.
type Endpoint struct {
	BaseURL string
	Host    string
	// Azure endpoints address the model as a deployment and authenticate
	// with an api-key header instead of a bearer token.
	Azure bool
	// Local is a loopback server (a self-hosted TTS service); plain http is
	// accepted only for these.
	Local bool
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ParseEndpoint classifies baseURL and rejects endpoints that would leak the
// API key or could not serve speech requests. allowedHosts holds exact hosts
// or "*.suffix" patterns; empty means api.openai.com only. Loopback and
// Azure hosts must be allowed explicitly like any other.
func ParseEndpoint(baseURL string, allowedHosts []string) (Endpoint, error) {
	baseURL = normalizeBaseURL(baseURL)

	u, err := url.Parse(baseURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: absolute URL with host is required", baseURL)
	}
	if u.User != nil {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: userinfo is not allowed", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: query and fragment are not allowed", baseURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: host is required", baseURL)
	}
	ep := Endpoint{BaseURL: baseURL, Host: host, Azure: isAzureHost(host), Local: isLoopback(host)}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !ep.Local {
			return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: https is required for non-loopback hosts", baseURL)
		}
	default:
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: https is required", baseURL)
	}

	path := strings.TrimRight(u.Path, "/")
	if strings.HasSuffix(path, speechPath) {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: drop the trailing %s, it is added per request", baseURL, speechPath)
	}
	if ep.Azure && path != "" {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: Azure endpoints must be the resource root (https://<resource>%s)", baseURL, azureHostSuffix)
	}

	if !hostAllowed(host, allowedHosts) {
		return Endpoint{}, fmt.Errorf("invalid OPENAI_BASE_URL %q: host %q is not in OPENAI_ALLOWED_HOSTS", baseURL, host)
	}
	return ep, nil
}

// ValidateBaseURL reports whether ParseEndpoint accepts baseURL.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	_, err := ParseEndpoint(baseURL, allowedHosts)
	return err
}

// clientConfig builds the go-openai configuration for baseURL. Azure hosts
// get the deployment-style client; everything else speaks the OpenAI API.
func clientConfig(apiKey, baseURL string) goopenai.ClientConfig {
	baseURL = normalizeBaseURL(baseURL)
	if u, err := url.Parse(baseURL); err == nil && isAzureHost(strings.ToLower(u.Hostname())) {
		cfg := goopenai.DefaultAzureConfig(apiKey, baseURL)
		cfg.APIVersion = AzureAPIVersion
		return cfg
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return cfg
}

func isAzureHost(host string) bool {
	return strings.HasSuffix(host, azureHostSuffix) && len(host) > len(azureHostSuffix)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hostAllowed(host string, allowedHosts []string) bool {
	for _, pattern := range normalizeAllowedHosts(allowedHosts) {
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

func normalizeAllowedHosts(allowedHosts []string) []string {
	out := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if v == "" {
			continue
		}
		if hp, _, err := net.SplitHostPort(v); err == nil {
			v = hp
		}
		out = append(out, strings.Trim(v, "[]"))
	}
	if len(out) == 0 {
		return defaultAllowedHosts
	}
	return out
}
