package harvester

import (
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TestHTTPClientUsesOtelTransport verifies the harvester's HTTP client
// is instrumented with otelhttp.Transport for trace propagation
func TestHTTPClientUsesOtelTransport(t *testing.T) {
	h := New(DefaultConfig(), nil, nil, nil, nil, nil)

	// Verify the HTTP client's transport is wrapped with otelhttp
	_, ok := h.httpClient.Transport.(*otelhttp.Transport)
	if !ok {
		t.Error("❌ Harvester HTTP client does not use otelhttp.Transport for trace propagation")
		t.Error("   This will cause traces to 'go dead' when fetching source pages")
	} else {
		t.Log("✅ Harvester HTTP client correctly uses otelhttp.Transport")
		t.Log("   Trace context will be propagated when fetching source pages")
	}
}
