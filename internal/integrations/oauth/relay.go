package oauth

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
)

// relayTemplate posts the exchange result to the window that opened the
// popup. The target origin is pinned on both sides: postMessage targets the
// configured origin only, and the script refuses to run without an opener.
var relayTemplate = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html>
<head><title>Connecting…</title></head>
<body>
<script>
(function () {
  var payload = {{.PayloadJSON}};
  var origin = {{.Origin}};
  if (window.opener && origin) {
    window.opener.postMessage(payload, origin);
    window.close();
  } else {
    document.body.textContent = "You can close this window.";
  }
})();
</script>
</body>
</html>
`))

// RelayPayload is what the popup posts back to the dashboard.
type RelayPayload struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RenderRelayPage produces the HTML page the OAuth callback serves when the
// flow ran in a popup. The result reaches the opener via an origin-checked
// message, never a navigation.
func RenderRelayPage(allowedOrigin string, payload RelayPayload) (string, error) {
	if payload.Type == "" {
		payload.Type = "oauth-result"
	}

	origin := strings.TrimSuffix(allowedOrigin, "/")
	if origin == "" {
		return "", fmt.Errorf("allowed origin cannot be empty")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling relay payload: %w", err)
	}

	var b strings.Builder
	err = relayTemplate.Execute(&b, struct {
		PayloadJSON template.JS
		Origin      string
	}{
		PayloadJSON: template.JS(data),
		Origin:      origin,
	})
	if err != nil {
		return "", fmt.Errorf("rendering relay page: %w", err)
	}
	return b.String(), nil
}
